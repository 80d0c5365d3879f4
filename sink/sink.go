// Package sink is the top-level embedder's façade: spec.md §2 describes a
// script as owning "a lexer, a parser, a symbol table, and a program",
// wiring lexer -> parser -> compiler -> bytecode behind a single Script
// type, and spec.md §5's execution half (a Program may be run by any
// number of independent Contexts) behind a thin Context wrapper around
// vm.Context. Grounded on the teacher's gvm.go top-level constructors
// (NewVirtualMachine/LoadAndRun) generalized from "load one file, run it"
// into "compile incrementally, run many times against the same program".
package sink

import (
	"github.com/pkg/errors"

	"sink/ast"
	"sink/bytecode"
	"sink/compiler"
	"sink/host"
	"sink/lexer"
	"sink/parser"
	"sink/vm"
)

// Script accumulates compiled bytecode from one or more source chunks,
// matching spec.md §2's incremental compile model (a REPL or an `include`
// chain feeds it statement by statement).
type Script struct {
	prog    *bytecode.Program
	comp    *compiler.Compiler
	natives *host.Natives
}

// NewScript returns an empty Script, resolving include/embed/using paths
// through includer (nil disables them) and isnative/native-call names
// against natives (nil disables native calls).
func NewScript(includer host.Includer, natives *host.Natives) *Script {
	prog := bytecode.New()
	return &Script{
		prog:    prog,
		comp:    compiler.New(prog, includer, natives),
		natives: natives,
	}
}

// Compile lexes, parses, and compiles src in full, appending to the
// Script's accumulated Program. Each call is one "chunk" (spec.md §2); a
// later call can reference names declared in an earlier one, since the
// Script keeps one Compiler (and so one symbol table) across calls.
func (s *Script) Compile(src []byte) error {
	lex := lexer.New(src)
	p := parser.New(lex)
	stmts := p.ParseProgram()
	if err := p.Err(); err != nil {
		return errors.Wrap(err, "sink: parse error")
	}
	for _, stmt := range stmts {
		if err := s.compileStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Script) compileStmt(stmt ast.Stmt) error {
	if err := s.comp.CompileStatement(stmt); err != nil {
		return errors.Wrap(err, "sink: compile error")
	}
	return nil
}

// Finish closes out compilation: every `def`-declared command and every
// goto label must have been resolved by now (spec.md §4.4), and the
// resulting Program is validated structurally (spec.md §4.6) before it is
// handed to any vm.Context. Call once after the last Compile call.
func (s *Script) Finish() (*bytecode.Program, error) {
	if err := s.comp.Finish(); err != nil {
		return nil, errors.Wrap(err, "sink: unresolved declaration")
	}
	if err := s.prog.Verify(); err != nil {
		return nil, errors.Wrap(err, "sink: invalid program")
	}
	return s.prog, nil
}

// Natives exposes the registry the Script was built with, so a caller
// wiring a Context can install the matching vm.Options via
// host.WithNatives without holding a second reference of its own.
func (s *Script) Natives() *host.Natives { return s.natives }

// NewContext returns a fresh vm.Context bound to prog, pre-wired with the
// natives registry a Script was compiled against (if any) plus any
// additional opts the caller supplies (spec.md §5: "a Program may be run
// by any number of independent Contexts, each with its own heap, stack,
// and random state").
func NewContext(prog *bytecode.Program, natives *host.Natives, opts ...vm.Option) *vm.Context {
	var all []vm.Option
	if natives != nil {
		all = append(all, host.WithNatives(natives)...)
	}
	all = append(all, opts...)
	return vm.NewContext(prog, all...)
}

// Run compiles src as a standalone, one-shot script (no further Compile
// calls expected) and runs it to completion or suspension, a convenience
// wrapper over NewScript/Compile/Finish/NewContext/Run for the common
// "one file, one run" embedding (cmd/sinkrun's shape).
func Run(src []byte, includer host.Includer, natives *host.Natives, opts ...vm.Option) (*vm.Context, error) {
	s := NewScript(includer, natives)
	if err := s.Compile(src); err != nil {
		return nil, err
	}
	prog, err := s.Finish()
	if err != nil {
		return nil, err
	}
	ctx := NewContext(prog, natives, opts...)
	ctx.Run()
	return ctx, nil
}
