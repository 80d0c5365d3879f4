package compiler

import (
	"fmt"

	"github.com/pkg/errors"

	"sink/token"
)

// CompileError is a codegen-time error carrying the source position it was
// raised at, wrapped via github.com/pkg/errors so a Go stack trace is
// available during development without losing the sentinel shape errors.Is
// comparisons need (SPEC_FULL.md §1 ambient-stack note).
type CompileError struct {
	Pos token.Pos
	Msg string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func errCompile(pos token.Pos, msg string) error {
	return errors.WithStack(&CompileError{Pos: pos, Msg: msg})
}

func errCompilef(line int, format string, args ...any) error {
	return errors.WithStack(&CompileError{Pos: token.Pos{Line: line}, Msg: fmt.Sprintf(format, args...)})
}
