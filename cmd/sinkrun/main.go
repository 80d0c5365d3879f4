// Command sinkrun is a minimal example embedding of the sink package: it
// compiles and runs a single source file against a stdout/stdin IO
// collaborator and an Includer rooted at the file's directory, matching
// spec.md §6's IO contract and §5's one-shot execution model. It is not a
// general-purpose CLI (no flags, no REPL, no debugger) — those belong to
// a real embedder, not to this example.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"sink/host"
	"sink/sink"
	"sink/vm"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sinkrun <file>.sink")
		os.Exit(1)
	}
	path := os.Args[1]

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sinkrun:", err)
		os.Exit(1)
	}

	includer := host.NewCachingIncluder(host.NewFileIncluder(filepath.Dir(path)), 64)
	natives := host.NewNatives()

	script := sink.NewScript(includer, natives)
	if err := script.Compile(src); err != nil {
		fmt.Fprintln(os.Stderr, "sinkrun:", err)
		os.Exit(1)
	}
	prog, err := script.Finish()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sinkrun:", err)
		os.Exit(1)
	}

	io := newStdIO()
	ctx := sink.NewContext(prog, natives, vm.WithIO(io))
	io.bind(ctx)

	ctx.Run()
	for ctx.Status() == vm.StatusAsync {
		ctx.Resume()
	}

	if ctx.Status() == vm.StatusFailed {
		fmt.Fprintln(os.Stderr, "sinkrun: runtime error:", ctx.Err())
		os.Exit(1)
	}
}

// stdIO answers say/warn/ask against the process's standard streams.
// ask's response must be interned into the running Context's string
// pool, so bind wires the back-reference once the Context exists — the
// two are constructed in opposite orders (IO is a vm.Option, supplied
// before NewContext returns).
type stdIO struct {
	ctx   *vm.Context
	stdin *bufio.Reader
}

func newStdIO() *stdIO {
	return &stdIO{stdin: bufio.NewReader(os.Stdin)}
}

func (s *stdIO) bind(ctx *vm.Context) { s.ctx = ctx }

func (s *stdIO) Say(msg string) *vm.Wait {
	fmt.Fprintln(os.Stdout, msg)
	return vm.Fulfilled(s.ctx.NewString(""))
}

func (s *stdIO) Warn(msg string) *vm.Wait {
	fmt.Fprintln(os.Stderr, msg)
	return vm.Fulfilled(s.ctx.NewString(""))
}

func (s *stdIO) Ask(prompt string) *vm.Wait {
	if prompt != "" {
		fmt.Fprint(os.Stdout, prompt)
	}
	line, _ := s.stdin.ReadString('\n')
	line = trimNewline(line)
	return vm.Fulfilled(s.ctx.NewString(line))
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
