package vm

import (
	"github.com/pkg/errors"

	"sink/bytecode"
	"sink/value"
)

// Status is the outcome of a Run call.
type Status int

const (
	// StatusPassed means execution finished by falling off the end of the
	// program or an explicit exit(0).
	StatusPassed Status = iota
	// StatusFailed means an abort or a typed runtime error terminated the
	// context. It is a terminal state: future Run calls are no-ops.
	StatusFailed
	// StatusAsync means a host I/O call suspended execution on a pending
	// Wait; Run returns and the host must eventually call Resume.
	StatusAsync
	// StatusTimeout means the tick budget ran out; PC is preserved so a
	// follow-up Run resumes exactly where execution stopped.
	StatusTimeout
)

// IO is the host collaborator consumed by the VM (spec.md §6).
type IO interface {
	Say(s string) *Wait
	Warn(s string) *Wait
	Ask(prompt string) *Wait
}

// NativeFunc is a host-registered native command.
type NativeFunc func(c *Context, args []value.Value) (value.Value, *Wait, error)

// Option configures a Context at construction time, generalizing the
// teacher's `NewVirtualMachine(debug bool, files ...string)` constructor
// into a functional-options surface so host embedders can opt into only
// the pieces they need.
type Option func(*Context)

// WithIO installs the host I/O collaborator.
func WithIO(io IO) Option {
	return func(c *Context) { c.io = io }
}

// WithGCLevel sets the initial GC level (default LevelDefault).
func WithGCLevel(l value.Level) Option {
	return func(c *Context) { c.gc.SetLevel(l) }
}

// WithTimeout sets the initial tick budget (0 means unlimited).
func WithTimeout(ticks int) Option {
	return func(c *Context) { c.timeout = ticks }
}

// WithNative registers a host native command under its 64-bit hash.
func WithNative(hash uint64, fn NativeFunc) Option {
	return func(c *Context) { c.natives[hash] = fn }
}

// Context is one execution activation over a read-only, possibly
// shared Program: call stack, frame stack, value pools, GC, random
// state, timeout budget, and the error/status the last Run left behind.
// Grounded on the teacher's VM struct (vm/vm.go) — registers+stack+pc —
// generalized from a flat register array to the frame-indexed model
// spec.md §3/§4.6 describes, and split out from "program owner" (that's
// sink.Script) per spec.md §5's explicit read-only-shared-program policy.
type Context struct {
	Program *bytecode.Program

	frames *frameStack
	calls  []callRecord
	pc     int

	strings *value.StringPool
	lists   *value.ListPool
	gc      *value.GC
	pinned  map[value.Value]int // refcounted pin set

	rng *rngState

	timeout int
	status  Status
	err     error

	asyncTarget bytecode.RegRef
	asyncWait   *Wait

	io      IO
	natives map[uint64]NativeFunc
}

type callRecord struct {
	returnPC   int
	targetReg  bytecode.RegRef
	priorDepth int
}

// NewContext binds a Context to program, applying opts in order.
func NewContext(program *bytecode.Program, opts ...Option) *Context {
	strs := value.NewStringPool(len(program.Strings) + 16)
	for _, s := range program.Strings {
		strs.MarkPrelude(strs.Alloc([]byte(s)))
	}
	lists := value.NewListPool(16)
	c := &Context{
		Program: program,
		frames:  newFrameStack(),
		strings: strs,
		lists:   lists,
		gc:      value.NewGC(strs, lists, value.LevelDefault),
		pinned:  make(map[value.Value]int),
		rng:     newRNG(),
		natives: make(map[uint64]NativeFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status reports the outcome of the most recent Run call.
func (c *Context) Status() Status { return c.status }

// Err returns the runtime error from the last Run call, if the context
// failed.
func (c *Context) Err() error { return c.err }

// Pin prevents v's backing pool slot from being collected for as long as
// it stays pinned; pins are refcounted so nested host operations compose.
func (c *Context) Pin(v value.Value) {
	if v.IsStr() || v.IsList() {
		c.pinned[v]++
	}
}

// Unpin releases one pin on v.
func (c *Context) Unpin(v value.Value) {
	if c.pinned[v] > 0 {
		c.pinned[v]--
		if c.pinned[v] == 0 {
			delete(c.pinned, v)
		}
	}
}

// NewString interns s into this Context's string pool, for host IO (an
// Ask response) and native commands that need to hand a freshly-built
// string back into the running script (spec.md §6).
func (c *Context) NewString(s string) value.Value {
	return value.Str(c.strings.Alloc([]byte(s)))
}

// Run executes from the current PC until completion, failure,
// suspension on an async wait, or the tick budget (if any) is exhausted.
// Matches spec.md §5's scheduling model: single-threaded, cooperative,
// one tick per opcode.
func (c *Context) Run() Status {
	if c.status == StatusFailed || c.status == StatusPassed {
		return c.status // terminal: further Run calls are no-ops
	}
	if c.frames.Depth() == 0 {
		c.frames.Push()
		c.pc = 0
	}

	budget := c.timeout
	unlimited := budget <= 0

	for {
		if !unlimited {
			if budget <= 0 {
				c.status = StatusTimeout
				return c.status
			}
		}
		if c.pc >= len(c.Program.Code) {
			c.status = StatusPassed
			return c.status
		}

		ins, n, err := bytecode.Decode(c.Program.Code, c.pc)
		if err != nil {
			c.fail(err)
			return c.status
		}

		if c.gc.Tick(1) {
			c.runGC()
			if !unlimited {
				budget -= value.GCCost
			}
		}

		suspended, err := c.step(ins, n)
		if err != nil {
			c.fail(err)
			return c.status
		}
		if suspended {
			c.status = StatusAsync
			return c.status
		}
		if c.status == StatusPassed || c.status == StatusFailed {
			return c.status
		}
		if !unlimited {
			budget--
		}
	}
}

// Resume is called by the host once an async Wait the VM suspended on
// has a result; it writes the result into the pending register and
// re-enters Run.
func (c *Context) Resume() Status {
	if c.asyncWait == nil {
		return c.status
	}
	w := c.asyncWait
	c.asyncWait = nil
	w.Then(func(v value.Value) {
		c.frames.At(c.asyncTarget.Frame).Slots[c.asyncTarget.Slot] = v
	})
	return c.Run()
}

func (c *Context) fail(err error) {
	c.status = StatusFailed
	c.err = errors.WithStack(err)
}

func (c *Context) runGC() {
	c.gc.BeginCycle()
	for v := range c.pinned {
		c.gc.MarkValue(v)
	}
	c.frames.Each(func(f *Frame) {
		for _, v := range f.Slots {
			c.gc.MarkValue(v)
		}
	})
	c.gc.EndCycle()
}

// Abort moves the context to StatusFailed with msg as the error,
// matching spec.md §5's `abort` cancellation semantics.
func (c *Context) Abort(msg string) {
	c.fail(errors.New(msg))
}

// Exit moves the context to StatusPassed early, matching spec.md §5's
// `exit` cancellation semantics.
func (c *Context) Exit() {
	c.status = StatusPassed
}
