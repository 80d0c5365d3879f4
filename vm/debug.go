package vm

import (
	"fmt"
	"strings"

	"sink/bytecode"
	"sink/value"
)

// DumpState renders the current frame's registers, the call stack depth,
// and the next instruction about to execute. Adapted from the teacher's
// printCurrentState (main.go) — kept as a reusable library function
// rather than wired to a REPL, since the breakpoint debugger itself is
// out of scope, but a host CLI can still build one on top of this.
func (c *Context) DumpState() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pc=%d depth=%d status=%d\n", c.pc, c.frames.Depth(), c.status)
	if c.Program != nil && c.pc < len(c.Program.Code) {
		if ins, _, err := bytecode.Decode(c.Program.Code, c.pc); err == nil {
			fmt.Fprintf(&sb, "next=%s\n", ins.Op)
		}
	}
	if c.frames.Depth() == 0 {
		return sb.String()
	}
	f := c.frames.At(0)
	for i, slot := range f.Slots {
		if slot.IsNil() {
			continue
		}
		fmt.Fprintf(&sb, "  r0.%d = %s\n", i, value.DebugDump(slot))
	}
	return sb.String()
}
