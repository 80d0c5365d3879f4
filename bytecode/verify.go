package bytecode

import "github.com/pkg/errors"

// ErrInvalidProgram is the generic error the VM surfaces for any
// validation failure (spec.md §7: "rejected before execution with a
// generic 'invalid binary' message").
var ErrInvalidProgram = errors.New("bytecode: invalid program")

// Verify walks the opcode buffer once, classifying each instruction by its
// argShape the way a bcArgType-driven verifier does, and checks the
// invariants spec.md §4.6 lists: jump targets land on instruction
// boundaries, cmdhead/cmdtail nest correctly, and string/native indices
// stay in range. The module terminator is checked by DecodeModule, not
// here.
func (p *Program) Verify() error {
	boundaries := make(map[int]bool, len(p.Code)/2)
	var jumpSites []int
	var jumpPCs []int
	depth := 0

	pc := 0
	for pc < len(p.Code) {
		ins, n, err := Decode(p.Code, pc)
		if err != nil {
			return errors.Wrapf(ErrInvalidProgram, "at pc %d: %v", pc, err)
		}
		boundaries[pc] = true

		if ins.Op.IsControlFlow() {
			jumpSites = append(jumpSites, pc+n)
			jumpPCs = append(jumpPCs, pc)
		}
		switch ins.Op {
		case OpCmdhead:
			depth++
		case OpCmdtail:
			depth--
			if depth < 0 {
				return errors.Wrapf(ErrInvalidProgram, "unmatched cmdtail at pc %d", pc)
			}
		}
		if shapes[ins.Op].hasStrIdx && int(ins.Index) >= len(p.Strings) {
			return errors.Wrapf(ErrInvalidProgram, "string index %d out of range at pc %d", ins.Index, pc)
		}
		if shapes[ins.Op].hasNative && int(ins.Index) >= len(p.Natives) {
			return errors.Wrapf(ErrInvalidProgram, "native index %d out of range at pc %d", ins.Index, pc)
		}
		pc += n
	}
	if depth != 0 {
		return errors.Wrap(ErrInvalidProgram, "unbalanced cmdhead/cmdtail nesting")
	}

	for i, site := range jumpSites {
		ins, _, _ := Decode(p.Code, jumpPCs[i])
		target := site + int(ins.Arg)
		if target != len(p.Code) && !boundaries[target] {
			return errors.Wrapf(ErrInvalidProgram, "jump at pc %d targets non-instruction offset %d", jumpPCs[i], target)
		}
	}

	for _, pc := range callTargets(p.Code, boundaries) {
		ins, _, _ := Decode(p.Code, pc)
		if ins.Op != OpCmdhead {
			return errors.Wrapf(ErrInvalidProgram, "call target at pc %d is not a cmdhead", pc)
		}
	}
	return nil
}

// callTargets returns the PC of every instruction a Call/ReturnTail
// instruction resolves to, for the "call target must be a cmdhead" check.
func callTargets(code []byte, boundaries map[int]bool) []int {
	var targets []int
	pc := 0
	for pc < len(code) {
		ins, n, err := Decode(code, pc)
		if err != nil {
			return targets
		}
		if ins.Op == OpCall || ins.Op == OpReturnTail {
			t := pc + n + int(ins.Arg)
			if boundaries[t] {
				targets = append(targets, t)
			}
		}
		pc += n
	}
	return targets
}
