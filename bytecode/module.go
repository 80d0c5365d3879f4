package bytecode

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrBadMagic is returned by Decode when the leading 4 bytes don't match
// the module magic.
var ErrBadMagic = errors.New("bytecode: bad module magic")

// ErrTruncated is returned when the buffer ends before a declared section
// is fully present.
var ErrTruncated = errors.New("bytecode: truncated module")

var moduleMagic = [4]byte{0xFC, 0x53, 0x6B, 0x01}

const moduleTerminator = 0xFD

// EncodeModule serializes p into the binary module file format (spec.md
// §6): a fixed 28-byte header of little-endian uint32 counts/lengths,
// followed by the string table, native hash table, debug-string table,
// pos-table, cmd-table, and finally the opcode bytes and a terminator.
func EncodeModule(p *Program) []byte {
	var out []byte
	out = append(out, moduleMagic[:]...)
	out = appendU32(out, uint32(len(p.Strings)))
	out = appendU32(out, uint32(len(p.Natives)))
	out = appendU32(out, uint32(len(p.DebugStrings)))
	out = appendU32(out, uint32(len(p.Pos)))
	out = appendU32(out, uint32(len(p.Cmds)))
	out = appendU32(out, uint32(len(p.Code)))

	for _, s := range p.Strings {
		out = appendU32(out, uint32(len(s)))
		out = append(out, s...)
	}
	for _, hash := range p.Natives {
		out = appendU64(out, hash)
	}
	for _, s := range p.DebugStrings {
		out = appendU32(out, uint32(len(s)))
		out = append(out, s...)
	}
	for _, row := range p.Pos {
		out = appendU32(out, row.PC)
		out = appendU32(out, row.Line)
		out = appendU32(out, row.Char)
		out = appendU32(out, row.FileIdx)
	}
	for _, row := range p.Cmds {
		out = appendU32(out, row.PC)
		out = appendU32(out, row.HintIdx)
	}
	out = append(out, p.Code...)
	out = append(out, moduleTerminator)
	return out
}

// DecodeModule parses the binary module format back into a Program,
// validating the magic, every section's declared length against the
// buffer's actual remaining size, and the trailing terminator byte.
func DecodeModule(buf []byte) (*Program, error) {
	if len(buf) < 28 {
		return nil, errors.WithStack(ErrTruncated)
	}
	if [4]byte{buf[0], buf[1], buf[2], buf[3]} != moduleMagic {
		return nil, errors.WithStack(ErrBadMagic)
	}
	strCount := binary.LittleEndian.Uint32(buf[4:8])
	natCount := binary.LittleEndian.Uint32(buf[8:12])
	dbgCount := binary.LittleEndian.Uint32(buf[12:16])
	posCount := binary.LittleEndian.Uint32(buf[16:20])
	cmdCount := binary.LittleEndian.Uint32(buf[20:24])
	codeLen := binary.LittleEndian.Uint32(buf[24:28])

	cursor := 28
	p := &Program{}

	for i := uint32(0); i < strCount; i++ {
		s, next, err := readLenPrefixed(buf, cursor)
		if err != nil {
			return nil, err
		}
		p.Strings = append(p.Strings, s)
		cursor = next
	}
	for i := uint32(0); i < natCount; i++ {
		if cursor+8 > len(buf) {
			return nil, errors.WithStack(ErrTruncated)
		}
		p.Natives = append(p.Natives, binary.LittleEndian.Uint64(buf[cursor:cursor+8]))
		cursor += 8
	}
	for i := uint32(0); i < dbgCount; i++ {
		s, next, err := readLenPrefixed(buf, cursor)
		if err != nil {
			return nil, err
		}
		p.DebugStrings = append(p.DebugStrings, s)
		cursor = next
	}
	for i := uint32(0); i < posCount; i++ {
		if cursor+16 > len(buf) {
			return nil, errors.WithStack(ErrTruncated)
		}
		p.Pos = append(p.Pos, DebugPos{
			PC:      binary.LittleEndian.Uint32(buf[cursor : cursor+4]),
			Line:    binary.LittleEndian.Uint32(buf[cursor+4 : cursor+8]),
			Char:    binary.LittleEndian.Uint32(buf[cursor+8 : cursor+12]),
			FileIdx: binary.LittleEndian.Uint32(buf[cursor+12 : cursor+16]),
		})
		cursor += 16
	}
	for i := uint32(0); i < cmdCount; i++ {
		if cursor+8 > len(buf) {
			return nil, errors.WithStack(ErrTruncated)
		}
		p.Cmds = append(p.Cmds, DebugCmd{
			PC:      binary.LittleEndian.Uint32(buf[cursor : cursor+4]),
			HintIdx: binary.LittleEndian.Uint32(buf[cursor+4 : cursor+8]),
		})
		cursor += 8
	}
	if cursor+int(codeLen)+1 > len(buf) {
		return nil, errors.WithStack(ErrTruncated)
	}
	p.Code = append([]byte(nil), buf[cursor:cursor+int(codeLen)]...)
	cursor += int(codeLen)
	if buf[cursor] != moduleTerminator {
		return nil, errors.Wrap(ErrTruncated, "missing terminator byte")
	}
	return p, nil
}

func readLenPrefixed(buf []byte, at int) (string, int, error) {
	if at+4 > len(buf) {
		return "", 0, errors.WithStack(ErrTruncated)
	}
	n := int(binary.LittleEndian.Uint32(buf[at : at+4]))
	at += 4
	if at+n > len(buf) {
		return "", 0, errors.WithStack(ErrTruncated)
	}
	return string(buf[at : at+n]), at + n, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
