package vm

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"sink/value"
)

// structField is one decoded element of a struct.* format string, e.g.
// "u16" or ">f64" (endian prefix + type code), per sink.h's struct.*
// grammar (SPEC_FULL.md §3.1).
type structField struct {
	size   int
	signed bool
	float  bool
	order  binary.ByteOrder
}

// parseStructFormat turns a format string like "<u16 >f64 s8" into its
// field list. '<' = little-endian (default), '>' = big-endian, no prefix
// = native (treated as little-endian, matching the teacher's host
// platform assumption).
func parseStructFormat(format string) ([]structField, error) {
	var fields []structField
	order := binary.ByteOrder(binary.LittleEndian)
	i := 0
	for i < len(format) {
		c := format[i]
		switch c {
		case ' ', ',':
			i++
			continue
		case '<':
			order = binary.LittleEndian
			i++
			continue
		case '>':
			order = binary.BigEndian
			i++
			continue
		}
		kind := c
		i++
		size := 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			size = size*10 + int(format[i]-'0')
			i++
		}
		f := structField{order: order}
		switch kind {
		case 'u':
			f.size, f.signed = size/8, false
		case 's':
			f.size, f.signed = size/8, true
		case 'f':
			f.size, f.float = size/8, true
		default:
			return nil, errors.Errorf("struct format: unknown type code %q", kind)
		}
		if f.size != 1 && f.size != 2 && f.size != 4 && f.size != 8 {
			return nil, errors.Errorf("struct format: unsupported width %d", f.size*8)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// structSize returns the packed byte length a format string describes.
func structSize(format string) (int, error) {
	fields, err := parseStructFormat(format)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range fields {
		n += f.size
	}
	return n, nil
}

// structPack packs items (one per field) into bytes per format.
func structPack(format string, items []value.Value) ([]byte, error) {
	fields, err := parseStructFormat(format)
	if err != nil {
		return nil, err
	}
	if len(items) != len(fields) {
		return nil, errors.Errorf("struct.str: expected %d values, got %d", len(fields), len(items))
	}
	var buf []byte
	for i, f := range fields {
		v := items[i].Num()
		switch {
		case f.float && f.size == 4:
			b := make([]byte, 4)
			f.order.PutUint32(b, math.Float32bits(float32(v)))
			buf = append(buf, b...)
		case f.float && f.size == 8:
			b := make([]byte, 8)
			f.order.PutUint64(b, math.Float64bits(v))
			buf = append(buf, b...)
		default:
			u := uint64(int64(v))
			b := make([]byte, f.size)
			switch f.size {
			case 1:
				b[0] = byte(u)
			case 2:
				f.order.PutUint16(b, uint16(u))
			case 4:
				f.order.PutUint32(b, uint32(u))
			case 8:
				f.order.PutUint64(b, u)
			}
			buf = append(buf, b...)
		}
	}
	return buf, nil
}

// structUnpack is the inverse of structPack.
func structUnpack(format string, data []byte) ([]value.Value, error) {
	fields, err := parseStructFormat(format)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, len(fields))
	pos := 0
	for i, f := range fields {
		if pos+f.size > len(data) {
			return nil, errors.New("struct.list: truncated input")
		}
		chunk := data[pos : pos+f.size]
		pos += f.size
		switch {
		case f.float && f.size == 4:
			out[i] = value.Number(float64(math.Float32frombits(f.order.Uint32(chunk))))
		case f.float && f.size == 8:
			out[i] = value.Number(math.Float64frombits(f.order.Uint64(chunk)))
		case f.signed:
			var n int64
			switch f.size {
			case 1:
				n = int64(int8(chunk[0]))
			case 2:
				n = int64(int16(f.order.Uint16(chunk)))
			case 4:
				n = int64(int32(f.order.Uint32(chunk)))
			case 8:
				n = int64(f.order.Uint64(chunk))
			}
			out[i] = value.Number(float64(n))
		default:
			var n uint64
			switch f.size {
			case 1:
				n = uint64(chunk[0])
			case 2:
				n = uint64(f.order.Uint16(chunk))
			case 4:
				n = uint64(f.order.Uint32(chunk))
			case 8:
				n = f.order.Uint64(chunk)
			}
			out[i] = value.Number(float64(n))
		}
	}
	return out, nil
}

// utf8Encode renders a list of Unicode code points as UTF-8 bytes.
func utf8Encode(points []value.Value) ([]byte, error) {
	var buf []byte
	for _, p := range points {
		if !p.IsNum() {
			return nil, errors.New("utf8.encode: non-number code point")
		}
		buf = append(buf, []byte(string(rune(int32(p.Num()))))...)
	}
	return buf, nil
}

// utf8Decode parses UTF-8 bytes into a list of Unicode code points.
func utf8Decode(b []byte) []value.Value {
	out := make([]value.Value, 0, len(b))
	for _, r := range string(b) {
		out = append(out, value.Number(float64(r)))
	}
	return out
}
