// Package format renders raw target-memory bytes as human-readable typed
// values, driven by a DWARF base-type encoding and byte size.
package format

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DW_ATE base-type encodings.
const (
	EncAddress      = 0x01
	EncBoolean      = 0x02
	EncFloat        = 0x04
	EncSigned       = 0x05
	EncSignedChar   = 0x06
	EncUnsigned     = 0x07
	EncUnsignedChar = 0x08
)

// Placeholder strings for values that cannot be rendered.
const (
	OptimizedOut    = "<optimized out>"
	UnsupportedSize = "<unsupported size>"
)

// Value renders raw as a scalar of the given encoding and byte size. Empty
// input means the variable's location resolved to nothing.
func Value(raw []byte, encoding uint64, byteSize uint64) string {
	if len(raw) == 0 {
		return OptimizedOut
	}
	switch byteSize {
	case 1, 2, 4, 8:
	default:
		return UnsupportedSize
	}
	if uint64(len(raw)) < byteSize {
		return UnsupportedSize
	}
	raw = raw[:byteSize]

	switch encoding {
	case EncSigned, EncSignedChar:
		return fmt.Sprintf("%d", signed(raw))
	case EncUnsigned, EncUnsignedChar:
		return fmt.Sprintf("%d", unsigned(raw))
	case EncAddress:
		return fmt.Sprintf("0x%x", unsigned(raw))
	case EncBoolean:
		if raw[0] != 0 {
			return "true"
		}
		return "false"
	case EncFloat:
		switch byteSize {
		case 4:
			return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(raw)))
		case 8:
			return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(raw)))
		}
		return UnsupportedSize
	}
	// Unknown encodings fall back to a hex dump of the bytes read.
	return fmt.Sprintf("0x%x", unsigned(raw))
}

func unsigned(raw []byte) uint64 {
	var v uint64
	for i := len(raw) - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v
}

func signed(raw []byte) int64 {
	u := unsigned(raw)
	shift := 64 - uint(len(raw))*8
	return int64(u<<shift) >> shift
}

// Field describes one member of a struct for Struct: where it sits in the
// parent's byte image and how to render it.
type Field struct {
	Name     string
	Offset   uint64
	Encoding uint64
	ByteSize uint64
}

// Struct renders raw field-by-field as {name: value, ...}.
func Struct(raw []byte, fields []Field) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		if f.Offset+f.ByteSize > uint64(len(raw)) {
			sb.WriteString(OptimizedOut)
			continue
		}
		sb.WriteString(Value(raw[f.Offset:f.Offset+f.ByteSize], f.Encoding, f.ByteSize))
	}
	sb.WriteByte('}')
	return sb.String()
}

// Array renders raw as [v0, v1, ...] of count elements, each elemSize bytes
// with the given encoding.
func Array(raw []byte, encoding uint64, elemSize uint64, count int) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < count; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		off := uint64(i) * elemSize
		if off+elemSize > uint64(len(raw)) {
			sb.WriteString(OptimizedOut)
			continue
		}
		sb.WriteString(Value(raw[off:off+elemSize], encoding, elemSize))
	}
	sb.WriteByte(']')
	return sb.String()
}
