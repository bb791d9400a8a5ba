// Package leb128 implements the LEB128 and bounded-read primitives that the
// DWARF parsers in this module build on. Every reader here returns an error
// instead of panicking so that a malformed .debug_* section degrades to a
// partial parse rather than crashing the debugger.
package leb128

import (
	"encoding/binary"
	"errors"
)

// ErrUnexpectedEOF is returned when a read runs past the end of the buffer.
var ErrUnexpectedEOF = errors.New("leb128: unexpected end of data")

// ErrOverflow is returned when a ULEB128/SLEB128 encodes a value wider than
// 64 bits.
var ErrOverflow = errors.New("leb128: value overflows 64 bits")

// Reader is a cursor over a borrowed byte slice. It never copies the
// underlying buffer; callers that need the buffer to outlive the section it
// came from must keep the section alive themselves.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// SeekTo repositions the cursor to an absolute offset.
func (r *Reader) SeekTo(off int) { r.pos = off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Bytes returns the unread portion of the buffer (borrowed, not copied).
func (r *Reader) Bytes() []byte { return r.buf[r.pos:] }

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads and returns n raw bytes (a borrowed view into buf).
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadAddress reads an address-sized (4 or 8 byte) little-endian value.
func (r *Reader) ReadAddress(addrSize int) (uint64, error) {
	switch addrSize {
	case 4:
		v, err := r.ReadU32()
		return uint64(v), err
	case 8:
		return r.ReadU64()
	default:
		return 0, errors.New("leb128: unsupported address size")
	}
}

// ReadCString reads a NUL-terminated string.
func (r *Reader) ReadCString() (string, error) {
	start := r.pos
	for {
		if r.pos >= len(r.buf) {
			return "", ErrUnexpectedEOF
		}
		if r.buf[r.pos] == 0 {
			s := string(r.buf[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
}

// ReadULEB128 decodes an unsigned LEB128 integer, failing if the encoding
// would require more than 70 bits (10 continuation groups of 7 bits) or the
// decoded value does not fit in 64 bits.
func (r *Reader) ReadULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift < 64 {
			if shift == 63 && b&0x7e != 0 {
				return 0, ErrOverflow
			}
			result |= uint64(b&0x7f) << shift
		} else if b&0x7f != 0 {
			return 0, ErrOverflow
		}
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrOverflow
}

// ReadSLEB128 decodes a signed LEB128 integer with sign extension based on
// the terminating byte's bit 6.
func (r *Reader) ReadSLEB128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for i := 0; i < 10; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && (b&0x40) != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, ErrOverflow
}

// DecodeULEB128 is a free function form for callers that only have a slice
// and want the value plus the number of bytes consumed.
func DecodeULEB128(buf []byte) (uint64, int, error) {
	r := NewReader(buf)
	v, err := r.ReadULEB128()
	if err != nil {
		return 0, 0, err
	}
	return v, r.Pos(), nil
}

// DecodeSLEB128 is the signed counterpart of DecodeULEB128.
func DecodeSLEB128(buf []byte) (int64, int, error) {
	r := NewReader(buf)
	v, err := r.ReadSLEB128()
	if err != nil {
		return 0, 0, err
	}
	return v, r.Pos(), nil
}
