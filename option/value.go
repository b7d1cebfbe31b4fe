package option

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrFormat is the sentinel for an option value that fails the
// format/length rules of its registered kind. No function in this module
// returns it: Decode demotes every such value to Opaque, whether the
// option is critical or elective.
var ErrFormat = errors.New("option: value does not match registered format")

// Kind tags the four value variants a CoAP option can hold (RFC 7252 section 3.2).
type Kind uint8

const (
	KindEmpty Kind = iota
	KindOpaque
	KindString
	KindUint
)

// Value is a tagged variant over an option's decoded form. Exactly one of
// the accessors below is meaningful for a given Kind; AsBytes always
// returns the canonical wire bytes regardless of Kind.
type Value struct {
	kind Kind
	b    []byte
	u    uint64
}

// Empty returns the zero-length option value.
func Empty() Value {
	return Value{kind: KindEmpty}
}

// Opaque returns an opaque-byte-string option value.
func Opaque(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindOpaque, b: cp}
}

// String returns a UTF-8 string option value.
func String(s string) Value {
	return Value{kind: KindString, b: []byte(s)}
}

// Uint returns an unsigned-integer option value.
func Uint(v uint64) Value {
	return Value{kind: KindUint, u: v, b: encodeUint(v)}
}

// Kind reports which variant this value holds.
func (v Value) Kind() Kind {
	return v.kind
}

// AsBytes returns the minimal wire encoding of the value.
func (v Value) AsBytes() []byte {
	switch v.kind {
	case KindUint:
		return encodeUint(v.u)
	default:
		cp := make([]byte, len(v.b))
		copy(cp, v.b)
		return cp
	}
}

// AsString interprets the raw bytes as a UTF-8 string regardless of kind.
func (v Value) AsString() string {
	if v.kind == KindUint {
		return string(encodeUint(v.u))
	}
	return string(v.b)
}

// AsUint decodes the raw bytes as a big-endian unsigned integer regardless
// of kind. Empty bytes decode to zero, matching the wire rule for Uint options.
func (v Value) AsUint() uint64 {
	if v.kind == KindUint {
		return v.u
	}
	return decodeUint(v.b)
}

// Len returns the length in bytes of the wire encoding.
func (v Value) Len() int {
	if v.kind == KindUint {
		return len(encodeUint(v.u))
	}
	return len(v.b)
}

// fromWire builds a Value of the given format from raw wire bytes. Callers
// are expected to have already checked min/max length against the registry;
// fromWire never fails — any format can be represented as opaque bytes,
// which is the fallback the decoder uses for a malformed registered value.
func fromWire(format Format, raw []byte) Value {
	switch format {
	case FormatEmpty:
		return Value{kind: KindEmpty}
	case FormatUint:
		return Value{kind: KindUint, u: decodeUint(raw), b: append([]byte(nil), raw...)}
	case FormatString:
		return Value{kind: KindString, b: append([]byte(nil), raw...)}
	default:
		return Value{kind: KindOpaque, b: append([]byte(nil), raw...)}
	}
}

// encodeUint returns the minimum number of big-endian bytes representing v;
// zero encodes as an empty byte string (RFC 7252 section 3.2).
func encodeUint(v uint64) []byte {
	if v == 0 {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	i := 0
	for i < len(buf)-1 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// decodeUint reads 0..8 bytes big-endian; an empty slice decodes to zero.
func decodeUint(b []byte) uint64 {
	var buf [8]byte
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}
