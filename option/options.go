package option

import (
	"sort"
	"unicode/utf8"
)

// Options is an ordered multimap from option Number to a sequence of
// Values. It preserves insertion order within a Number; Iter yields
// Numbers in non-decreasing order, which is the exact order the message
// codec requires for delta encoding (RFC 7252 section 3.1).
type Options struct {
	m map[Number][]Value
}

// New returns an empty options container.
func New() *Options {
	return &Options{m: make(map[Number][]Value)}
}

// Push appends v to the sequence of values under number, preserving the
// order values were pushed for that number.
func (o *Options) Push(number Number, v Value) {
	if o.m == nil {
		o.m = make(map[Number][]Value)
	}
	o.m[number] = append(o.m[number], v)
}

// PushOpaque pushes a raw opaque value under number. A convenience for
// callers that only have bytes on hand.
func (o *Options) PushOpaque(number Number, raw []byte) {
	o.Push(number, Opaque(raw))
}

// PushString pushes a UTF-8 string value under number.
func (o *Options) PushString(number Number, s string) {
	o.Push(number, String(s))
}

// PushUint pushes an unsigned integer value under number.
func (o *Options) PushUint(number Number, v uint64) {
	o.Push(number, Uint(v))
}

// GetAll returns the ordered values pushed under number, or nil if none.
func (o *Options) GetAll(number Number) []Value {
	if o == nil || o.m == nil {
		return nil
	}
	return o.m[number]
}

// Get returns the first value under number, and whether any value was present.
func (o *Options) Get(number Number) (Value, bool) {
	vs := o.GetAll(number)
	if len(vs) == 0 {
		return Value{}, false
	}
	return vs[0], true
}

// Has reports whether at least one value is present under number.
func (o *Options) Has(number Number) bool {
	return len(o.GetAll(number)) > 0
}

// Del removes all values under number.
func (o *Options) Del(number Number) {
	if o == nil || o.m == nil {
		return
	}
	delete(o.m, number)
}

// Set replaces any existing values under number with the single value v.
func (o *Options) Set(number Number, v Value) {
	o.Del(number)
	o.Push(number, v)
}

// Len returns the total count of values across all numbers.
func (o *Options) Len() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, vs := range o.m {
		n += len(vs)
	}
	return n
}

// Pair is one (number, value) entry as yielded by Iter, in wire order.
type Pair struct {
	Number Number
	Value  Value
}

// Iter returns every (number, value) pair in non-decreasing number order,
// insertion-stable within a number. This is the authoritative order used
// by the message encoder; there is no separate ordering check anywhere
// else in the codec.
func (o *Options) Iter() []Pair {
	if o == nil || len(o.m) == 0 {
		return nil
	}
	numbers := make([]Number, 0, len(o.m))
	for n := range o.m {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	pairs := make([]Pair, 0, o.Len())
	for _, n := range numbers {
		for _, v := range o.m[n] {
			pairs = append(pairs, Pair{Number: n, Value: v})
		}
	}
	return pairs
}

// Decode parses raw wire bytes for number according to the registry's
// declared format. A value that fails the registry's length bounds, or a
// string-format value that is not valid UTF-8, is returned as an Opaque
// value holding the raw bytes unchanged -- decoding an option value never
// fails the surrounding message, whether the option is critical or not.
func Decode(number Number, raw []byte) Value {
	def := Lookup(number)
	if len(raw) < def.MinLen || len(raw) > def.MaxLen {
		return Opaque(raw)
	}
	if def.Format == FormatString && !utf8.Valid(raw) {
		return Opaque(raw)
	}
	return fromWire(def.Format, raw)
}

// Equal reports whether o and other hold the same numbers, each mapping
// to value sequences equal in order and wire-byte content.
func (o *Options) Equal(other *Options) bool {
	a, b := o.Iter(), other.Iter()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Number != b[i].Number {
			return false
		}
		if string(a[i].Value.AsBytes()) != string(b[i].Value.AsBytes()) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of o.
func (o *Options) Clone() *Options {
	c := New()
	for _, p := range o.Iter() {
		c.Push(p.Number, p.Value)
	}
	return c
}
