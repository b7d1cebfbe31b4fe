package message

// Wire primitives shared by the option header codec (RFC 7252 section 3.1):
// the 4-bit delta/length nibble fields, each optionally extended by one or
// two following bytes.

const (
	extByteCode   = 13
	extByteAddend = 13
	extWordCode   = 14
	extWordAddend = 269
	extReserved   = 15
)

// extendNibble splits value into the 4-bit nibble written into the option
// header byte and the extra bytes (0, 1, or 2) that follow it, choosing the
// smallest representation per RFC 7252 section 3.1 figure 8.
func extendNibble(value int) (nibble int, ext []byte) {
	switch {
	case value < extByteAddend:
		return value, nil
	case value < extWordAddend:
		return extByteCode, []byte{byte(value - extByteAddend)}
	default:
		v := value - extWordAddend
		return extWordCode, []byte{byte(v >> 8), byte(v & 0xff)}
	}
}

// readExtendedNibble resolves a raw 4-bit nibble read from an option header
// byte against the following bytes in b, returning the decoded value and
// the number of extra bytes consumed. nibble == 15 is reserved and is the
// caller's responsibility to reject.
//
// Per the parenthesized form required for the word-extension case:
// value = ((b1<<8) | b2) + 269.
func readExtendedNibble(nibble int, b []byte) (value int, consumed int, err error) {
	switch nibble {
	case extByteCode:
		if len(b) < 1 {
			return 0, 0, errTruncated
		}
		return int(b[0]) + extByteAddend, 1, nil
	case extWordCode:
		if len(b) < 2 {
			return 0, 0, errTruncated
		}
		return ((int(b[0]) << 8) | int(b[1])) + extWordAddend, 2, nil
	default:
		return nibble, 0, nil
	}
}
