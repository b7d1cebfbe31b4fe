package message

import (
	"bytes"
	"encoding/binary"

	"github.com/lobaro/go-coap-core/option"
)

const coapVersion1 = 1
const payloadMarker = 0xff

// Encode serializes m into its bit-exact CoAP wire form (RFC 7252 section 3).
// It returns ErrFormat if m.Token is longer than 8 bytes or any option
// number exceeds MaxOptionNumber.
func Encode(m *Message) ([]byte, error) {
	if len(m.Token) > MaxTokenLen {
		return nil, errBadTokenLen
	}

	buf := &bytes.Buffer{}
	buf.WriteByte((coapVersion1 << 6) | (uint8(m.Type) << 4) | uint8(len(m.Token)&0xf))
	buf.WriteByte(byte(m.Code))

	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], m.MessageID)
	buf.Write(mid[:])
	buf.Write(m.Token)

	if err := encodeOptions(buf, m.Options); err != nil {
		return nil, err
	}

	if len(m.Payload) > 0 {
		buf.WriteByte(payloadMarker)
		buf.Write(m.Payload)
	}

	return buf.Bytes(), nil
}

// encodeOptions writes every (number, value) pair of opts in the order
// Iter yields them -- ascending number, insertion-stable within a number --
// computing each option header's delta against the previously emitted number.
func encodeOptions(buf *bytes.Buffer, opts *option.Options) error {
	prev := 0
	for _, pair := range opts.Iter() {
		if pair.Number > MaxOptionNumber {
			return errOptionNumber
		}
		delta := int(pair.Number) - prev
		prev = int(pair.Number)

		raw := pair.Value.AsBytes()
		writeOptionHeader(buf, delta, len(raw))
		buf.Write(raw)
	}
	return nil
}

func writeOptionHeader(buf *bytes.Buffer, delta, length int) {
	dNibble, dExt := extendNibble(delta)
	lNibble, lExt := extendNibble(length)
	buf.WriteByte(byte(dNibble<<4) | byte(lNibble))
	buf.Write(dExt)
	buf.Write(lExt)
}

// Decode parses data into a Message, enforcing the frame grammar described
// in spec section 4.3. Decode errors are always ErrFormat; a registered
// option whose raw bytes fail format/length checks is never a decode
// error -- it is silently represented as an opaque value (see option.Decode).
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, errShortHeader
	}
	if data[0]>>6 != coapVersion1 {
		return nil, errBadVersion
	}

	m := New()
	m.Type = Type((data[0] >> 4) & 0x3)
	tkl := int(data[0] & 0xf)
	if tkl > MaxTokenLen {
		return nil, errBadTokenLen
	}
	m.Code = Code(data[1])
	m.MessageID = binary.BigEndian.Uint16(data[2:4])

	if len(data) < 4+tkl {
		return nil, errTruncated
	}
	if tkl > 0 {
		m.Token = append([]byte(nil), data[4:4+tkl]...)
	}

	rest := data[4+tkl:]
	payload, err := decodeOptions(m.Options, rest)
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	return m, nil
}

// decodeOptions walks the option section of a datagram, appending each
// decoded option to opts, and returns the payload bytes (if any) following
// the 0xFF marker.
func decodeOptions(opts *option.Options, b []byte) ([]byte, error) {
	running := 0
	for len(b) > 0 {
		if b[0] == payloadMarker {
			b = b[1:]
			if len(b) == 0 {
				return nil, errEmptyPayload
			}
			return b, nil
		}

		deltaNibble := int(b[0] >> 4)
		lengthNibble := int(b[0] & 0x0f)
		if deltaNibble == extReserved || lengthNibble == extReserved {
			return nil, errReservedNibble
		}
		b = b[1:]

		delta, n, err := readExtendedNibble(deltaNibble, b)
		if err != nil {
			return nil, err
		}
		b = b[n:]

		length, n, err := readExtendedNibble(lengthNibble, b)
		if err != nil {
			return nil, err
		}
		b = b[n:]

		if length >= 65000 {
			return nil, errOptionTooLong
		}
		if len(b) < length {
			return nil, errTruncated
		}

		number := option.Number(running + delta)
		running = int(number)

		raw := b[:length]
		b = b[length:]

		opts.Push(number, option.Decode(number, raw))
	}
	return nil, nil
}
