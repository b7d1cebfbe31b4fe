package message

import (
	"testing"

	"github.com/lobaro/go-coap-core/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmptyConfirmable(t *testing.T) {
	data := []byte{0x40, 0x00, 0x00, 0x00}
	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Confirmable, m.Type)
	assert.Equal(t, Empty, m.Code)
	assert.EqualValues(t, 0, m.MessageID)
	assert.Empty(t, m.Token)
	assert.Zero(t, m.Options.Len())
	assert.Empty(t, m.Payload)
}

func TestEncodeEmptyConfirmable(t *testing.T) {
	m := New()
	m.Type = Confirmable
	m.Code = Empty
	m.MessageID = 0

	out, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x00, 0x00, 0x00}, out)
}

func TestDecodeConfirmableWithTwoByteTokenNoPayload(t *testing.T) {
	data := []byte{0x42, 0x00, 0x00, 0x00, 0x25, 0x2A}
	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x25, 0x2A}, m.Token)
	assert.Equal(t, Empty, m.Code)
	assert.EqualValues(t, 0, m.MessageID)
	assert.Empty(t, m.Payload)
}

func TestConfirmableGetWithPayload(t *testing.T) {
	data := []byte{0x41, 0x01, 0x00, 0x37, 0x99, 0xFF, 0x01, 0x02}
	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Confirmable, m.Type)
	assert.Equal(t, GET, m.Code)
	assert.EqualValues(t, 0x0037, m.MessageID)
	assert.Equal(t, []byte{0x99}, m.Token)
	assert.Equal(t, []byte{0x01, 0x02}, m.Payload)

	out, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestConfirmablePostWithTwoUriPathsAndQuery(t *testing.T) {
	data := []byte{
		0x40, 0x02, 0x00, 0x37,
		0xB2, 0x31, 0x61, // Uri-Path "1a"
		0x04, 0x74, 0x65, 0x6D, 0x70, // Uri-Path "temp"
		0x4D, 0x1B, // Uri-Query len-extension header (delta 4, length 13+0x1B=40)
		0x61, 0x33, 0x32, 0x63, 0x38, 0x35, 0x62, 0x61, 0x39, 0x64, 0x64, 0x61,
		0x34, 0x35, 0x38, 0x32, 0x33, 0x62, 0x65, 0x34, 0x31, 0x36, 0x32, 0x34,
		0x36, 0x63, 0x66, 0x38, 0x62, 0x34, 0x33, 0x33, 0x62, 0x61, 0x61, 0x30,
		0x36, 0x38, 0x64, 0x37,
		0xFF, 0x39, 0x39,
	}

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Confirmable, m.Type)
	assert.Equal(t, POST, m.Code)
	assert.EqualValues(t, 0x0037, m.MessageID)
	assert.Empty(t, m.Token)

	paths := m.Options.GetAll(option.URIPath)
	if assert.Len(t, paths, 2) {
		assert.Equal(t, "1a", paths[0].AsString())
		assert.Equal(t, "temp", paths[1].AsString())
	}

	queries := m.Options.GetAll(option.URIQuery)
	if assert.Len(t, queries, 1) {
		assert.Equal(t, "a32c85ba9dda45823be416246cf8b433baa068d7", queries[0].AsString())
	}

	assert.Equal(t, []byte("99"), m.Payload)

	out, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeRoundTripsThroughEncode(t *testing.T) {
	m := New()
	m.Type = Confirmable
	m.Code = POST
	m.MessageID = 0x0037
	m.Options.PushString(option.URIPath, "1a")
	m.Options.PushString(option.URIPath, "temp")
	m.Options.PushString(option.URIQuery, "a32c85ba9dda45823be416246cf8b433baa068d7")
	m.Payload = []byte("99")

	encoded, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestTokenLengthBoundary(t *testing.T) {
	for _, n := range []int{0, 1, 8} {
		m := New()
		m.Token = make([]byte, n)
		_, err := Encode(m)
		assert.NoErrorf(t, err, "token length %d should be accepted", n)
	}

	m := New()
	m.Token = make([]byte, 9)
	_, err := Encode(m)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeRejectsBadTokenLength(t *testing.T) {
	data := []byte{0x49, 0x00, 0x00, 0x00}
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeRejectsShortDatagram(t *testing.T) {
	_, err := Decode([]byte{0x40, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeRejectsBareTrailingPayloadMarker(t *testing.T) {
	data := []byte{0x40, 0x00, 0x00, 0x00, 0xFF}
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeRejectsReservedOptionNibble(t *testing.T) {
	data := []byte{0x40, 0x00, 0x00, 0x00, 0xF0}
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestOptionDeltaEncodingCases(t *testing.T) {
	cases := []option.Number{5, 100, 5000}
	for _, num := range cases {
		m := New()
		m.Options.PushOpaque(num, []byte{0x01})
		out, err := Encode(m)
		require.NoError(t, err)

		decoded, err := Decode(out)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01}, decoded.Options.GetAll(num)[0].AsBytes())
	}
}

func TestOptionLengthEncodingCases(t *testing.T) {
	for _, n := range []int{0, 12, 13, 268, 269, 999} {
		m := New()
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}
		m.Options.PushOpaque(option.IfMatch, payload)
		out, err := Encode(m)
		require.NoError(t, err)

		decoded, err := Decode(out)
		require.NoError(t, err)
		assert.Equal(t, payload, decoded.Options.GetAll(option.IfMatch)[0].AsBytes())
	}
}

func TestDuplicateOptionNumbersRoundTripPreservingOrder(t *testing.T) {
	m := New()
	m.Options.PushString(option.URIPath, "a")
	m.Options.PushString(option.URIPath, "b")
	m.Options.PushString(option.URIPath, "c")

	out, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(out)
	require.NoError(t, err)

	got := decoded.Options.GetAll(option.URIPath)
	if assert.Len(t, got, 3) {
		assert.Equal(t, "a", got[0].AsString())
		assert.Equal(t, "b", got[1].AsString())
		assert.Equal(t, "c", got[2].AsString())
	}
}

func TestUnknownOptionNumberRoundTripsAsOpaque(t *testing.T) {
	m := New()
	m.Options.PushOpaque(option.Number(9999), []byte{0xde, 0xad})

	out, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(out)
	require.NoError(t, err)

	vs := decoded.Options.GetAll(option.Number(9999))
	if assert.Len(t, vs, 1) {
		assert.Equal(t, option.KindOpaque, vs[0].Kind())
		assert.Equal(t, []byte{0xde, 0xad}, vs[0].AsBytes())
	}
}

func TestIterOrderingIsNonDecreasing(t *testing.T) {
	m := New()
	m.Options.PushUint(option.Observe, 1)
	m.Options.PushString(option.URIPath, "a")
	m.Options.PushOpaque(option.ETag, []byte{1})

	pairs := m.Options.Iter()
	for i := 1; i < len(pairs); i++ {
		assert.LessOrEqual(t, pairs[i-1].Number, pairs[i].Number)
	}
}
