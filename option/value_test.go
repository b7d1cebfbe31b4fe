package option

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUintEncodingIsMinimalBigEndian(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{0, nil},
		{1, []byte{1}},
		{255, []byte{0xff}},
		{256, []byte{0x01, 0x00}},
		{65535, []byte{0xff, 0xff}},
		{65536, []byte{0x01, 0x00, 0x00}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Uint(c.v).AsBytes())
	}
}

func TestUintDecodingEmptyIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), decodeUint(nil))
	assert.Equal(t, uint64(0), Decode(ContentFormat, nil).AsUint())
}

func TestDecodeFallsBackToOpaqueOnBadLength(t *testing.T) {
	// If-None-Match is FormatEmpty with MaxLen 0; one byte of payload
	// does not fit, so it must come back as an opaque value holding the
	// raw bytes rather than failing.
	v := Decode(IfNoneMatch, []byte{0x01})
	assert.Equal(t, KindOpaque, v.Kind())
	assert.Equal(t, []byte{0x01}, v.AsBytes())
}

func TestDecodeRegisteredFormats(t *testing.T) {
	assert.Equal(t, KindString, Decode(URIPath, []byte("temp")).Kind())
	assert.Equal(t, "temp", Decode(URIPath, []byte("temp")).AsString())

	assert.Equal(t, KindUint, Decode(ContentFormat, []byte{0x2a}).Kind())
	assert.Equal(t, uint64(0x2a), Decode(ContentFormat, []byte{0x2a}).AsUint())

	assert.Equal(t, KindEmpty, Decode(IfNoneMatch, nil).Kind())

	assert.Equal(t, KindOpaque, Decode(ETag, []byte{1, 2, 3}).Kind())
}

func TestValueLen(t *testing.T) {
	assert.Equal(t, 0, Uint(0).Len())
	assert.Equal(t, 1, Uint(5).Len())
	assert.Equal(t, 3, String("abc").Len())
	assert.Equal(t, 0, Empty().Len())
}
