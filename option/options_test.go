package option

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushAndGetAllPreservesInsertionOrder(t *testing.T) {
	o := New()
	o.PushString(URIPath, "1a")
	o.PushString(URIPath, "temp")

	vs := o.GetAll(URIPath)
	if assert.Len(t, vs, 2) {
		assert.Equal(t, "1a", vs[0].AsString())
		assert.Equal(t, "temp", vs[1].AsString())
	}
}

func TestIterYieldsNonDecreasingNumberOrder(t *testing.T) {
	o := New()
	o.PushString(URIQuery, "q")
	o.PushString(URIPath, "b")
	o.PushString(URIPath, "a")

	pairs := o.Iter()
	if assert.Len(t, pairs, 3) {
		assert.Equal(t, URIPath, pairs[0].Number)
		assert.Equal(t, "b", pairs[0].Value.AsString())
		assert.Equal(t, URIPath, pairs[1].Number)
		assert.Equal(t, "a", pairs[1].Value.AsString())
		assert.Equal(t, URIQuery, pairs[2].Number)
	}
}

func TestSetReplacesExistingValues(t *testing.T) {
	o := New()
	o.PushUint(Observe, 1)
	o.PushUint(Observe, 2)
	o.Set(Observe, Uint(5))

	vs := o.GetAll(Observe)
	if assert.Len(t, vs, 1) {
		assert.Equal(t, uint64(5), vs[0].AsUint())
	}
}

func TestDelRemovesAllValues(t *testing.T) {
	o := New()
	o.PushUint(Observe, 1)
	o.Del(Observe)
	assert.False(t, o.Has(Observe))
	_, ok := o.Get(Observe)
	assert.False(t, ok)
}

func TestEqualIsStructural(t *testing.T) {
	a := New()
	a.PushString(URIPath, "foo")
	a.PushUint(Observe, 1)

	b := New()
	b.PushString(URIPath, "foo")
	b.PushUint(Observe, 1)

	assert.True(t, a.Equal(b))

	b.PushUint(Observe, 2)
	assert.False(t, a.Equal(b))
}

func TestCloneIsIndependent(t *testing.T) {
	a := New()
	a.PushString(URIPath, "foo")
	b := a.Clone()
	b.PushString(URIPath, "bar")

	assert.Len(t, a.GetAll(URIPath), 1)
	assert.Len(t, b.GetAll(URIPath), 2)
}
