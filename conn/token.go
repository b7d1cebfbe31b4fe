package conn

import (
	"math/rand"
	"sync"
	"time"
)

// TokenGenerator produces request tokens. Implementations must never
// return the same token twice in quick succession for a given peer.
type TokenGenerator interface {
	NextToken() []byte
}

// randomTokenGenerator mixes a monotonic sequence byte into otherwise
// random bytes, so a restart doesn't immediately replay a token an old
// process happened to also draw.
type randomTokenGenerator struct {
	mu   sync.Mutex
	seq  uint8
	rand *rand.Rand
}

// NewRandomTokenGenerator returns the default 4-byte TokenGenerator.
func NewRandomTokenGenerator() TokenGenerator {
	return &randomTokenGenerator{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (t *randomTokenGenerator) NextToken() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := make([]byte, 4)
	t.rand.Read(tok)
	t.seq++
	tok[0] = t.seq
	return tok
}

// countingTokenGenerator emits 1-byte, strictly increasing tokens. Used
// in tests where deterministic tokens make assertions readable.
type countingTokenGenerator struct {
	mu  sync.Mutex
	seq uint8
}

// NewCountingTokenGenerator returns a deterministic TokenGenerator for tests.
func NewCountingTokenGenerator() TokenGenerator {
	return &countingTokenGenerator{}
}

func (t *countingTokenGenerator) NextToken() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return []byte{t.seq}
}
