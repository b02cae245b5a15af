package testutil

import (
	"fmt"
	"sync"
)

// NonceSequence generates predictable nonces "prefix-1", "prefix-2",
// and so on. Pinning the generator makes receipt nonces, and with a
// pinned clock receipt CIDs, reproducible across runs.
type NonceSequence struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewNonceSequence creates a sequence with the given prefix.
func NewNonceSequence(prefix string) *NonceSequence {
	return &NonceSequence{prefix: prefix}
}

// Next returns the next nonce. Matches the func() (string, error)
// shape the engine and secret manager accept.
func (n *NonceSequence) Next() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return fmt.Sprintf("%s-%d", n.prefix, n.seq), nil
}
