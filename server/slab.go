//go:build linux
// +build linux

package server

import "sort"

// Token identifies a live connection. The poller carries it in the epoll
// data field, so readiness events come back as (token, readiness) pairs and
// no raw pointer ever crosses the epoll boundary.
type Token uint32

const (
	// TokenListener is permanently bound to the listening socket and never
	// appears in the slab.
	TokenListener Token = 0

	// TokenWakeup is permanently bound to the shutdown eventfd.
	TokenWakeup Token = 1

	// tokenBase is the first token handed out to accepted connections.
	tokenBase Token = 2
)

// Slab maps tokens to live connections, reusing the lowest freed token
// first. Only the reactor goroutine touches it; no locking.
type Slab struct {
	slots []*Conn
	free  []Token // sorted ascending
	live  int
}

func NewSlab(capacity int) *Slab {
	free := make([]Token, capacity)
	for i := range free {
		free[i] = tokenBase + Token(i)
	}
	return &Slab{
		slots: make([]*Conn, capacity),
		free:  free,
	}
}

// Insert allocates the lowest free token for c and stores it. The caller
// must close the connection's socket itself when ErrSlabFull is returned.
func (s *Slab) Insert(c *Conn) (Token, error) {
	if len(s.free) == 0 {
		return 0, ErrSlabFull
	}
	tok := s.free[0]
	s.free = s.free[1:]
	c.token = tok
	s.slots[tok-tokenBase] = c
	s.live++
	return tok, nil
}

// Get returns the connection registered under tok, or nil for reserved,
// stale or never-allocated tokens. The dispatcher must only act on tokens
// it received from the poller, and even those can go stale within a batch.
func (s *Slab) Get(tok Token) *Conn {
	if tok < tokenBase || int(tok-tokenBase) >= len(s.slots) {
		return nil
	}
	return s.slots[tok-tokenBase]
}

// Remove drops the connection and returns tok to the free pool. Removing a
// token that is not live is a no-op.
func (s *Slab) Remove(tok Token) {
	if tok < tokenBase || int(tok-tokenBase) >= len(s.slots) {
		return
	}
	idx := int(tok - tokenBase)
	if s.slots[idx] == nil {
		return
	}
	s.slots[idx] = nil
	s.live--

	// Keep the free list sorted so Insert reuses the lowest token.
	i := sort.Search(len(s.free), func(i int) bool { return s.free[i] > tok })
	s.free = append(s.free, 0)
	copy(s.free[i+1:], s.free[i:])
	s.free[i] = tok
}

// Len reports the number of live connections.
func (s *Slab) Len() int { return s.live }
