package value

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator mints value and job ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	NewID() ID
}

// UUIDv7Generator generates time-sortable UUIDv7 ids. The embedded
// timestamp makes ids sortable by creation time, which helps debugging
// and listing.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID() ID {
	return ID(uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined ids for testing. Deterministic
// ids make registry state and golden outputs reproducible.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order and
// panics when exhausted.
func NewFixedGenerator(ids ...ID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
func (g *FixedGenerator) NewID() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator exhausted after %d ids", len(g.ids)))
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequenceGenerator returns "test-id-1", "test-id-2", ... without a
// predetermined list. Useful when tests only need determinism, not
// specific ids.
type SequenceGenerator struct {
	mu sync.Mutex
	n  int
}

// NewID returns the next sequential test id.
func (g *SequenceGenerator) NewID() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return ID(fmt.Sprintf("test-id-%d", g.n))
}
