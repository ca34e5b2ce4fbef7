// Package dedup guarantees that each map is handed downstream at most once
// per process lifetime.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourorg/draftwatch/internal/model"
)

// Ticket proves which Claim call won a map.
type Ticket struct {
	ID        model.MapIdentifier
	Seq       uint64
	ClaimedAt time.Time
}

// MapCache is the process-lifetime set of claimed maps. Claims never expire:
// a map is a single game and is never played twice.
type MapCache struct {
	now func() time.Time
	seq atomic.Uint64

	mu      sync.Mutex
	claimed map[model.MapIdentifier]Ticket
}

// New creates an empty cache.
func New() *MapCache {
	return &MapCache{
		now:     time.Now,
		claimed: make(map[model.MapIdentifier]Ticket),
	}
}

// WithClock replaces the time source, for tests.
func (m *MapCache) WithClock(now func() time.Time) *MapCache {
	m.now = now
	return m
}

// TryClaim atomically claims id. Only the first caller for an id gets true.
// Invalid ids are never claimable.
func (m *MapCache) TryClaim(id model.MapIdentifier) bool {
	_, ok := m.Claim(id)
	return ok
}

// Claim is TryClaim returning the winning ticket.
func (m *MapCache) Claim(id model.MapIdentifier) (Ticket, bool) {
	if !id.Valid() {
		return Ticket{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.claimed[id]; taken {
		return Ticket{}, false
	}
	t := Ticket{ID: id, Seq: m.seq.Add(1), ClaimedAt: m.now()}
	m.claimed[id] = t
	return t, true
}

// Verify reports whether t is the ticket recorded for its map. A false result
// means the claim set was corrupted and the holder must not proceed.
func (m *MapCache) Verify(t Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	recorded, ok := m.claimed[t.ID]
	return ok && recorded.Seq == t.Seq
}

// IsClaimed is an advisory check. It must not replace Claim: the answer may
// be stale by the time the caller acts on it.
func (m *MapCache) IsClaimed(id model.MapIdentifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claimed[id]
	return ok
}

// Len returns the number of claimed maps.
func (m *MapCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claimed)
}

// Claimed returns a snapshot of the claim tickets.
func (m *MapCache) Claimed() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Ticket, 0, len(m.claimed))
	for _, t := range m.claimed {
		out = append(out, t)
	}
	return out
}
