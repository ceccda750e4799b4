// Package memtable implements the in-memory append buffer described in
// spec §4.3: events are held in a structure ordered by
// (uid, context_id, timestamp, event_id), with one active memtable
// accepting writes and a bounded set of passive memtables awaiting flush.
package memtable

import (
	"fmt"
	"sync"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

// DefaultMaxPassive bounds the passive set. Once that many passive
// memtables are held, Insert returns ErrBackpressure until Release frees a
// slot; Roll itself does not block.
const DefaultMaxPassive = 2

// Memtable is a single ordered append buffer. It is safe for concurrent
// Insert and Scan.
type Memtable struct {
	list *skipList
}

// New creates an empty memtable.
func New() *Memtable {
	return &Memtable{list: newSkipList(defaultMaxLevel)}
}

// key renders the composite sort key (uid, context_id, timestamp, event_id)
// as a fixed-width string so lexicographic string ordering matches numeric
// ordering of each component.
func key(e *schema.Event) string {
	return fmt.Sprintf("%020d/%s/%020d/%020d", uint64(e.UID), e.ContextID, e.Timestamp, uint64(e.EventID))
}

// Insert adds e to the memtable. O(log N) per §4.3.
func (m *Memtable) Insert(e *schema.Event) {
	m.list.put(key(e), e)
}

// Len reports the number of buffered events.
func (m *Memtable) Len() int {
	return m.list.len()
}

// Scan iterates every event in (uid, context_id, timestamp, event_id)
// order, the order the flush engine relies on to write zones in sorted
// order. Iteration stops early if fn returns false.
func (m *Memtable) Scan(fn func(*schema.Event) bool) {
	m.list.ascend(func(_ string, v interface{}) bool {
		return fn(v.(*schema.Event))
	})
}

// Events materializes every buffered event in order, for callers (flush,
// point lookups) that need a slice rather than a callback.
func (m *Memtable) Events() []*schema.Event {
	out := make([]*schema.Event, 0, m.Len())
	m.Scan(func(e *schema.Event) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Set is the shard-owned pair of memtables: one active accepting writes,
// a bounded queue of passives awaiting flush (§3.8, §4.3).
type Set struct {
	mu         sync.Mutex
	active     *Memtable
	passive    []*Memtable
	maxPassive int
}

// NewSet creates a Set with an empty active memtable and room for
// maxPassive passives (0 uses DefaultMaxPassive).
func NewSet(maxPassive int) *Set {
	if maxPassive <= 0 {
		maxPassive = DefaultMaxPassive
	}
	return &Set{active: New(), maxPassive: maxPassive}
}

// Insert appends e to the active memtable. Returns ErrBackpressure (§4.3,
// §7) if the passive queue is already full — the shard must wait for a
// flush to free a slot before retrying.
func (s *Set) Insert(e *schema.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.passive) >= s.maxPassive {
		return common.ErrBackpressureError(0)
	}
	s.active.Insert(e)
	return nil
}

// Roll atomically promotes the active memtable to passive, installs a
// fresh empty active, and returns the newly-passive memtable for the flush
// engine to consume (§4.3). Returns nil if the active memtable is empty
// (nothing to flush).
func (s *Set) Roll() *Memtable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Len() == 0 {
		return nil
	}
	passive := s.active
	s.active = New()
	s.passive = append(s.passive, passive)
	return passive
}

// Release removes a flushed memtable from the passive queue, freeing a
// slot for future rolls. Called by the flush engine once a segment has
// been durably published and the SegmentIndex updated.
func (s *Set) Release(mt *Memtable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.passive {
		if p == mt {
			s.passive = append(s.passive[:i], s.passive[i+1:]...)
			return
		}
	}
}

// PassiveLen reports how many passive memtables are awaiting flush.
func (s *Set) PassiveLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.passive)
}

// Snapshot returns the active memtable plus every pending passive, in
// oldest-to-newest order, for point queries that must see in-flight data
// (active memtable first by recency; callers scanning for dedup should
// prefer the active memtable's copy of an event_id over a passive's).
func (s *Set) Snapshot() (active *Memtable, passives []*Memtable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, append([]*Memtable(nil), s.passive...)
}
