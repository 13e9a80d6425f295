// Package dedup implements the short cache of recently-seen (src,
// packet_id) pairs the engine uses to suppress duplicate delivery, per
// §4.4 of the protocol spec.
//
// Timestamps are the engine's monotonic millisecond clock; see the
// wraparound note in package routing.
package dedup

import (
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
)

// WindowMS is how long a (src, packet_id) pair is remembered.
const WindowMS uint32 = 30_000

// DefaultCapacity bounds the number of remembered pairs.
const DefaultCapacity = 128

type key struct {
	src meshaddr.Address
	id  uint32
}

type entry struct {
	firstSeen uint32
}

// Suppressor is a bounded, time-windowed set of (src, packet_id) pairs.
// Not safe for concurrent use; mutated only from the engine's own thread.
type Suppressor struct {
	capacity int
	entries  map[key]entry
	order    []key // insertion order, oldest first, for FIFO eviction
}

func New(capacity int) *Suppressor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Suppressor{
		capacity: capacity,
		entries:  make(map[key]entry, capacity),
		order:    make([]key, 0, capacity),
	}
}

// Seen records (src, packetID) as observed at nowMS and reports whether it
// was already present — i.e. whether this is a duplicate. Entries older
// than WindowMS are purged lazily on every call before the check.
func (s *Suppressor) Seen(src meshaddr.Address, packetID uint32, nowMS uint32) bool {
	s.purgeExpired(nowMS)

	k := key{src: src, id: packetID}
	if _, ok := s.entries[k]; ok {
		return true
	}

	if len(s.order) >= s.capacity {
		s.evictOldest()
	}

	s.entries[k] = entry{firstSeen: nowMS}
	s.order = append(s.order, k)
	return false
}

// Purge drops every entry older than WindowMS without recording a new
// sighting. The engine's periodic timer calls this so the cache doesn't
// rely solely on lazy purging from Seen to reclaim memory during quiet
// periods.
func (s *Suppressor) Purge(nowMS uint32) {
	s.purgeExpired(nowMS)
}

func (s *Suppressor) purgeExpired(nowMS uint32) {
	cut := 0
	for cut < len(s.order) {
		k := s.order[cut]
		e, ok := s.entries[k]
		if !ok || nowMS-e.firstSeen >= WindowMS {
			delete(s.entries, k)
			cut++
			continue
		}
		break
	}
	if cut > 0 {
		s.order = s.order[cut:]
	}
}

func (s *Suppressor) evictOldest() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.entries, oldest)
}

func (s *Suppressor) Len() int {
	return len(s.order)
}
