// Package persist saves and restores the routing table across restarts,
// so a node rejoining the mesh doesn't start with an empty view of its
// neighbours.
package persist

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/meshstatic/meshstatic-go/pkg/mlog"
	"github.com/meshstatic/meshstatic-go/pkg/routing"
)

// snapshotEntry mirrors routing.Entry in a msgpack-friendly shape: a
// routing.Entry's BatteryMV pointer doesn't round-trip cleanly through
// msgpack's default encoding of nil vs. zero.
type snapshotEntry struct {
	Address      [6]byte `msgpack:"address"`
	Parent       [6]byte `msgpack:"parent"`
	RSSI         int8    `msgpack:"rssi"`
	LastSeen     uint32  `msgpack:"last_seen"`
	Status       uint8   `msgpack:"status"`
	HasBattery   bool    `msgpack:"has_battery"`
	BatteryMV    uint16  `msgpack:"battery_mv"`
}

type snapshot struct {
	Count   uint8           `msgpack:"count"`
	Entries []snapshotEntry `msgpack:"entries"`
}

// Save writes every entry in entries to path as a msgpack snapshot.
func Save(path string, entries []routing.Entry) error {
	snap := snapshot{
		Count:   uint8(len(entries)),
		Entries: make([]snapshotEntry, len(entries)),
	}
	for i, e := range entries {
		se := snapshotEntry{
			Address:  e.Address,
			Parent:   e.Parent,
			RSSI:     e.RSSI,
			LastSeen: e.LastSeen,
			Status:   uint8(e.Status),
		}
		if e.BatteryMV != nil {
			se.HasBattery = true
			se.BatteryMV = *e.BatteryMV
		}
		snap.Entries[i] = se
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}

	outPath := path + ".out"
	if err := os.WriteFile(outPath, data, 0600); err != nil {
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := os.Rename(outPath, path); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("persist: finalize snapshot: %w", err)
	}

	mlog.Log(mlog.Info, "routing snapshot saved", "path", path, "entries", len(entries))
	return nil
}

// Load reads a msgpack snapshot previously written by Save and returns the
// routing entries it held, for the caller to replay into a fresh engine
// via Engine.RestoreRoutes. A missing file is not an error: it reports no
// entries.
func Load(path string) ([]routing.Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("persist: unmarshal snapshot: %w", err)
	}

	entries := make([]routing.Entry, 0, len(snap.Entries))
	for _, se := range snap.Entries {
		e := routing.Entry{
			Address:  se.Address,
			Parent:   se.Parent,
			RSSI:     se.RSSI,
			LastSeen: se.LastSeen,
			Status:   routing.Status(se.Status),
		}
		if se.HasBattery {
			v := se.BatteryMV
			e.BatteryMV = &v
		}
		entries = append(entries, e)
	}

	mlog.Log(mlog.Info, "routing snapshot restored", "path", path, "entries", len(entries))
	return entries, nil
}
