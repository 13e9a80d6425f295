package engine

import (
	"github.com/meshstatic/meshstatic-go/pkg/dedup"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/routing"
	"github.com/meshstatic/meshstatic-go/pkg/session"
)

// Default timer cadences, per §4.6.
const (
	DefaultHeartbeatIntervalNodeMS     uint32 = 60_000
	DefaultHeartbeatIntervalRepeaterMS uint32 = 30_000
	DefaultDiscoveryIntervalMS         uint32 = 600_000
	DefaultRoutingSweepIntervalMS      uint32 = 60_000
	DefaultDedupPurgeIntervalMS        uint32 = 30_000
	DefaultSessionCheckIntervalMS      uint32 = 60_000
)

// Config is the engine's explicit configuration object, constructed once
// and passed at engine construction — never a global singleton, per §9's
// design note.
type Config struct {
	Self meshaddr.Address

	// IsRepeater selects the 30s heartbeat cadence instead of the 60s
	// node cadence.
	IsRepeater bool

	// GroupMemberships lists the group ids this node participates in for
	// CMD_GROUP local delivery.
	GroupMemberships []uint16

	RoutingCapacity         int
	RoutingEvictionHorizonMS uint32
	DedupCapacity           int

	SessionKDF session.KDF

	HeartbeatIntervalMS    uint32
	DiscoveryIntervalMS    uint32
	RoutingSweepIntervalMS uint32
	DedupPurgeIntervalMS   uint32
	SessionCheckIntervalMS uint32
}

// WithDefaults fills zero-valued fields with the spec's defaults and
// returns the completed config.
func (c Config) WithDefaults() Config {
	if c.RoutingCapacity == 0 {
		c.RoutingCapacity = routing.DefaultCapacity
	}
	if c.RoutingEvictionHorizonMS == 0 {
		c.RoutingEvictionHorizonMS = routing.DefaultEvictionHorizonMS
	}
	if c.DedupCapacity == 0 {
		c.DedupCapacity = dedup.DefaultCapacity
	}
	if c.HeartbeatIntervalMS == 0 {
		if c.IsRepeater {
			c.HeartbeatIntervalMS = DefaultHeartbeatIntervalRepeaterMS
		} else {
			c.HeartbeatIntervalMS = DefaultHeartbeatIntervalNodeMS
		}
	}
	if c.DiscoveryIntervalMS == 0 {
		c.DiscoveryIntervalMS = DefaultDiscoveryIntervalMS
	}
	if c.RoutingSweepIntervalMS == 0 {
		c.RoutingSweepIntervalMS = DefaultRoutingSweepIntervalMS
	}
	if c.DedupPurgeIntervalMS == 0 {
		c.DedupPurgeIntervalMS = DefaultDedupPurgeIntervalMS
	}
	if c.SessionCheckIntervalMS == 0 {
		c.SessionCheckIntervalMS = DefaultSessionCheckIntervalMS
	}
	return c
}
