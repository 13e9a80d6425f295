package engine

import (
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
)

// MinAckTimeoutMS and MaxAckTimeoutMS bound the deadline computed for a
// REQUIRE_ACK submission, per §4.5's egress path.
const (
	MinAckTimeoutMS uint32 = 500
	MaxAckTimeoutMS uint32 = 5000

	ackTimeoutPerHopMS uint32 = 2000

	// MaxRetransmits is the configurable retry count; the spec leaves
	// this an open question and suggests one retransmit as the default.
	MaxRetransmits = 1
)

// waiter tracks one outbound REQUIRE_ACK submission awaiting
// acknowledgement. All fields are touched only from the engine's own
// thread; there is no background goroutine — tick() is what expires these.
type waiter struct {
	packetID    uint32
	dst         meshaddr.Address
	msgType     uint8
	flags       uint8
	groupID     uint16
	payload     []byte
	deadlineMS  uint32
	retriesLeft int
}

// ackTimeoutMS computes the deadline width from the number of hops the
// submission is assumed to travel, per §4.5: 2s * hopsAssumed, clamped to
// [MinAckTimeoutMS, MaxAckTimeoutMS]. A freshly-submitted packet has
// travelled zero hops yet, but it still must allow time to reach a
// neighbour and have that neighbour's ACK return, so Submit always calls
// this with hopsAssumed=1; forwarded re-waits (not currently implemented —
// only the originator waits for an ACK) would use the actual count.
func ackTimeoutMS(hopsAssumed uint32) uint32 {
	d := hopsAssumed * ackTimeoutPerHopMS
	if d < MinAckTimeoutMS {
		return MinAckTimeoutMS
	}
	if d > MaxAckTimeoutMS {
		return MaxAckTimeoutMS
	}
	return d
}
