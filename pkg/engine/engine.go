// Package engine implements the packet engine state machine: the heart of
// the mesh protocol core. It validates, deduplicates, decrypts, dispatches,
// and re-forwards packets, and drives the periodic timer duties of §4.6.
//
// The engine is single-threaded and cooperative (§5): ingest and tick are
// both entered and exited before the next call begins. It performs no
// blocking I/O and spawns no goroutines of its own.
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meshstatic/meshstatic-go/pkg/aead"
	"github.com/meshstatic/meshstatic-go/pkg/dedup"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/mlog"
	"github.com/meshstatic/meshstatic-go/pkg/routing"
	"github.com/meshstatic/meshstatic-go/pkg/session"
	"github.com/meshstatic/meshstatic-go/pkg/wire"
)

// ErrLinkBusy is returned synchronously by Submit when the link signals
// back-pressure.
var ErrLinkBusy = errors.New("engine: link busy")

// ErrNoRoute is returned synchronously by Submit when dst is unreachable.
var ErrNoRoute = errors.New("engine: no route to destination")

// ErrPayloadTooLarge is returned synchronously by Submit when payload
// exceeds the available capacity (180 bytes plain, 164 bytes encrypted).
var ErrPayloadTooLarge = errors.New("engine: payload too large")

// Engine is the mesh protocol core. Construct one with New and drive it
// with Ingest/Submit/Tick from a single cooperative context.
type Engine struct {
	cfg Config

	link     Link
	clock    Clock
	random   Random
	keystore KeyStore
	sinks    Sinks

	table *routing.Table
	dedup *dedup.Suppressor
	sess  *session.State

	counters Counters

	nextPacketID uint32

	waiters map[uint32]*waiter

	deliveryFailed DeliveryFailedFunc

	groupMemberships map[uint16]bool

	lastHeartbeatMS    uint32
	lastDiscoveryMS    uint32
	lastSweepMS        uint32
	lastDedupPurgeMS   uint32
	lastSessionCheckMS uint32
}

// New constructs an engine. It fails only on the fatal conditions of §7:
// inability to obtain randomness, or a key-schedule derivation error.
func New(cfg Config, link Link, clock Clock, random Random, keystore KeyStore, sinks Sinks) (*Engine, error) {
	cfg = cfg.WithDefaults()

	seed := make([]byte, 4)
	if err := random.Fill(seed); err != nil {
		return nil, fmt.Errorf("engine: cannot obtain randomness at init: %w", err)
	}

	now := clock.NowMS()

	masterKey := keystore.MasterKey()
	sessionID, _ := keystore.CurrentSession()
	sess, err := session.NewState(masterKey, sessionID, cfg.SessionKDF, now)
	if err != nil {
		return nil, fmt.Errorf("engine: session key derivation failed: %w", err)
	}

	groups := make(map[uint16]bool, len(cfg.GroupMemberships))
	for _, g := range cfg.GroupMemberships {
		groups[g] = true
	}

	e := &Engine{
		cfg:                cfg,
		link:                link,
		clock:               clock,
		random:              random,
		keystore:            keystore,
		sinks:               sinks,
		table:               routing.New(cfg.RoutingCapacity, cfg.RoutingEvictionHorizonMS),
		dedup:               dedup.New(cfg.DedupCapacity),
		sess:                sess,
		nextPacketID:        binary.LittleEndian.Uint32(seed),
		waiters:             make(map[uint32]*waiter),
		groupMemberships:    groups,
		lastHeartbeatMS:     now,
		lastDiscoveryMS:     now,
		lastSweepMS:         now,
		lastDedupPurgeMS:    now,
		lastSessionCheckMS:  now,
	}
	return e, nil
}

// SetDeliveryFailedCallback registers the callback invoked when a
// REQUIRE_ACK submission exhausts its retries.
func (e *Engine) SetDeliveryFailedCallback(cb DeliveryFailedFunc) {
	e.deliveryFailed = cb
}

func (e *Engine) nextID() uint32 {
	e.nextPacketID++
	return e.nextPacketID
}

// Counters returns a snapshot of rx/tx and per-kind drop counts.
func (e *Engine) Counters() Counters {
	return e.counters
}

// SnapshotRoutes returns a read-only view of the routing table for the
// admin interface collaborator.
func (e *Engine) SnapshotRoutes() []routing.Entry {
	return e.table.Snapshot()
}

// RestoreRoutes replays previously-persisted routing entries into the
// table, typically called once right after New on a restart. Once the
// table is at capacity, each further entry evicts the oldest one, the same
// way a live Observe makes room.
func (e *Engine) RestoreRoutes(entries []routing.Entry, nowMS uint32) {
	for _, entry := range entries {
		if err := e.table.Observe(entry.Address, entry.Parent, entry.RSSI, nowMS); err != nil {
			continue
		}
		if entry.BatteryMV != nil {
			e.table.RefreshBattery(entry.Address, *entry.BatteryMV)
		}
	}
}

// Ingest processes one raw frame received from the link layer, reported as
// having arrived from lastHop with the given signal strength, at time
// nowMS. It never blocks and never returns an error to the caller: every
// failure mode is a counted drop, per §7's propagation policy.
func (e *Engine) Ingest(frame []byte, lastHop meshaddr.Address, rssi int8, nowMS uint32) IngestOutcome {
	e.counters.RX++

	pkt, err := wire.Decode(frame)
	if err != nil {
		e.drop(MalformedFrame, "decode failed")
		return IngestOutcome{Dropped: true, Reason: MalformedFrame}
	}

	if pkt.NetworkID != wire.NetworkID || pkt.Version != wire.Version || pkt.TTL == 0 || !pkt.Src.Valid() {
		e.drop(InvalidHeader, "header validation failed")
		return IngestOutcome{Dropped: true, Reason: InvalidHeader}
	}

	bypassDedup := pkt.MsgType == wire.MsgEventBroadcast
	duplicate := e.dedup.Seen(pkt.Src, pkt.PacketID, nowMS)
	if duplicate && !bypassDedup {
		e.drop(Duplicate, "duplicate packet")
		return IngestOutcome{Dropped: true, Reason: Duplicate}
	}

	if err := e.table.Observe(pkt.Src, lastHop, rssi, nowMS); err != nil {
		e.drop(TableFull, "routing table full")
		return IngestOutcome{Dropped: true, Reason: TableFull}
	}

	appPayload := pkt.Payload[:]
	if wire.HasFlag(pkt.Flags, wire.FlagEncrypted) {
		aad := wire.HeaderAAD(frame)
		plaintext, ok := e.tryDecrypt(pkt, aad, nowMS)
		if !ok {
			e.drop(AuthFailure, "AEAD tag verification failed")
			return IngestOutcome{Dropped: true, Reason: AuthFailure}
		}
		appPayload = plaintext
	}

	if reason, forwardDropped := e.dispatchAndForward(pkt, appPayload, nowMS); forwardDropped {
		return IngestOutcome{Dropped: true, Reason: reason}
	}

	return IngestOutcome{}
}

// tryDecrypt attempts AEAD_decrypt against every session key the engine
// currently considers valid (current, and — within the rotation overlap
// window — the previous one), since the wire format carries no explicit
// session id field for the engine to key a lookup on directly.
func (e *Engine) tryDecrypt(pkt *wire.Packet, aad []byte, nowMS uint32) ([]byte, bool) {
	ciphertext, tag := wire.SplitEncryptedPayload(pkt.Payload)
	nonce := session.PacketNonce(pkt.PacketID, pkt.Src)

	for _, key := range e.sess.CandidateKeys(nowMS) {
		plaintext, err := aead.Open(key, nonce, aad, ciphertext, tag)
		if err == nil {
			return plaintext, true
		}
	}
	return nil, false
}

func (e *Engine) drop(reason DropReason, msg string) {
	e.counters.drop(reason)
	mlog.Log(mlog.Packets, "ingress drop", "reason", reason.String(), "detail", msg)
}

// dispatchAndForward implements steps 6-8 of §4.5: local dispatch,
// TTL decrement and re-forward, and ACK enqueueing. It reports the drop
// reason from the forward stage, if any, so Ingest's outcome reflects it.
func (e *Engine) dispatchAndForward(pkt *wire.Packet, appPayload []byte, nowMS uint32) (DropReason, bool) {
	isForMe := pkt.Dst == e.cfg.Self
	isBroadcast := pkt.Dst.IsBroadcast()

	delivered := false
	if isForMe || isBroadcast {
		e.deliverLocal(pkt, appPayload, nowMS)
		delivered = true
	}

	if pkt.MsgType == wire.MsgCmdGroup && !delivered {
		participates := wire.HasFlag(pkt.Flags, wire.FlagLocalProcess) || e.groupMemberships[pkt.GroupID]
		if participates {
			e.deliverLocal(pkt, appPayload, nowMS)
			delivered = true
		}
	}

	var reason DropReason
	var dropped bool

	shouldForward := !isForMe || isBroadcast || pkt.MsgType == wire.MsgEventBroadcast
	if shouldForward {
		reason, dropped = e.forward(pkt, nowMS)
	}

	if isForMe && wire.HasFlag(pkt.Flags, wire.FlagRequireAck) &&
		pkt.MsgType != wire.MsgAck && pkt.MsgType != wire.MsgNack {
		e.sendAck(pkt.Src, pkt.PacketID, nowMS)
	}

	return reason, dropped
}

// forward implements §4.5 step 7: decrement TTL, look up the next hop, and
// transmit. The original payload bytes (ciphertext and tag, if encrypted)
// are carried unchanged; only TTL and last_hop are mutated.
func (e *Engine) forward(pkt *wire.Packet, nowMS uint32) (DropReason, bool) {
	newTTL := pkt.TTL - 1
	if newTTL == 0 {
		e.drop(TtlExhausted, "ttl exhausted")
		return TtlExhausted, true
	}

	nextHop, err := e.table.NextHop(pkt.Dst, e.cfg.Self)
	if err != nil {
		e.drop(NoRoute, "no route for forward")
		return NoRoute, true
	}

	out := *pkt
	out.TTL = newTTL
	out.LastHop = e.cfg.Self

	frame := wire.Encode(&out)
	if result := e.transmit(nextHop, frame); result != LinkOK {
		return LinkBusyDrop, true
	}
	return 0, false
}

// transmit sends frame to nextHop via the link collaborator, counting the
// outcome.
func (e *Engine) transmit(nextHop meshaddr.Address, frame []byte) LinkResult {
	result := e.link.Send(nextHop, frame)
	switch result {
	case LinkOK:
		e.counters.TX++
	case LinkBusy:
		e.drop(LinkBusyDrop, "link busy")
	case LinkError:
		e.drop(LinkBusyDrop, "link error")
	}
	return result
}

// Submit originates a new packet addressed to dst, carrying payload as the
// application-layer body for msgType. If FlagEncrypted is set, payload is
// sealed under the current session key before transmission. If
// FlagRequireAck is set, Submit registers an ACK waiter that Tick expires
// and retries per §4.5's egress path.
func (e *Engine) Submit(dst meshaddr.Address, msgType, flags uint8, groupID uint16, payload []byte, nowMS uint32) (uint32, error) {
	nextHop, err := e.table.NextHop(dst, e.cfg.Self)
	if err != nil {
		return 0, ErrNoRoute
	}

	packetID := e.nextID()

	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  packetID,
		Src:       e.cfg.Self,
		Dst:       dst,
		LastHop:   e.cfg.Self,
		MsgType:   msgType,
		Flags:     flags,
		GroupID:   groupID,
	}

	if wire.HasFlag(flags, wire.FlagEncrypted) {
		if len(payload) > wire.EncryptedPayloadCapacity {
			return 0, ErrPayloadTooLarge
		}
		header := wire.EncodeHeader(pkt)
		nonce := session.PacketNonce(packetID, pkt.Src)
		_, key := e.sess.Current()
		// Seal the whole zero-padded ciphertext field so the tag covers
		// exactly the bytes a receiver splits out of the payload.
		padded := make([]byte, wire.EncryptedPayloadCapacity)
		copy(padded, payload)
		ciphertext, tag, sealErr := aead.Seal(key, nonce, header, padded)
		if sealErr != nil {
			return 0, fmt.Errorf("engine: seal failed: %w", sealErr)
		}
		sealed, joinErr := wire.JoinEncryptedPayload(ciphertext, tag)
		if joinErr != nil {
			return 0, fmt.Errorf("engine: %w", joinErr)
		}
		pkt.Payload = sealed
	} else {
		if err := pkt.SetPayload(payload); err != nil {
			return 0, ErrPayloadTooLarge
		}
	}

	frame := wire.Encode(pkt)
	result := e.transmit(nextHop, frame)
	if result == LinkBusy {
		return 0, ErrLinkBusy
	}

	if wire.HasFlag(flags, wire.FlagRequireAck) {
		e.waiters[packetID] = &waiter{
			packetID:    packetID,
			dst:         dst,
			msgType:     msgType,
			flags:       flags,
			groupID:     groupID,
			payload:     append([]byte(nil), payload...),
			deadlineMS:  nowMS + ackTimeoutMS(1),
			retriesLeft: MaxRetransmits,
		}
	}

	return packetID, nil
}

// Tick drives every periodic duty of §4.6: heartbeat emission, discovery
// broadcast, routing-table sweep, duplicate-suppressor purge, session
// rotation, and ACK-waiter expiry/retry. The caller is responsible for
// invoking Tick often enough that none of the configured intervals are
// missed by more than one tick period.
func (e *Engine) Tick(nowMS uint32) {
	if nowMS-e.lastHeartbeatMS >= e.cfg.HeartbeatIntervalMS {
		e.sendPlain(meshaddr.Broadcast, wire.MsgHeartbeat, 0, 0, nil, nowMS)
		e.lastHeartbeatMS = nowMS
	}

	if nowMS-e.lastDiscoveryMS >= e.cfg.DiscoveryIntervalMS {
		e.sendPlain(meshaddr.Broadcast, wire.MsgDiscovery, 0, 0, nil, nowMS)
		e.lastDiscoveryMS = nowMS
	}

	if nowMS-e.lastSweepMS >= e.cfg.RoutingSweepIntervalMS {
		e.table.Sweep(nowMS)
		e.lastSweepMS = nowMS
	}

	if nowMS-e.lastDedupPurgeMS >= e.cfg.DedupPurgeIntervalMS {
		e.dedup.Purge(nowMS)
		e.lastDedupPurgeMS = nowMS
	}

	if nowMS-e.lastSessionCheckMS >= e.cfg.SessionCheckIntervalMS {
		currentID, _ := e.sess.Current()
		if _, err := e.sess.MaybeRotate(nowMS, currentID+1); err != nil {
			mlog.Log(mlog.Error, "session rotation failed", "error", err.Error())
		}
		e.lastSessionCheckMS = nowMS
	}

	e.expireWaiters(nowMS)
}

// expireWaiters scans outstanding ACK waiters, retransmitting those past
// their deadline with retries remaining and reporting delivery failure for
// those that have exhausted them.
func (e *Engine) expireWaiters(nowMS uint32) {
	for id, w := range e.waiters {
		// elapsed wraps to a huge value while deadlineMS is still in the
		// future; only treat the waiter as expired once elapsed falls
		// within the lower half of the uint32 range.
		elapsed := nowMS - w.deadlineMS
		if elapsed >= 1<<31 {
			continue
		}

		if w.retriesLeft <= 0 {
			delete(e.waiters, id)
			e.drop(DeliveryFailed, "ack wait exhausted")
			if e.deliveryFailed != nil {
				e.deliveryFailed(id)
			}
			continue
		}

		nextHop, err := e.table.NextHop(w.dst, e.cfg.Self)
		if err != nil {
			delete(e.waiters, id)
			e.drop(NoRoute, "no route for ack retry")
			continue
		}

		pkt := &wire.Packet{
			NetworkID: wire.NetworkID,
			Version:   wire.Version,
			TTL:       wire.DefaultTTL,
			PacketID:  id,
			Src:       e.cfg.Self,
			Dst:       w.dst,
			LastHop:   e.cfg.Self,
			MsgType:   w.msgType,
			Flags:     w.flags,
			GroupID:   w.groupID,
		}
		_ = pkt.SetPayload(w.payload)
		e.transmit(nextHop, wire.Encode(pkt))

		w.retriesLeft--
		w.deadlineMS = nowMS + ackTimeoutMS(1)
	}
}
