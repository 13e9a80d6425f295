package engine

import (
	"encoding/binary"

	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/mlog"
	"github.com/meshstatic/meshstatic-go/pkg/wire"
)

// deliverLocal dispatches a locally-addressed (or broadcast/group-joined)
// packet's application payload to the appropriate sink, per §4.5 step 6.
// ACK/NACK packets are handled separately by correlateAck and never reach
// a sink.
func (e *Engine) deliverLocal(pkt *wire.Packet, payload []byte, nowMS uint32) {
	switch pkt.MsgType {
	case wire.MsgDataSensor:
		data, err := wire.DecodeSensorData(payload)
		if err != nil {
			e.drop(MalformedFrame, "sensor payload decode failed")
			return
		}
		e.sinks.OnSensor(pkt.Src, data)
		if data.Temperature > wire.AdvisoryHighTemperatureC {
			e.sinks.OnAdvisory(pkt.Src, AdvisoryHighTemperature, data)
		}
		if data.BatteryMV < wire.AdvisoryLowBatteryMV {
			e.sinks.OnAdvisory(pkt.Src, AdvisoryLowBattery, data)
		}

	case wire.MsgEventBroadcast:
		event, err := wire.DecodeEmergencyEvent(payload)
		if err != nil {
			e.drop(MalformedFrame, "event payload decode failed")
			return
		}
		e.sinks.OnEvent(pkt.Src, event)

	case wire.MsgDiscovery:
		e.replyToDiscovery(pkt, nowMS)

	case wire.MsgAck, wire.MsgNack:
		e.correlateAck(pkt)

	default:
		e.sinks.OnCommand(pkt.Src, pkt.MsgType, payload)
	}
}

// replyToDiscovery answers a discovery probe with a unicast
// DEVICE_STATE_UPDATE describing self, per §4.5.
func (e *Engine) replyToDiscovery(pkt *wire.Packet, nowMS uint32) {
	e.sendPlain(pkt.Src, wire.MsgDeviceStateUpdate, 0, 0, nil, nowMS)
}

// correlateAck resolves an ACK/NACK to its waiter and clears it. The
// acknowledged packet id is carried in the first 4 bytes of the payload.
func (e *Engine) correlateAck(pkt *wire.Packet) {
	ciphertext, _ := wire.SplitEncryptedPayload(pkt.Payload)
	payload := ciphertext
	if !wire.HasFlag(pkt.Flags, wire.FlagEncrypted) {
		payload = pkt.Payload[:]
	}
	if len(payload) < 4 {
		e.drop(MalformedFrame, "ack payload too short")
		return
	}
	ackedID := binary.LittleEndian.Uint32(payload[:4])
	delete(e.waiters, ackedID)
	mlog.Log(mlog.Packets, "ack correlated", "packet_id", ackedID)
}

// sendAck originates an ACK addressed back to src, acknowledging
// packetID, per §4.5 step 8.
func (e *Engine) sendAck(dst meshaddr.Address, packetID uint32, nowMS uint32) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, packetID)
	e.sendPlain(dst, wire.MsgAck, 0, 0, payload, nowMS)
}

// sendPlain originates a locally-generated unencrypted packet (heartbeat,
// discovery reply, ACK) without registering an ACK waiter for it.
func (e *Engine) sendPlain(dst meshaddr.Address, msgType, flags uint8, groupID uint16, payload []byte, nowMS uint32) {
	nextHop, err := e.table.NextHop(dst, e.cfg.Self)
	if err != nil {
		e.drop(NoRoute, "no route for locally-originated packet")
		return
	}

	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  e.nextID(),
		Src:       e.cfg.Self,
		Dst:       dst,
		LastHop:   e.cfg.Self,
		MsgType:   msgType,
		Flags:     flags,
		GroupID:   groupID,
	}
	if err := pkt.SetPayload(payload); err != nil {
		e.drop(PayloadTooLarge, "locally-originated payload too large")
		return
	}

	e.transmit(nextHop, wire.Encode(pkt))
}
