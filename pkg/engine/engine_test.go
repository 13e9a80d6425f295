package engine_test

import (
	"testing"

	"github.com/meshstatic/meshstatic-go/internal/meshtest"
	"github.com/meshstatic/meshstatic-go/pkg/aead"
	"github.com/meshstatic/meshstatic-go/pkg/engine"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/session"
	"github.com/meshstatic/meshstatic-go/pkg/wire"
)

func addr(b byte) meshaddr.Address {
	var a meshaddr.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func testMaster() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func newTestEngine(t *testing.T, self meshaddr.Address) (*engine.Engine, *meshtest.Link, *meshtest.Clock) {
	t.Helper()
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := meshtest.NewRandom(0x07)
	keystore := meshtest.NewKeyStore(testMaster(), 1)
	sinks := meshtest.NewSinks()

	cfg := engine.Config{Self: self}
	eng, err := engine.New(cfg, link, clock, random, keystore, sinks)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, link, clock
}

func TestNewFailsWhenRandomnessUnavailable(t *testing.T) {
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := &meshtest.Random{ForceError: true}
	keystore := meshtest.NewKeyStore(testMaster(), 1)
	sinks := meshtest.NewSinks()

	_, err := engine.New(engine.Config{Self: addr(1)}, link, clock, random, keystore, sinks)
	if err == nil {
		t.Fatal("expected engine.New to fail when Random.Fill errors")
	}
}

func TestIngestMalformedFrameIsDropped(t *testing.T) {
	eng, _, clock := newTestEngine(t, addr(1))

	outcome := eng.Ingest([]byte{1, 2, 3}, addr(2), -40, clock.NowMS())
	if !outcome.Dropped || outcome.Reason != engine.MalformedFrame {
		t.Fatalf("got %+v, want MalformedFrame drop", outcome)
	}
	counters := eng.Counters()
	if counters.DropsByKind()["MalformedFrame"] != 1 {
		t.Fatal("expected MalformedFrame counter to increment")
	}
}

func TestIngestDuplicateIsDropped(t *testing.T) {
	eng, _, clock := newTestEngine(t, addr(1))

	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  42,
		Src:       addr(2),
		Dst:       addr(1),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(wire.SensorData{}))
	frame := wire.Encode(pkt)

	first := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if first.Dropped {
		t.Fatalf("first ingest should succeed, got %+v", first)
	}

	second := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if !second.Dropped || second.Reason != engine.Duplicate {
		t.Fatalf("second ingest should be a duplicate drop, got %+v", second)
	}
}

func TestIngestDeliversSensorReadingToSink(t *testing.T) {
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := meshtest.NewRandom(3)
	keystore := meshtest.NewKeyStore(testMaster(), 1)
	sinks := meshtest.NewSinks()

	eng, err := engine.New(engine.Config{Self: addr(1)}, link, clock, random, keystore, sinks)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	data := wire.SensorData{DeviceType: 1, Temperature: 19.5, BatteryMV: 3300}
	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  1,
		Src:       addr(2),
		Dst:       addr(1),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(data))
	frame := wire.Encode(pkt)

	outcome := eng.Ingest(frame, addr(2), -50, clock.NowMS())
	if outcome.Dropped {
		t.Fatalf("unexpected drop: %+v", outcome)
	}
	if len(sinks.Sensors) != 1 {
		t.Fatalf("expected one sensor delivery, got %d", len(sinks.Sensors))
	}
	if sinks.Sensors[0].Data.BatteryMV != 3300 {
		t.Fatalf("battery_mv = %d, want 3300", sinks.Sensors[0].Data.BatteryMV)
	}
}

func TestForwardDecrementsTTLAndTransmits(t *testing.T) {
	eng, link, clock := newTestEngine(t, addr(1))

	_ = eng.Ingest(heartbeatFrom(addr(3), addr(3)), addr(3), -40, clock.NowMS())

	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       5,
		PacketID:  99,
		Src:       addr(2),
		Dst:       addr(3),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(wire.SensorData{}))
	frame := wire.Encode(pkt)

	outcome := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if outcome.Dropped {
		t.Fatalf("unexpected drop: %+v", outcome)
	}

	sent := link.Frames()
	if len(sent) == 0 {
		t.Fatal("expected the packet to be forwarded")
	}
	last := sent[len(sent)-1]
	forwarded, err := wire.Decode(last.Frame)
	if err != nil {
		t.Fatalf("decoding forwarded frame: %v", err)
	}
	if forwarded.TTL != 4 {
		t.Fatalf("forwarded TTL = %d, want 4", forwarded.TTL)
	}
	if forwarded.LastHop != addr(1) {
		t.Fatalf("forwarded last_hop = %v, want self", forwarded.LastHop)
	}
}

func TestTtlExhaustedIsDropped(t *testing.T) {
	eng, _, clock := newTestEngine(t, addr(1))
	_ = eng.Ingest(heartbeatFrom(addr(3), addr(3)), addr(3), -40, clock.NowMS())

	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       1,
		PacketID:  1,
		Src:       addr(2),
		Dst:       addr(3),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(wire.SensorData{}))
	frame := wire.Encode(pkt)

	outcome := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if !outcome.Dropped || outcome.Reason != engine.TtlExhausted {
		t.Fatalf("got %+v, want TtlExhausted", outcome)
	}
}

func TestSubmitEncryptedFrameOpensWithSessionKey(t *testing.T) {
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := meshtest.NewRandom(9)
	master := testMaster()
	keystore := meshtest.NewKeyStore(master, 1)
	sinksA := meshtest.NewSinks()

	nodeA, err := engine.New(engine.Config{Self: addr(1)}, link, clock, random, keystore, sinksA)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	_ = nodeA.Ingest(heartbeatFrom(addr(2), addr(2)), addr(2), -40, clock.NowMS())

	payload := []byte("turn on valve 3")
	packetID, err := nodeA.Submit(addr(2), wire.MsgCmdSet, wire.FlagEncrypted, 0, payload, clock.NowMS())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if packetID == 0 {
		t.Fatal("expected a non-zero packet id")
	}

	sent := link.Frames()
	if len(sent) == 0 {
		t.Fatal("expected Submit to transmit a frame")
	}

	sessKey, err := session.Derive(master, 1, session.KDFAEAD)
	if err != nil {
		t.Fatalf("session.Derive: %v", err)
	}

	last := sent[len(sent)-1]
	decoded, err := wire.Decode(last.Frame)
	if err != nil {
		t.Fatalf("decoding submitted frame: %v", err)
	}
	aadBytes := wire.HeaderAAD(last.Frame)
	ciphertext, tag := wire.SplitEncryptedPayload(decoded.Payload)
	nonce := session.PacketNonce(decoded.PacketID, decoded.Src)

	got, err := aead.Open(sessKey, nonce, aadBytes, ciphertext, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	gotTrimmed := got[:len(payload)]
	if string(gotTrimmed) != string(payload) {
		t.Fatalf("decrypted payload = %q, want %q", gotTrimmed, payload)
	}
}

func TestReplyToDiscoveryOriginatesDeviceStateUpdate(t *testing.T) {
	eng, link, clock := newTestEngine(t, addr(1))
	_ = eng.Ingest(heartbeatFrom(addr(2), addr(2)), addr(2), -40, clock.NowMS())

	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  7,
		Src:       addr(2),
		Dst:       addr(1),
		LastHop:   addr(2),
		MsgType:   wire.MsgDiscovery,
	}
	frame := wire.Encode(pkt)

	outcome := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if outcome.Dropped {
		t.Fatalf("unexpected drop: %+v", outcome)
	}

	sent := link.Frames()
	if len(sent) == 0 {
		t.Fatal("expected a reply to be transmitted")
	}
	reply, err := wire.Decode(sent[len(sent)-1].Frame)
	if err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if reply.MsgType != wire.MsgDeviceStateUpdate {
		t.Fatalf("reply msg_type = 0x%02X, want MsgDeviceStateUpdate", reply.MsgType)
	}
	if reply.Dst != addr(2) {
		t.Fatalf("reply dst = %v, want %v", reply.Dst, addr(2))
	}
}

func TestDataSensorRaisesHighTemperatureAdvisory(t *testing.T) {
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := meshtest.NewRandom(5)
	keystore := meshtest.NewKeyStore(testMaster(), 1)
	sinks := meshtest.NewSinks()

	eng, err := engine.New(engine.Config{Self: addr(1)}, link, clock, random, keystore, sinks)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	data := wire.SensorData{DeviceType: 1, Temperature: 41.2, BatteryMV: 3300}
	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  1,
		Src:       addr(2),
		Dst:       addr(1),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(data))
	frame := wire.Encode(pkt)

	outcome := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if outcome.Dropped {
		t.Fatalf("unexpected drop: %+v", outcome)
	}
	if len(sinks.Advisories) != 1 {
		t.Fatalf("expected one advisory, got %d", len(sinks.Advisories))
	}
	if sinks.Advisories[0].Kind != engine.AdvisoryHighTemperature {
		t.Fatalf("advisory kind = %v, want AdvisoryHighTemperature", sinks.Advisories[0].Kind)
	}
}

func TestDataSensorRaisesLowBatteryAdvisory(t *testing.T) {
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := meshtest.NewRandom(5)
	keystore := meshtest.NewKeyStore(testMaster(), 1)
	sinks := meshtest.NewSinks()

	eng, err := engine.New(engine.Config{Self: addr(1)}, link, clock, random, keystore, sinks)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	data := wire.SensorData{DeviceType: 1, Temperature: 20.0, BatteryMV: 2800}
	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  1,
		Src:       addr(2),
		Dst:       addr(1),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(data))
	frame := wire.Encode(pkt)

	outcome := eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if outcome.Dropped {
		t.Fatalf("unexpected drop: %+v", outcome)
	}
	if len(sinks.Advisories) != 1 {
		t.Fatalf("expected one advisory, got %d", len(sinks.Advisories))
	}
	if sinks.Advisories[0].Kind != engine.AdvisoryLowBattery {
		t.Fatalf("advisory kind = %v, want AdvisoryLowBattery", sinks.Advisories[0].Kind)
	}
}

func TestDataSensorWithinThresholdsRaisesNoAdvisory(t *testing.T) {
	link := meshtest.NewLink()
	clock := meshtest.NewClock(0)
	random := meshtest.NewRandom(5)
	keystore := meshtest.NewKeyStore(testMaster(), 1)
	sinks := meshtest.NewSinks()

	eng, err := engine.New(engine.Config{Self: addr(1)}, link, clock, random, keystore, sinks)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	data := wire.SensorData{DeviceType: 1, Temperature: 22.0, BatteryMV: 3300}
	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  1,
		Src:       addr(2),
		Dst:       addr(1),
		LastHop:   addr(2),
		MsgType:   wire.MsgDataSensor,
	}
	_ = pkt.SetPayload(wire.EncodeSensorData(data))
	frame := wire.Encode(pkt)

	_ = eng.Ingest(frame, addr(2), -40, clock.NowMS())
	if len(sinks.Advisories) != 0 {
		t.Fatalf("expected no advisory, got %d", len(sinks.Advisories))
	}
}

// heartbeatFrom builds a minimal unencrypted heartbeat frame from src, used
// purely to seed the routing table with a route before exercising forward
// logic or Submit in isolation from a live Ingest flow.
func heartbeatFrom(src, lastHop meshaddr.Address) []byte {
	pkt := &wire.Packet{
		NetworkID: wire.NetworkID,
		Version:   wire.Version,
		TTL:       wire.DefaultTTL,
		PacketID:  1,
		Src:       src,
		Dst:       meshaddr.Broadcast,
		LastHop:   lastHop,
		MsgType:   wire.MsgHeartbeat,
	}
	return wire.Encode(pkt)
}
