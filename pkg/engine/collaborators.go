package engine

import (
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/wire"
)

// LinkResult is the outcome of a non-blocking Link.Send call.
type LinkResult int

const (
	LinkOK LinkResult = iota
	LinkBusy
	LinkError
)

// Link is the engine's only egress collaborator: a non-blocking
// send-to-next-hop primitive. The engine never blocks on it and never
// retries synchronously; back-pressure is counted as LinkBusy and dropped.
type Link interface {
	Send(nextHop meshaddr.Address, frame []byte) LinkResult
}

// Clock supplies monotonic milliseconds, wrap-around aware. The engine
// never calls a wall-clock API directly.
type Clock interface {
	NowMS() uint32
}

// Random supplies cryptographically strong bytes, used to seed the
// packet-id counter at startup. Inability to obtain randomness at
// initialisation is one of the engine's two fatal conditions (§7): New
// refuses to construct an engine if Fill returns an error.
type Random interface {
	Fill(b []byte) error
}

// KeyStore is the engine's only source of secret material. The master key
// is never transmitted; the current session is rotated by the timer loop,
// not by the key store itself.
type KeyStore interface {
	MasterKey() [32]byte
	CurrentSession() (id uint32, key [32]byte)
}

// Sinks are the local delivery targets for decoded application-layer
// payloads. The engine calls at most one of OnSensor/OnCommand/OnEvent
// per locally-processed packet (DISCOVERY, ACK and NACK packets reach
// none of them), plus OnAdvisory zero or more times alongside OnSensor
// when a reading crosses an advisory threshold.
type Sinks interface {
	OnSensor(src meshaddr.Address, data wire.SensorData)
	OnCommand(src meshaddr.Address, msgType uint8, payload []byte)
	OnEvent(src meshaddr.Address, event wire.EmergencyEvent)

	// OnAdvisory is called when a DATA_SENSOR reading crosses
	// AdvisoryHighTemperatureC or AdvisoryLowBatteryMV.
	OnAdvisory(src meshaddr.Address, kind AdvisoryKind, data wire.SensorData)
}

// AdvisoryKind identifies which threshold a sensor reading crossed.
type AdvisoryKind int

const (
	AdvisoryHighTemperature AdvisoryKind = iota
	AdvisoryLowBattery
)

func (k AdvisoryKind) String() string {
	switch k {
	case AdvisoryHighTemperature:
		return "HighTemperature"
	case AdvisoryLowBattery:
		return "LowBattery"
	default:
		return "Unknown"
	}
}

// DeliveryFailedFunc is invoked asynchronously when a REQUIRE_ACK
// submission exhausts its retries without an ACK.
type DeliveryFailedFunc func(packetID uint32)
