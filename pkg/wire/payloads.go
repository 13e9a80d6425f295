package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
)

// SensorData is the device-to-coordinator telemetry payload.
type SensorData struct {
	DeviceType  uint16
	Timestamp   uint32 // seconds
	Temperature float32
	Humidity    float32
	BatteryMV   uint16
	RSSI        int8
	Accuracy    uint8
}

// SensorDataSize is the wire size of an encoded SensorData payload.
const SensorDataSize = 2 + 4 + 4 + 4 + 2 + 1 + 1 // 18 bytes
const sensorDataSize = SensorDataSize

var ErrPayloadTooShort = errors.New("wire: payload too short for this type")

func EncodeSensorData(d SensorData) []byte {
	buf := make([]byte, sensorDataSize)
	binary.LittleEndian.PutUint16(buf[0:], d.DeviceType)
	binary.LittleEndian.PutUint32(buf[2:], d.Timestamp)
	binary.LittleEndian.PutUint32(buf[6:], math.Float32bits(d.Temperature))
	binary.LittleEndian.PutUint32(buf[10:], math.Float32bits(d.Humidity))
	binary.LittleEndian.PutUint16(buf[14:], d.BatteryMV)
	buf[16] = byte(d.RSSI)
	buf[17] = d.Accuracy
	return buf
}

func DecodeSensorData(b []byte) (SensorData, error) {
	var d SensorData
	if len(b) < sensorDataSize {
		return d, ErrPayloadTooShort
	}
	d.DeviceType = binary.LittleEndian.Uint16(b[0:])
	d.Timestamp = binary.LittleEndian.Uint32(b[2:])
	d.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(b[6:]))
	d.Humidity = math.Float32frombits(binary.LittleEndian.Uint32(b[10:]))
	d.BatteryMV = binary.LittleEndian.Uint16(b[14:])
	d.RSSI = int8(b[16])
	d.Accuracy = b[17]
	return d, nil
}

// GroupCommand addresses a group of devices with a single command code and
// up to 16 bytes of parameters.
type GroupCommand struct {
	GroupID     uint16
	CommandCode uint8
	Parameters  []byte // length <= 16, encoded with its own length prefix
}

const maxGroupParams = 16
const groupCommandHeaderSize = 2 + 1 + 1 // group_id, command_code, parameter_len

func EncodeGroupCommand(c GroupCommand) ([]byte, error) {
	if len(c.Parameters) > maxGroupParams {
		return nil, errors.New("wire: group command parameters exceed 16 bytes")
	}
	buf := make([]byte, groupCommandHeaderSize+len(c.Parameters))
	binary.LittleEndian.PutUint16(buf[0:], c.GroupID)
	buf[2] = c.CommandCode
	buf[3] = uint8(len(c.Parameters))
	copy(buf[4:], c.Parameters)
	return buf, nil
}

func DecodeGroupCommand(b []byte) (GroupCommand, error) {
	var c GroupCommand
	if len(b) < groupCommandHeaderSize {
		return c, ErrPayloadTooShort
	}
	c.GroupID = binary.LittleEndian.Uint16(b[0:])
	c.CommandCode = b[2]
	paramLen := int(b[3])
	if paramLen > maxGroupParams || len(b) < groupCommandHeaderSize+paramLen {
		return c, errors.New("wire: group command parameter_len out of range")
	}
	c.Parameters = append([]byte(nil), b[groupCommandHeaderSize:groupCommandHeaderSize+paramLen]...)
	return c, nil
}

// EmergencyEvent describes an advisory or alarm condition raised about a
// sensor address. EventData is whatever event-specific bytes follow the
// fixed header; the caller interprets them per EventType.
type EmergencyEvent struct {
	EventType    uint8
	Severity     uint8
	SensorAddr   meshaddr.Address
	EventData    []byte
}

const emergencyEventHeaderSize = 1 + 1 + meshaddr.Size

func EncodeEmergencyEvent(e EmergencyEvent) []byte {
	buf := make([]byte, emergencyEventHeaderSize+len(e.EventData))
	buf[0] = e.EventType
	buf[1] = e.Severity
	copy(buf[2:2+meshaddr.Size], e.SensorAddr[:])
	copy(buf[emergencyEventHeaderSize:], e.EventData)
	return buf
}

func DecodeEmergencyEvent(b []byte) (EmergencyEvent, error) {
	var e EmergencyEvent
	if len(b) < emergencyEventHeaderSize {
		return e, ErrPayloadTooShort
	}
	e.EventType = b[0]
	e.Severity = b[1]
	addr, _ := meshaddr.FromBytes(b[2 : 2+meshaddr.Size])
	e.SensorAddr = addr
	e.EventData = append([]byte(nil), b[emergencyEventHeaderSize:]...)
	return e, nil
}

// EncryptedPayloadCapacity is how much application payload an encrypted
// packet can carry: the fixed payload field minus the trailing AEAD tag.
const EncryptedPayloadCapacity = PayloadSize - 16

// SplitEncryptedPayload separates an ENCRYPTED packet's fixed payload field
// into its ciphertext (EncryptedPayloadCapacity bytes) and trailing 16-byte
// tag.
func SplitEncryptedPayload(payload [PayloadSize]byte) (ciphertext, tag []byte) {
	ciphertext = append([]byte(nil), payload[:EncryptedPayloadCapacity]...)
	tag = append([]byte(nil), payload[EncryptedPayloadCapacity:]...)
	return ciphertext, tag
}

// JoinEncryptedPayload packs ciphertext (zero-padded up to
// EncryptedPayloadCapacity) and a 16-byte tag into a fixed payload field.
func JoinEncryptedPayload(ciphertext, tag []byte) ([PayloadSize]byte, error) {
	var out [PayloadSize]byte
	if len(ciphertext) > EncryptedPayloadCapacity {
		return out, fmt.Errorf("wire: ciphertext of %d bytes exceeds encrypted capacity %d", len(ciphertext), EncryptedPayloadCapacity)
	}
	if len(tag) != 16 {
		return out, fmt.Errorf("wire: tag must be 16 bytes, got %d", len(tag))
	}
	copy(out[:EncryptedPayloadCapacity], ciphertext)
	copy(out[EncryptedPayloadCapacity:], tag)
	return out, nil
}

// Advisory thresholds the local sensor handler raises signals on.
const (
	AdvisoryHighTemperatureC = 40.0
	AdvisoryLowBatteryMV     = 3000
)
