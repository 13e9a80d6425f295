// Package wire implements the fixed 210-byte MeshStatic packet layout: a
// pure byte-layout mapping with no semantic validation. encoding is
// little-endian throughout.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
)

// Field sizes, in wire order.
const (
	networkIDSize = 2
	versionSize   = 1
	ttlSize       = 1
	packetIDSize  = 4
	srcSize       = meshaddr.Size
	dstSize       = meshaddr.Size
	lastHopSize   = meshaddr.Size
	msgTypeSize   = 1
	flagsSize     = 1
	groupIDSize   = 2

	// PayloadSize is the fixed opaque payload capacity of a packet.
	PayloadSize = 180

	// HeaderSize is everything but the payload.
	HeaderSize = networkIDSize + versionSize + ttlSize + packetIDSize +
		srcSize + dstSize + lastHopSize + msgTypeSize + flagsSize + groupIDSize

	// PacketSize is the total wire size of a packet.
	PacketSize = HeaderSize + PayloadSize
)

// Byte offsets of each header field.
const (
	offNetworkID = 0
	offVersion   = offNetworkID + networkIDSize
	offTTL       = offVersion + versionSize
	offPacketID  = offTTL + ttlSize
	offSrc       = offPacketID + packetIDSize
	offDst       = offSrc + srcSize
	offLastHop   = offDst + dstSize
	offMsgType   = offLastHop + lastHopSize
	offFlags     = offMsgType + msgTypeSize
	offGroupID   = offFlags + flagsSize
	offPayload   = offGroupID + groupIDSize
)

// ErrFrameTooShort is returned by Decode when the input is shorter than
// PacketSize.
var ErrFrameTooShort = errors.New("wire: frame shorter than packet size")

// Packet is the decoded form of a wire frame. The codec performs no
// semantic validation (network id, version, ttl, address legality): that is
// the packet engine's job.
type Packet struct {
	NetworkID uint16
	Version   uint8
	TTL       uint8
	PacketID  uint32
	Src       meshaddr.Address
	Dst       meshaddr.Address
	LastHop   meshaddr.Address
	MsgType   uint8
	Flags     uint8
	GroupID   uint16
	Payload   [PayloadSize]byte
}

// SetPayload copies data into the fixed payload field, zero-padding the
// remainder. data longer than PayloadSize is an error.
func (p *Packet) SetPayload(data []byte) error {
	if len(data) > PayloadSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds capacity %d", len(data), PayloadSize)
	}
	var buf [PayloadSize]byte
	copy(buf[:], data)
	p.Payload = buf
	return nil
}

// Encode renders p as a PacketSize-byte frame. Encode never fails: it is a
// pure layout mapping over fixed-width fields.
func Encode(p *Packet) []byte {
	out := make([]byte, PacketSize)

	binary.LittleEndian.PutUint16(out[offNetworkID:], p.NetworkID)
	out[offVersion] = p.Version
	out[offTTL] = p.TTL
	binary.LittleEndian.PutUint32(out[offPacketID:], p.PacketID)
	copy(out[offSrc:offSrc+meshaddr.Size], p.Src[:])
	copy(out[offDst:offDst+meshaddr.Size], p.Dst[:])
	copy(out[offLastHop:offLastHop+meshaddr.Size], p.LastHop[:])
	out[offMsgType] = p.MsgType
	out[offFlags] = p.Flags
	binary.LittleEndian.PutUint16(out[offGroupID:], p.GroupID)
	copy(out[offPayload:], p.Payload[:])

	return out
}

// Decode parses a wire frame into a Packet. The only failure mode is a
// frame shorter than PacketSize; anything shorter is treated as a malformed
// frame by the caller (the engine), not validated here.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < PacketSize {
		return nil, ErrFrameTooShort
	}

	p := &Packet{}
	p.NetworkID = binary.LittleEndian.Uint16(raw[offNetworkID:])
	p.Version = raw[offVersion]
	p.TTL = raw[offTTL]
	p.PacketID = binary.LittleEndian.Uint32(raw[offPacketID:])

	src, _ := meshaddr.FromBytes(raw[offSrc : offSrc+meshaddr.Size])
	dst, _ := meshaddr.FromBytes(raw[offDst : offDst+meshaddr.Size])
	lastHop, _ := meshaddr.FromBytes(raw[offLastHop : offLastHop+meshaddr.Size])
	p.Src = src
	p.Dst = dst
	p.LastHop = lastHop

	p.MsgType = raw[offMsgType]
	p.Flags = raw[offFlags]
	p.GroupID = binary.LittleEndian.Uint16(raw[offGroupID:])
	copy(p.Payload[:], raw[offPayload:offPayload+PayloadSize])

	return p, nil
}

// EncodeHeader renders just the HeaderSize header bytes of p (no payload),
// useful for computing AAD before a payload has been sealed.
func EncodeHeader(p *Packet) []byte {
	full := Encode(p)
	return full[:offPayload]
}

// HeaderAAD returns every header byte excluding the payload, in wire order
// — the associated data authenticated by the AEAD layer when
// FlagEncrypted is set.
func HeaderAAD(raw []byte) []byte {
	if len(raw) < offPayload {
		return nil
	}
	aad := make([]byte, offPayload)
	copy(aad, raw[:offPayload])
	return aad
}
