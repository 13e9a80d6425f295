// Package session implements the key schedule: session-key derivation from
// a master key and session id, per-packet nonce derivation, and the
// rotation policy described in §3/§4.2 of the protocol spec.
//
// Rotation and overlap windows are measured against the engine's monotonic
// millisecond clock (wraparound-aware uint32), not a wall-clock API — the
// core has no wall-clock collaborator, only clock.now_ms().
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/meshstatic/meshstatic-go/pkg/aead"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"golang.org/x/crypto/hkdf"
)

// RotationIntervalMS is how often a new session id is adopted: 24h.
const RotationIntervalMS uint32 = 24 * 60 * 60 * 1000

// OverlapWindowMS is how long decryption keeps accepting packets bound to
// the previous session after rotation.
const OverlapWindowMS uint32 = 5 * 60 * 1000

// KDF selects which primitive derives the session key from the master key.
// Both endpoints of a link must agree on the same KDF.
type KDF int

const (
	// KDFAEAD is the spec's default: AEAD_encrypt used as a one-shot KDF,
	// so the core never needs a second cryptographic primitive.
	KDFAEAD KDF = iota
	// KDFHKDFSHA256 is the explicitly-allowed substitute for deployments
	// that prefer a dedicated key-derivation function.
	KDFHKDFSHA256
)

// State holds the live key material for one node: the master key (never
// transmitted) and the current/previous session keys used during the
// rotation overlap window.
type State struct {
	MasterKey [aead.KeySize]byte

	kdf KDF

	currentID      uint32
	currentKey     [aead.KeySize]byte
	currentStarted uint32

	hasPrevious bool
	previousID  uint32
	previousKey [aead.KeySize]byte
}

// NewState builds session state from a master key and the first session id,
// deriving the initial session key immediately.
func NewState(masterKey [aead.KeySize]byte, sessionID uint32, kdf KDF, nowMS uint32) (*State, error) {
	s := &State{MasterKey: masterKey, kdf: kdf}
	key, err := Derive(masterKey, sessionID, kdf)
	if err != nil {
		return nil, err
	}
	s.currentID = sessionID
	s.currentKey = key
	s.currentStarted = nowMS
	return s, nil
}

// Derive computes session_key from master_key and session_id using the
// selected KDF.
//
// KDFAEAD: session_key = AEAD_encrypt(master_key, zero_nonce, AAD=∅,
// plaintext = master_key ∥ session_id_be)[ciphertext][0:32].
//
// KDFHKDFSHA256: session_key = HKDF-SHA256(secret=master_key,
// salt=nil, info="meshstatic-session"∥session_id_be, length=32).
func Derive(masterKey [aead.KeySize]byte, sessionID uint32, kdf KDF) ([aead.KeySize]byte, error) {
	var out [aead.KeySize]byte

	switch kdf {
	case KDFHKDFSHA256:
		info := make([]byte, len("meshstatic-session")+4)
		copy(info, []byte("meshstatic-session"))
		binary.BigEndian.PutUint32(info[len("meshstatic-session"):], sessionID)

		r := hkdf.New(sha256.New, masterKey[:], nil, info)
		if _, err := io.ReadFull(r, out[:]); err != nil {
			return out, err
		}
		return out, nil

	default: // KDFAEAD
		var idBE [4]byte
		binary.BigEndian.PutUint32(idBE[:], sessionID)

		plaintext := make([]byte, 0, aead.KeySize+4)
		plaintext = append(plaintext, masterKey[:]...)
		plaintext = append(plaintext, idBE[:]...)
		defer aead.Wipe(plaintext)

		var zeroNonce [aead.NonceSize]byte
		ciphertext, _, err := aead.Seal(masterKey, zeroNonce, nil, plaintext)
		if err != nil {
			return out, err
		}
		copy(out[:], ciphertext[:aead.KeySize])
		return out, nil
	}
}

// Current returns the active session id and key.
func (s *State) Current() (id uint32, key [aead.KeySize]byte) {
	return s.currentID, s.currentKey
}

// KeyFor returns the session key bound to id, considering both the current
// session and, within the overlap window, the previous one. ok is false for
// an unknown session id.
func (s *State) KeyFor(id uint32, nowMS uint32) (key [aead.KeySize]byte, ok bool) {
	if id == s.currentID {
		return s.currentKey, true
	}
	if s.hasPrevious && id == s.previousID && nowMS-s.currentStarted < OverlapWindowMS {
		return s.previousKey, true
	}
	return key, false
}

// CandidateKeys returns every session key a received packet might
// plausibly be bound to, most-likely-first: the current session, and — if
// a rotation has happened and the overlap window hasn't elapsed — the
// previous one. The wire format carries no explicit session id, so the
// engine tries each candidate against the AEAD tag in turn.
func (s *State) CandidateKeys(nowMS uint32) [][aead.KeySize]byte {
	keys := [][aead.KeySize]byte{s.currentKey}
	if s.hasPrevious && nowMS-s.currentStarted < OverlapWindowMS {
		keys = append(keys, s.previousKey)
	}
	return keys
}

// MaybeRotate adopts a new session id if RotationIntervalMS has elapsed
// since the current session started. newID is supplied by the caller
// (typically currentID+1); it is the caller's responsibility to keep ids
// monotonically advancing and, in a multi-node deployment, agreed-upon out
// of band.
func (s *State) MaybeRotate(nowMS uint32, newID uint32) (rotated bool, err error) {
	if nowMS-s.currentStarted < RotationIntervalMS {
		return false, nil
	}

	newKey, err := Derive(s.MasterKey, newID, s.kdf)
	if err != nil {
		return false, err
	}

	aead.WipeArray32(&s.previousKey)
	s.previousID = s.currentID
	s.previousKey = s.currentKey
	s.hasPrevious = true

	s.currentID = newID
	s.currentKey = newKey
	s.currentStarted = nowMS
	return true, nil
}

// Wipe zeroes all key material held by s. Callers invoke this on shutdown.
func (s *State) Wipe() {
	aead.WipeArray32(&s.MasterKey)
	aead.WipeArray32(&s.currentKey)
	aead.WipeArray32(&s.previousKey)
}

// PacketNonce derives the 12-byte AEAD nonce for a packet from the
// sender-chosen packet id and the source address, per §4.2: nonce[0:4] =
// packet_id (big-endian), nonce[4:10] = src, nonce[10:12] = 0.
//
// Uniqueness of (src, packet_id) pairs within a session is the sender's
// responsibility; this function does not and cannot enforce it.
func PacketNonce(packetID uint32, src meshaddr.Address) [aead.NonceSize]byte {
	var nonce [aead.NonceSize]byte
	binary.BigEndian.PutUint32(nonce[0:4], packetID)
	copy(nonce[4:10], src[:])
	return nonce
}
