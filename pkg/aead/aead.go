// Package aead implements the ChaCha20-Poly1305 AEAD composition from
// RFC 8439 by hand on top of the golang.org/x/crypto/chacha20 stream cipher
// and golang.org/x/crypto/poly1305 one-time MAC primitives, matching the
// construction in §4.2 of the protocol spec: a counter-0 block produces the
// 64-byte Poly1305 key (first 32 bytes used), data encryption begins at
// counter 1, and the MAC absorbs AAD, padding, ciphertext, padding, and a
// 16-byte little-endian length trailer.
package aead

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// ErrAuthFailure is returned by Open when the tag does not verify. Callers
// must never release the scratch plaintext buffer to anything but the
// AEAD layer itself when this is returned.
var ErrAuthFailure = errors.New("aead: authentication failed")

// Seal encrypts plaintext with key and nonce, authenticating aad alongside
// it, and returns ciphertext (same length as plaintext) and a 16-byte tag.
func Seal(key [KeySize]byte, nonce [NonceSize]byte, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	polyKey, err := deriveOneTimeKey(key, nonce)
	if err != nil {
		return nil, nil, err
	}
	defer Wipe(polyKey[:])

	ciphertext = make([]byte, len(plaintext))
	if err := xorKeystream(key, nonce, 1, plaintext, ciphertext); err != nil {
		return nil, nil, err
	}

	mac := computeTag(polyKey, aad, ciphertext)
	return ciphertext, mac, nil
}

// Open decrypts ciphertext with key and nonce, verifying tag against aad in
// constant time. On any mismatch it returns ErrAuthFailure and nil
// plaintext; no partial or unauthenticated plaintext is ever returned.
func Open(key [KeySize]byte, nonce [NonceSize]byte, aad, ciphertext, tag []byte) ([]byte, error) {
	if len(tag) != TagSize {
		return nil, ErrAuthFailure
	}

	polyKey, err := deriveOneTimeKey(key, nonce)
	if err != nil {
		return nil, ErrAuthFailure
	}
	defer Wipe(polyKey[:])

	expected := computeTag(polyKey, aad, ciphertext)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		Wipe(expected)
		return nil, ErrAuthFailure
	}
	Wipe(expected)

	plaintext := make([]byte, len(ciphertext))
	if err := xorKeystream(key, nonce, 1, ciphertext, plaintext); err != nil {
		Wipe(plaintext)
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// deriveOneTimeKey runs the cipher at counter 0 over 64 zero bytes and
// keeps the first 32 as the Poly1305 one-time key.
func deriveOneTimeKey(key [KeySize]byte, nonce [NonceSize]byte) (out [32]byte, err error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return out, err
	}
	var block [64]byte
	c.XORKeyStream(block[:], block[:])
	copy(out[:], block[:32])
	Wipe(block[:])
	return out, nil
}

func xorKeystream(key [KeySize]byte, nonce [NonceSize]byte, counter uint32, src, dst []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return err
	}
	c.SetCounter(counter)
	c.XORKeyStream(dst, src)
	return nil
}

// computeTag absorbs aad, zero-padding to the next 16-byte boundary,
// ciphertext, zero-padding, and a 16-byte little-endian (aad_len,
// ciphertext_len) trailer, per RFC 8439 §2.8.
func computeTag(polyKey [32]byte, aad, ciphertext []byte) []byte {
	mac := poly1305.New(&polyKey)

	writePadded(mac, aad)
	writePadded(mac, ciphertext)

	var trailer [16]byte
	putUint64LE(trailer[0:8], uint64(len(aad)))
	putUint64LE(trailer[8:16], uint64(len(ciphertext)))
	mac.Write(trailer[:])

	return mac.Sum(nil)
}

func writePadded(mac *poly1305.MAC, data []byte) {
	mac.Write(data)
	if rem := len(data) % 16; rem != 0 {
		var pad [16]byte
		mac.Write(pad[:16-rem])
	}
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// Wipe zeroes b in place. Callers use it on keys, nonces, derived one-time
// keys, and plaintext staging buffers when their owning context is dropped.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeArray32 zeroes a fixed 32-byte key array in place.
func WipeArray32(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
}
