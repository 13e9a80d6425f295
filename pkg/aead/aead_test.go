package aead

import "testing"

func testKey(b byte) [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func testNonce(b byte) [NonceSize]byte {
	var n [NonceSize]byte
	for i := range n {
		n[i] = b
	}
	return n
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(0x42)
	nonce := testNonce(0x01)
	aad := []byte("header-bytes")
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, tag, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(ciphertext) != len(plaintext) {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext))
	}
	if len(tag) != TagSize {
		t.Fatalf("tag length = %d, want %d", len(tag), TagSize)
	}

	got, err := Open(key, nonce, aad, ciphertext, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("decrypted plaintext mismatch: got %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(0x42)
	nonce := testNonce(0x01)
	ciphertext, tag, _ := Seal(key, nonce, nil, []byte("payload"))
	ciphertext[0] ^= 0xFF

	if _, err := Open(key, nonce, nil, ciphertext, tag); err != ErrAuthFailure {
		t.Fatalf("got %v, want ErrAuthFailure", err)
	}
}

func TestOpenRejectsTamperedAAD(t *testing.T) {
	key := testKey(0x42)
	nonce := testNonce(0x01)
	ciphertext, tag, _ := Seal(key, nonce, []byte("aad-one"), []byte("payload"))

	if _, err := Open(key, nonce, []byte("aad-two"), ciphertext, tag); err != ErrAuthFailure {
		t.Fatalf("got %v, want ErrAuthFailure", err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	nonce := testNonce(0x01)
	ciphertext, tag, _ := Seal(testKey(0x42), nonce, nil, []byte("payload"))

	if _, err := Open(testKey(0x43), nonce, nil, ciphertext, tag); err != ErrAuthFailure {
		t.Fatalf("got %v, want ErrAuthFailure", err)
	}
}

func TestOpenRejectsMalformedTagLength(t *testing.T) {
	key := testKey(0x42)
	nonce := testNonce(0x01)
	ciphertext, _, _ := Seal(key, nonce, nil, []byte("payload"))

	if _, err := Open(key, nonce, nil, ciphertext, make([]byte, TagSize-1)); err != ErrAuthFailure {
		t.Fatalf("got %v, want ErrAuthFailure", err)
	}
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not wiped: %d", i, v)
		}
	}
}
