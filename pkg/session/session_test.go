package session

import (
	"testing"

	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
)

func testMasterKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestDeriveIsDeterministic(t *testing.T) {
	master := testMasterKey()
	k1, err := Derive(master, 1, KDFAEAD)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	k2, err := Derive(master, 1, KDFAEAD)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if k1 != k2 {
		t.Fatal("Derive is not deterministic for the same master key and session id")
	}
}

func TestDeriveDiffersBySessionID(t *testing.T) {
	master := testMasterKey()
	k1, _ := Derive(master, 1, KDFAEAD)
	k2, _ := Derive(master, 2, KDFAEAD)
	if k1 == k2 {
		t.Fatal("different session ids produced the same key")
	}
}

func TestDeriveHKDFDiffersFromAEAD(t *testing.T) {
	master := testMasterKey()
	k1, _ := Derive(master, 1, KDFAEAD)
	k2, _ := Derive(master, 1, KDFHKDFSHA256)
	if k1 == k2 {
		t.Fatal("KDFAEAD and KDFHKDFSHA256 produced the same key")
	}
}

func TestCandidateKeysDuringOverlap(t *testing.T) {
	master := testMasterKey()
	s, err := NewState(master, 1, KDFAEAD, 0)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	if keys := s.CandidateKeys(0); len(keys) != 1 {
		t.Fatalf("expected 1 candidate key before any rotation, got %d", len(keys))
	}

	rotated, err := s.MaybeRotate(RotationIntervalMS, 2)
	if err != nil {
		t.Fatalf("MaybeRotate: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation at the rotation interval")
	}

	keys := s.CandidateKeys(RotationIntervalMS)
	if len(keys) != 2 {
		t.Fatalf("expected 2 candidate keys within the overlap window, got %d", len(keys))
	}

	keysAfterOverlap := s.CandidateKeys(RotationIntervalMS + OverlapWindowMS)
	if len(keysAfterOverlap) != 1 {
		t.Fatalf("expected 1 candidate key after the overlap window elapses, got %d", len(keysAfterOverlap))
	}
}

func TestMaybeRotateBeforeInterval(t *testing.T) {
	s, err := NewState(testMasterKey(), 1, KDFAEAD, 0)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	rotated, err := s.MaybeRotate(RotationIntervalMS-1, 2)
	if err != nil {
		t.Fatalf("MaybeRotate: %v", err)
	}
	if rotated {
		t.Fatal("did not expect rotation before the interval elapses")
	}
}

func TestPacketNonceLayout(t *testing.T) {
	var src meshaddr.Address
	for i := range src {
		src[i] = byte(0x10 + i)
	}
	nonce := PacketNonce(0x01020304, src)

	want := [4]byte{0x01, 0x02, 0x03, 0x04}
	if nonce[0] != want[0] || nonce[1] != want[1] || nonce[2] != want[2] || nonce[3] != want[3] {
		t.Fatalf("packet id not big-endian in nonce[0:4]: got %v", nonce[:4])
	}
	for i := 0; i < 6; i++ {
		if nonce[4+i] != src[i] {
			t.Fatalf("src mismatch at nonce offset %d", 4+i)
		}
	}
	if nonce[10] != 0 || nonce[11] != 0 {
		t.Fatal("expected trailing nonce bytes to be zero")
	}
}
