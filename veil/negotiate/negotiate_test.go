package negotiate

import (
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/veil-im/veil/veil/algo"
)

func fullSet(kex, cipher, aead, hash []string) CapabilitySet {
	return CapabilitySet{KeyExchange: kex, Cipher: cipher, AEAD: aead, Hash: hash}
}

func TestNegotiateInitiatorPreferenceWins(t *testing.T) {
	initiator := fullSet(
		[]string{"x25519", "mlkem768"},
		[]string{"chacha20"},
		[]string{"chacha20poly1305", "aes256-gcm"},
		[]string{"sha256"},
	)
	responder := fullSet(
		[]string{"mlkem768", "x25519"},
		[]string{"chacha20"},
		[]string{"aes256-gcm", "chacha20poly1305"},
		[]string{"sha256"},
	)

	res, err := Negotiate(initiator, responder, RoleInitiator)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.KeyExchange != "x25519" {
		t.Fatalf("key exchange = %q, want initiator's first choice", res.KeyExchange)
	}
	if res.AEAD != "chacha20poly1305" {
		t.Fatalf("aead = %q, want initiator's first choice", res.AEAD)
	}
}

func TestNegotiateOverlapMiddle(t *testing.T) {
	// {X, Y} meets {Y, Z}: Y is the only common entry.
	initiator := fullSet([]string{"algX", "algY"}, []string{"c"}, []string{"a"}, []string{"h"})
	responder := fullSet([]string{"algY", "algZ"}, []string{"c"}, []string{"a"}, []string{"h"})

	res, err := Negotiate(initiator, responder, RoleInitiator)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.KeyExchange != "algY" {
		t.Fatalf("key exchange = %q, want algY", res.KeyExchange)
	}
}

func TestNegotiateBothRolesAgree(t *testing.T) {
	a := fullSet(
		[]string{"x25519", "mlkem768"},
		[]string{"chacha20", "aes256-ctr"},
		[]string{"aes256-gcm", "chacha20poly1305"},
		[]string{"sha512", "sha256"},
	)
	b := fullSet(
		[]string{"mlkem768", "x25519"},
		[]string{"aes256-ctr"},
		[]string{"chacha20poly1305", "aes256-gcm"},
		[]string{"sha256", "sha512"},
	)

	fromA, err := Negotiate(a, b, RoleInitiator)
	if err != nil {
		t.Fatalf("Negotiate as initiator: %v", err)
	}
	fromB, err := Negotiate(b, a, RoleResponder)
	if err != nil {
		t.Fatalf("Negotiate as responder: %v", err)
	}
	if fromA != fromB {
		t.Fatalf("roles disagree: %+v vs %+v", fromA, fromB)
	}
}

func TestNegotiateAtomicFailure(t *testing.T) {
	// Overlap everywhere except hashes: the whole negotiation fails.
	a := fullSet([]string{"x25519"}, []string{"chacha20"}, []string{"aes256-gcm"}, []string{"sha256"})
	b := fullSet([]string{"x25519"}, []string{"chacha20"}, []string{"aes256-gcm"}, []string{"blake2b256"})

	_, err := Negotiate(a, b, RoleInitiator)
	if !errors.Is(err, ErrNoCommonAlgorithm) {
		t.Fatalf("expected ErrNoCommonAlgorithm, got %v", err)
	}
}

func TestNegotiateDeterministic(t *testing.T) {
	a := FromRegistry(algo.Default())
	b := FromRegistry(algo.Default())

	first, err := Negotiate(a, b, RoleInitiator)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	for i := 0; i < 10; i++ {
		res, err := Negotiate(a, b, RoleInitiator)
		if err != nil {
			t.Fatalf("Negotiate: %v", err)
		}
		if res != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, res, first)
		}
	}
}

func TestCapabilitySetClone(t *testing.T) {
	orig := FromRegistry(algo.Default())
	clone := orig.Clone()
	clone.KeyExchange[0] = "mutated"
	if orig.KeyExchange[0] == "mutated" {
		t.Fatalf("Clone shares backing storage")
	}
}

func TestTranscriptOrderSensitive(t *testing.T) {
	a := NewTranscript()
	a.Absorb([]byte("first"))
	a.Absorb([]byte("second"))

	b := NewTranscript()
	b.Absorb([]byte("second"))
	b.Absorb([]byte("first"))

	if a.Sum() == b.Sum() {
		t.Fatalf("transcript ignores message order")
	}
}

func TestTranscriptSumNonDestructive(t *testing.T) {
	tr := NewTranscript()
	tr.Absorb([]byte("hello"))

	first := tr.Sum()
	second := tr.Sum()
	if first != second {
		t.Fatalf("Sum disturbed the running state")
	}

	want := sha256.Sum256([]byte("hello"))
	if first != want {
		t.Fatalf("transcript hash mismatch")
	}
}
