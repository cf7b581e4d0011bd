package identity

import (
	"testing"
)

func TestPeerIDDerivationStable(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	id1 := kp.PeerID()
	id2 := PeerIDFromPublicKey(kp.PublicKey)
	if id1 != id2 {
		t.Fatalf("PeerID mismatch")
	}

	parsed, err := ParsePeerIDHex(id1.String())
	if err != nil {
		t.Fatalf("ParsePeerIDHex: %v", err)
	}
	if parsed != id1 {
		t.Fatalf("ParsePeerIDHex mismatch")
	}

	if _, err := ParsePeerIDHex("abcd"); err == nil {
		t.Fatalf("expected error for short hex peer id")
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("transcript hash")
	sig := kp.Sign(msg)
	if !Verify(kp.PublicKey, msg, sig) {
		t.Fatalf("signature verification failed")
	}
	if Verify(kp.PublicKey, []byte("tampered"), sig) {
		t.Fatalf("expected verification to fail for tampered message")
	}

	kp2, _ := GenerateKeyPair()
	if Verify(kp2.PublicKey, msg, sig) {
		t.Fatalf("expected verification to fail with different public key")
	}
	if Verify(kp.PublicKey[:16], msg, sig) {
		t.Fatalf("expected verification to fail with truncated public key")
	}
}

func TestNewKeyPairValidatesSizes(t *testing.T) {
	kp, _ := GenerateKeyPair()
	if _, err := NewKeyPair(kp.PublicKey, kp.PrivateKey); err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	if _, err := NewKeyPair(kp.PublicKey[:16], kp.PrivateKey); err == nil {
		t.Fatalf("expected error for short public key")
	}
	if _, err := NewKeyPair(kp.PublicKey, kp.PrivateKey[:16]); err == nil {
		t.Fatalf("expected error for short private key")
	}
}
