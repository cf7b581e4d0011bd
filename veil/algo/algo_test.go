package algo

import (
	"bytes"
	"errors"
	"testing"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{ID: IDX25519, Category: CategoryKeyExchange, Impl: X25519{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.KeyExchange(IDX25519); err != nil {
		t.Fatalf("KeyExchange: %v", err)
	}
	if _, err := r.KeyExchange("nope"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{ID: IDSHA256, Category: CategoryHash, Impl: SHA256{}}
	if err := r.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(d); !errors.Is(err, ErrDuplicateAlgorithm) {
		t.Fatalf("expected ErrDuplicateAlgorithm, got %v", err)
	}
	// Same id in another category is a different namespace.
	if err := r.Register(Descriptor{ID: IDSHA256, Category: CategoryAEAD, Impl: ChaCha20Poly1305{}}); err != nil {
		t.Fatalf("cross-category register: %v", err)
	}
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	err := r.Register(Descriptor{ID: IDSHA256, Category: CategoryHash, Impl: SHA256{}})
	if !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestRegistryBadImplementation(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Descriptor{ID: "bogus", Category: CategoryAEAD, Impl: SHA256{}})
	if !errors.Is(err, ErrBadImplementation) {
		t.Fatalf("expected ErrBadImplementation, got %v", err)
	}
}

func TestDefaultRegistryIDs(t *testing.T) {
	r := Default()
	if got := r.IDs(CategoryKeyExchange); len(got) != 2 || got[0] != IDX25519 {
		t.Fatalf("key exchange ids: %v", got)
	}
	if got := r.IDs(CategoryHash); len(got) != 3 {
		t.Fatalf("hash ids: %v", got)
	}
}

func TestExchangeRoundTrips(t *testing.T) {
	for _, id := range []string{IDX25519, IDMLKEM768} {
		t.Run(id, func(t *testing.T) {
			kex, err := Default().KeyExchange(id)
			if err != nil {
				t.Fatalf("KeyExchange: %v", err)
			}
			initiator, err := kex.NewExchange()
			if err != nil {
				t.Fatalf("NewExchange initiator: %v", err)
			}
			responder, err := kex.NewExchange()
			if err != nil {
				t.Fatalf("NewExchange responder: %v", err)
			}

			param, err := initiator.Parameter()
			if err != nil {
				t.Fatalf("Parameter: %v", err)
			}
			reply, respSecret, err := responder.Exchange(param)
			if err != nil {
				t.Fatalf("Exchange: %v", err)
			}
			initSecret, err := initiator.Complete(reply)
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}

			if len(initSecret) == 0 || !bytes.Equal(initSecret, respSecret) {
				t.Fatalf("shared secrets do not match")
			}
		})
	}
}

func TestExchangeRejectsBadParameter(t *testing.T) {
	for _, id := range []string{IDX25519, IDMLKEM768} {
		t.Run(id, func(t *testing.T) {
			kex, _ := Default().KeyExchange(id)
			ex, err := kex.NewExchange()
			if err != nil {
				t.Fatalf("NewExchange: %v", err)
			}
			if _, _, err := ex.Exchange([]byte("short")); err == nil {
				t.Fatalf("expected error for bad peer parameter")
			}
		})
	}
}

func TestAEADRoundTrip(t *testing.T) {
	for _, id := range []string{IDChaCha20Poly1305, IDAES256GCM} {
		t.Run(id, func(t *testing.T) {
			a, err := Default().AEAD(id)
			if err != nil {
				t.Fatalf("AEAD: %v", err)
			}
			key := make([]byte, a.KeySize())
			for i := range key {
				key[i] = byte(i)
			}
			aead, err := a.New(key)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			nonce := make([]byte, aead.NonceSize())
			plaintext := []byte("frame payload")
			ad := []byte("epoch and sequence")

			ct := aead.Seal(nil, nonce, plaintext, ad)
			pt, err := aead.Open(nil, nonce, ct, ad)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(pt, plaintext) {
				t.Fatalf("decrypted != plaintext")
			}

			ct[0] ^= 0xff
			if _, err := aead.Open(nil, nonce, ct, ad); err == nil {
				t.Fatalf("tampered ciphertext accepted")
			}
		})
	}
}

func TestAEADKeySize(t *testing.T) {
	a, _ := Default().AEAD(IDChaCha20Poly1305)
	if _, err := a.New(make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestCipherStreamRoundTrip(t *testing.T) {
	for _, id := range []string{IDChaCha20, IDAES256CTR} {
		t.Run(id, func(t *testing.T) {
			c, err := Default().Cipher(id)
			if err != nil {
				t.Fatalf("Cipher: %v", err)
			}
			key := make([]byte, c.KeySize())
			iv := make([]byte, c.IVSize())
			for i := range key {
				key[i] = byte(i * 3)
			}

			plaintext := []byte("at-rest key material")
			enc, err := c.NewStream(key, iv)
			if err != nil {
				t.Fatalf("NewStream: %v", err)
			}
			ct := make([]byte, len(plaintext))
			enc.XORKeyStream(ct, plaintext)
			if bytes.Equal(ct, plaintext) {
				t.Fatalf("keystream did not change plaintext")
			}

			dec, err := c.NewStream(key, iv)
			if err != nil {
				t.Fatalf("NewStream: %v", err)
			}
			pt := make([]byte, len(ct))
			dec.XORKeyStream(pt, ct)
			if !bytes.Equal(pt, plaintext) {
				t.Fatalf("stream round trip failed")
			}
		})
	}
}

func TestHashSizes(t *testing.T) {
	cases := map[string]int{
		IDSHA256:     32,
		IDSHA512:     64,
		IDBLAKE2b256: 32,
	}
	for id, size := range cases {
		h, err := Default().Hash(id)
		if err != nil {
			t.Fatalf("Hash(%s): %v", id, err)
		}
		if h.Size() != size {
			t.Fatalf("%s size = %d, want %d", id, h.Size(), size)
		}
		sum := h.New()
		sum.Write([]byte("abc"))
		if len(sum.Sum(nil)) != size {
			t.Fatalf("%s digest length mismatch", id)
		}
	}
}

func TestDeriveKey(t *testing.T) {
	h, _ := Default().Hash(IDSHA256)
	secret := []byte("shared secret")
	salt := []byte("transcript hash")

	k1, err := DeriveKey(h, secret, salt, []byte("info"), 64)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(k1) != 64 {
		t.Fatalf("derived length = %d", len(k1))
	}

	k2, err := DeriveKey(h, secret, salt, []byte("info"), 64)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("derivation is not deterministic")
	}

	k3, _ := DeriveKey(h, secret, salt, []byte("other"), 64)
	if bytes.Equal(k1, k3) {
		t.Fatalf("different info produced identical keys")
	}
}
