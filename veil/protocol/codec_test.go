package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameEncodeStream(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Type: MessageTypeData, Payload: []byte("payload bytes")}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != f.Type || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("frame round trip mismatch: %+v", got)
	}
}

func TestFrameEncodeMatchesWriteFrame(t *testing.T) {
	f := Frame{Type: MessageTypeCapabilities, Payload: []byte{1, 2, 3}}
	enc, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !bytes.Equal(enc, buf.Bytes()) {
		t.Fatalf("Encode and WriteFrame disagree")
	}
}

func TestFrameRejectsOversizePayload(t *testing.T) {
	f := Frame{Type: MessageTypeData, Payload: make([]byte, MaxFramePayload+1)}
	if _, err := f.Encode(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameRejectsZeroType(t *testing.T) {
	if _, err := (Frame{Type: 0}).Encode(); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestParserPartialDelivery(t *testing.T) {
	f1 := Frame{Type: MessageTypeData, Payload: []byte("first")}
	f2 := Frame{Type: MessageTypeClose}
	b1, _ := f1.Encode()
	b2, _ := f2.Encode()
	stream := append(append([]byte(nil), b1...), b2...)

	var p Parser
	var got []Frame
	// Deliver one byte at a time; frames must appear exactly when complete.
	for _, c := range stream {
		p.Push([]byte{c})
		for {
			f, ok, err := p.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, f)
		}
	}
	if len(got) != 2 {
		t.Fatalf("parsed %d frames, want 2", len(got))
	}
	if got[0].Type != MessageTypeData || !bytes.Equal(got[0].Payload, []byte("first")) {
		t.Fatalf("first frame mismatch: %+v", got[0])
	}
	if got[1].Type != MessageTypeClose || len(got[1].Payload) != 0 {
		t.Fatalf("second frame mismatch: %+v", got[1])
	}
}

func TestParserRejectsOversizeHeader(t *testing.T) {
	var p Parser
	p.Push([]byte{byte(MessageTypeData), 0xff, 0xff, 0xff, 0xff})
	if _, _, err := p.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	c := Capabilities{
		Role:        1,
		KeyExchange: []string{"x25519", "mlkem768"},
		Cipher:      []string{"chacha20"},
		AEAD:        []string{"chacha20poly1305", "aes256-gcm"},
		Hash:        []string{"sha256"},
	}
	for i := range c.Nonce {
		c.Nonce[i] = byte(i)
	}

	got, err := DecodeCapabilities(EncodeCapabilities(c))
	if err != nil {
		t.Fatalf("DecodeCapabilities: %v", err)
	}
	if got.Role != c.Role || got.Nonce != c.Nonce {
		t.Fatalf("header mismatch: %+v", got)
	}
	if len(got.KeyExchange) != 2 || got.KeyExchange[1] != "mlkem768" {
		t.Fatalf("key exchange list mismatch: %v", got.KeyExchange)
	}
	if len(got.AEAD) != 2 || got.AEAD[0] != "chacha20poly1305" {
		t.Fatalf("aead list mismatch: %v", got.AEAD)
	}
}

func TestCapabilitiesRejectsTruncation(t *testing.T) {
	c := Capabilities{Role: 2, KeyExchange: []string{"x25519"}}
	enc := EncodeCapabilities(c)
	for cut := 1; cut < len(enc); cut++ {
		if _, err := DecodeCapabilities(enc[:cut]); err == nil {
			t.Fatalf("truncation at %d accepted", cut)
		}
	}
}

func TestHandshakeStepRoundTrip(t *testing.T) {
	h := HandshakeStep{
		Step:        HandshakeStepRespond,
		Parameter:   bytes.Repeat([]byte{0xab}, 1088),
		IdentityKey: bytes.Repeat([]byte{0x01}, 32),
		Signature:   bytes.Repeat([]byte{0x02}, 64),
	}
	got, err := DecodeHandshakeStep(EncodeHandshakeStep(h))
	if err != nil {
		t.Fatalf("DecodeHandshakeStep: %v", err)
	}
	if got.Step != h.Step ||
		!bytes.Equal(got.Parameter, h.Parameter) ||
		!bytes.Equal(got.IdentityKey, h.IdentityKey) ||
		!bytes.Equal(got.Signature, h.Signature) {
		t.Fatalf("handshake step mismatch")
	}
}

func TestHandshakeStepRejectsBadStep(t *testing.T) {
	enc := EncodeHandshakeStep(HandshakeStep{Step: 7})
	if _, err := DecodeHandshakeStep(enc); !errors.Is(err, ErrBadHandshake) {
		t.Fatalf("expected ErrBadHandshake, got %v", err)
	}
}

func TestDataFrameRoundTrip(t *testing.T) {
	d := DataFrame{Epoch: 3, Seq: 1 << 40, Ciphertext: []byte("sealed")}
	got, err := DecodeDataFrame(EncodeDataFrame(d))
	if err != nil {
		t.Fatalf("DecodeDataFrame: %v", err)
	}
	if got.Epoch != d.Epoch || got.Seq != d.Seq || !bytes.Equal(got.Ciphertext, d.Ciphertext) {
		t.Fatalf("data frame mismatch: %+v", got)
	}
}

func TestAssociatedDataBindsEpoch(t *testing.T) {
	a := AssociatedData(1, 7, nil)
	b := AssociatedData(2, 7, nil)
	if bytes.Equal(a, b) {
		t.Fatalf("associated data ignores epoch")
	}
	c := AssociatedData(1, 7, []byte("extra"))
	if !bytes.Equal(c[:12], a) || !bytes.Equal(c[12:], []byte("extra")) {
		t.Fatalf("extra bytes not appended")
	}
}
