package negotiate

import (
	"crypto/sha256"
	"hash"
)

// Transcript accumulates every negotiation and handshake message, in the
// order exchanged, into a running hash. Both peers feed the same bytes in
// the same order, so equal transcript hashes prove neither side's messages
// were altered in transit.
//
// The transcript hash is pinned to SHA-256 as a wire constant: it must be
// computable before any algorithm has been negotiated. The negotiated hash
// algorithm governs key derivation instead.
type Transcript struct {
	h hash.Hash
}

func NewTranscript() *Transcript {
	return &Transcript{h: sha256.New()}
}

// Absorb appends one protocol message to the transcript.
func (t *Transcript) Absorb(message []byte) {
	t.h.Write(message)
}

// Sum returns the current transcript hash without disturbing the running
// state.
func (t *Transcript) Sum() [32]byte {
	var out [32]byte
	t.h.Sum(out[:0])
	return out
}
