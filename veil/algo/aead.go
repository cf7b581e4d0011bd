package algo

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	IDChaCha20Poly1305 = "chacha20poly1305"
	IDAES256GCM        = "aes256-gcm"
)

var ErrInvalidKeySize = errors.New("algo: invalid key size")

// ChaCha20Poly1305 is the RFC 8439 AEAD. Fast on commodity hardware with no
// AES-NI requirement.
type ChaCha20Poly1305 struct{}

func (ChaCha20Poly1305) KeySize() int { return chacha20poly1305.KeySize }

func (ChaCha20Poly1305) New(key []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeySize
	}
	return chacha20poly1305.New(key)
}

// AES256GCM is AES-256 in Galois/Counter Mode.
type AES256GCM struct{}

func (AES256GCM) KeySize() int { return 32 }

func (AES256GCM) New(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
