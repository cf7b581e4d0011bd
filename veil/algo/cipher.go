package algo

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20"
)

const (
	IDChaCha20  = "chacha20"
	IDAES256CTR = "aes256-ctr"
)

var ErrInvalidIVSize = errors.New("algo: invalid iv size")

// ChaCha20 is the unauthenticated ChaCha20 keystream cipher.
type ChaCha20 struct{}

func (ChaCha20) KeySize() int { return chacha20.KeySize }
func (ChaCha20) IVSize() int  { return chacha20.NonceSize }

func (ChaCha20) NewStream(key, iv []byte) (cipher.Stream, error) {
	if len(key) != chacha20.KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != chacha20.NonceSize {
		return nil, ErrInvalidIVSize
	}
	return chacha20.NewUnauthenticatedCipher(key, iv)
}

// AES256CTR is AES-256 in counter mode.
type AES256CTR struct{}

func (AES256CTR) KeySize() int { return 32 }
func (AES256CTR) IVSize() int  { return aes.BlockSize }

func (AES256CTR) NewStream(key, iv []byte) (cipher.Stream, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != aes.BlockSize {
		return nil, ErrInvalidIVSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}
