package algo

import (
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into length bytes of key material using
// HKDF over h. salt may be nil; info binds the output to its context.
func DeriveKey(h Hash, secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(h.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}
