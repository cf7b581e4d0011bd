package algo

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	IDSHA256     = "sha256"
	IDSHA512     = "sha512"
	IDBLAKE2b256 = "blake2b256"
)

type SHA256 struct{}

func (SHA256) Size() int      { return sha256.Size }
func (SHA256) New() hash.Hash { return sha256.New() }

type SHA512 struct{}

func (SHA512) Size() int      { return sha512.Size }
func (SHA512) New() hash.Hash { return sha512.New() }

// BLAKE2b256 is unkeyed BLAKE2b with a 256-bit digest.
type BLAKE2b256 struct{}

func (BLAKE2b256) Size() int { return 32 }

func (BLAKE2b256) New() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 with a nil key cannot fail.
		panic(err)
	}
	return h
}
