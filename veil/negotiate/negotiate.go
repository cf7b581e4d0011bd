// Package negotiate selects a mutually supported algorithm set from two
// peers' capability lists and binds the outcome to a transcript hash so
// downgrade attempts are detected during the handshake.
package negotiate

import (
	"errors"
	"fmt"

	"github.com/veil-im/veil/veil/algo"
)

var ErrNoCommonAlgorithm = errors.New("negotiate: no common algorithm")

// Role distinguishes the two ends of a negotiation. The initiator's
// preference order is authoritative when ranking the intersection.
type Role uint8

const (
	RoleInitiator Role = 1
	RoleResponder Role = 2
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// CapabilitySet is one peer's preference-ranked algorithm support,
// strongest preference first.
type CapabilitySet struct {
	KeyExchange []string
	Cipher      []string
	AEAD        []string
	Hash        []string
}

// FromRegistry builds a capability set from a registry's registration order.
func FromRegistry(r *algo.Registry) CapabilitySet {
	return CapabilitySet{
		KeyExchange: r.IDs(algo.CategoryKeyExchange),
		Cipher:      r.IDs(algo.CategoryCipher),
		AEAD:        r.IDs(algo.CategoryAEAD),
		Hash:        r.IDs(algo.CategoryHash),
	}
}

// Clone returns a deep copy.
func (c CapabilitySet) Clone() CapabilitySet {
	return CapabilitySet{
		KeyExchange: append([]string(nil), c.KeyExchange...),
		Cipher:      append([]string(nil), c.Cipher...),
		AEAD:        append([]string(nil), c.AEAD...),
		Hash:        append([]string(nil), c.Hash...),
	}
}

// Result is the selected algorithm per category. Immutable once produced;
// it is valid for a single handshake attempt.
type Result struct {
	KeyExchange string
	Cipher      string
	AEAD        string
	Hash        string
}

// Negotiate computes per-category intersections of local and remote and
// picks the algorithm the initiator ranks highest. role states which side
// local is. Failure is atomic: if any category has an empty intersection,
// no Result is produced.
func Negotiate(local, remote CapabilitySet, role Role) (Result, error) {
	initiator, responder := local, remote
	if role == RoleResponder {
		initiator, responder = remote, local
	}

	var res Result
	var err error
	if res.KeyExchange, err = pick(initiator.KeyExchange, responder.KeyExchange, algo.CategoryKeyExchange); err != nil {
		return Result{}, err
	}
	if res.Cipher, err = pick(initiator.Cipher, responder.Cipher, algo.CategoryCipher); err != nil {
		return Result{}, err
	}
	if res.AEAD, err = pick(initiator.AEAD, responder.AEAD, algo.CategoryAEAD); err != nil {
		return Result{}, err
	}
	if res.Hash, err = pick(initiator.Hash, responder.Hash, algo.CategoryHash); err != nil {
		return Result{}, err
	}
	return res, nil
}

// pick returns the first entry of the initiator's list that the responder
// also supports.
func pick(initiator, responder []string, category algo.Category) (string, error) {
	for _, id := range initiator {
		for _, other := range responder {
			if id == other {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoCommonAlgorithm, category)
}
