// Package veil provides the building blocks of the VEIL secure session
// layer: a pluggable algorithm registry, downgrade-resistant capability
// negotiation, an authenticated key exchange bound to Ed25519 peer
// identities, and an AEAD-protected channel with replay protection and
// transparent key rotation.
//
// The subpackages can be used directly for custom transports; Peer in
// this package wires them to QUIC for the common case.
package veil
