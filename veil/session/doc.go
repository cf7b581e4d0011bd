// Package session implements the VEIL secure session: capability
// negotiation, the key-exchange handshake, authenticated data framing with
// replay protection, rekeying and the session lifecycle state machine.
//
// A Session is transport-agnostic. Callers feed it raw incoming bytes and
// transmit whatever bytes its methods return; the session never touches the
// network itself and never retries an exchange on its own.
package session
