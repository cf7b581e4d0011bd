// Package protocol defines the VEIL wire format: a type-tagged,
// length-prefixed frame container and the payload layouts for capability
// exchange, handshake steps, key confirmation, rekeying, data and close.
//
// Every field width and byte order is fixed (big endian) so that independent
// implementations interoperate bit-exactly.
package protocol
