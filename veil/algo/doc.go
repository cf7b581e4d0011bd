// Package algo defines the algorithm registry and the capability contracts
// for pluggable cryptographic implementations.
//
// Categories are independent namespaces: key exchange, stream cipher, AEAD
// and hash. A registry is assembled once at startup, frozen, and then shared
// read-only by every session. Two peers interoperate as long as they share
// at least one registered algorithm per category.
package algo
