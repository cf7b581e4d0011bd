// Package commands implements the veilchat CLI: identity management and
// an interactive encrypted chat over the VEIL session layer.
package commands
