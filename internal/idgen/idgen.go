// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Generator produces unique identifiers. Services take a Generator rather
// than calling the package functions directly so tests can substitute a
// deterministic implementation.
type Generator interface {
	Generate(prefix string) string
}

// Crypto is the production Generator backed by crypto/rand.
type Crypto struct{}

// Generate returns prefix + 24 hex chars (12 random bytes).
func (Crypto) Generate(prefix string) string {
	return WithPrefix(prefix)
}

// New generates a UUID-like random ID (32 hex chars with dashes).
// Format: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix generates a random ID with a prefix (e.g. "obl_", "tok_", "pay_").
// Result is prefix + 24 hex chars (12 random bytes, 96 bits of entropy).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
