// Package auth holds the credential primitives shared by the key service and
// the middleware: API key generation and hashing, and the role algebra used
// for authorization decisions.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyRandomBytes is the number of random bytes in a generated key,
	// hex-encoded to twice as many characters after the prefix.
	KeyRandomBytes = 32

	// BcryptCost for hashing key secrets. 12 is slow enough to blunt offline
	// cracking of a leaked hash while staying well under interactive latency
	// budgets for the verify path.
	BcryptCost = 12

	// PrefixLength is how many leading characters of the plaintext key are
	// stored alongside the hash. The prefix narrows the verify lookup to one
	// indexed row; it reveals nothing beyond the fixed "ak_" marker and a few
	// hex digits.
	PrefixLength = 10
)

// GeneratedKey is the result of minting a new API key. PlainKey is shown to
// the caller exactly once; only Hash and Prefix are persisted.
type GeneratedKey struct {
	PlainKey string
	Hash     string
	Prefix   string
}

// GenerateKey mints a new API key of the form <prefix><64 hex chars>, hashes
// it with bcrypt, and returns the triple to store and return.
func GenerateKey(prefix string) (*GeneratedKey, error) {
	raw := make([]byte, KeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}
	plain := prefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing key: %w", err)
	}

	return &GeneratedKey{
		PlainKey: plain,
		Hash:     string(hash),
		Prefix:   plain[:PrefixLength],
	}, nil
}

// CompareKey reports whether plainKey matches the stored bcrypt hash.
func CompareKey(hash, plainKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plainKey)) == nil
}

// KeyLookupPrefix returns the stored-prefix form of a presented key, or ""
// when the key is too short to possibly be valid.
func KeyLookupPrefix(plainKey string) string {
	if len(plainKey) < PrefixLength {
		return ""
	}
	return plainKey[:PrefixLength]
}

// MaskKey renders a key for logs and list responses: the stored prefix
// followed by an ellipsis. Safe to log.
func MaskKey(prefix string) string {
	return prefix + "..."
}

// PlausibleKey is a cheap shape check run before any database work: correct
// marker prefix and long enough to contain the full random part. It exists to
// shed garbage input early, not as a security boundary.
func PlausibleKey(prefix, plainKey string) bool {
	return strings.HasPrefix(plainKey, prefix) &&
		len(plainKey) == len(prefix)+KeyRandomBytes*2
}
