package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Domain prefixes for derived keys. Version suffix enables future algorithm
// migration. Artifact hashes are NOT domain separated: they are plain
// SHA-256 over canonical JSON so any consumer can recompute them.
const (
	DomainIdempotencyScope = "gooi/idempotency-scope/v1"
	DomainSignalPayload    = "gooi/signal-payload/v1"
)

// IntegrityPrefix is the algorithm prefix of integrity strings.
const IntegrityPrefix = "sha256:"

var (
	hexDigestPattern       = regexp.MustCompile(`^[0-9a-f]{64}$`)
	integrityDigestPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

// StableHash returns the lowercase hex SHA-256 of StableStringify(v).
func StableHash(v any) (string, error) {
	data, err := StableStringify(v)
	if err != nil {
		return "", fmt.Errorf("stable hash: %w", err)
	}
	return HashBytes(data), nil
}

// MustStableHash is like StableHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStableHash(v any) string {
	h, err := StableHash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IntegrityDigest returns "sha256:<hex>" for data, the lockfile integrity format.
func IntegrityDigest(data []byte) string {
	return IntegrityPrefix + HashBytes(data)
}

// IsHexDigest reports whether s is a 64-character lowercase hex digest.
func IsHexDigest(s string) bool {
	return hexDigestPattern.MatchString(s)
}

// IsIntegrityDigest reports whether s has the form sha256:<64 lowercase hex>.
func IsIntegrityDigest(s string) bool {
	return integrityDigestPattern.MatchString(s)
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DomainHash canonicalizes v and hashes it under the given domain.
func DomainHash(domain string, v any) (string, error) {
	data, err := StableStringify(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}
