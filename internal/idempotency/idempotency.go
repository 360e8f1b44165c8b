// Package idempotency derives idempotency scope keys and input hashes and
// defines the replay store contract with its in-memory and Redis
// implementations.
//
// A scope is written at most once: Save is check-and-set, the first writer
// wins, and later writers get ErrScopeTaken. Expiry is logical and checked
// on lookup; stores are not required to prune.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// DefaultTTLSeconds is the replay window used when none is configured.
const DefaultTTLSeconds int64 = 24 * 60 * 60

// ErrScopeTaken is returned by Save when a live record already exists.
var ErrScopeTaken = errors.New("idempotency scope already recorded")

// Record is the stored outcome of the first execution in a scope.
type Record struct {
	InputHash      string             `json:"inputHash"`
	ResultEnvelope *ir.ResultEnvelope `json:"resultEnvelope"`
	CreatedAt      string             `json:"createdAt"`
	TTLSeconds     int64              `json:"ttlSeconds"`
}

// ExpiresAt returns CreatedAt + TTL.
func (r Record) ExpiresAt() (time.Time, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("record createdAt %q: %w", r.CreatedAt, err)
	}
	return created.Add(time.Duration(r.TTLSeconds) * time.Second), nil
}

// Expired reports whether the record is past its TTL at now. A record with
// an unparseable timestamp never expires.
func (r Record) Expired(now time.Time) bool {
	exp, err := r.ExpiresAt()
	if err != nil {
		return false
	}
	return !now.Before(exp)
}

// Store is the replay store port.
type Store interface {
	// Load returns the record for scopeKey, or nil if none exists.
	Load(ctx context.Context, scopeKey string) (*Record, error)
	// Save writes rec if no live record exists for scopeKey, judged at
	// rec.CreatedAt. Otherwise it returns ErrScopeTaken.
	Save(ctx context.Context, scopeKey string, rec Record) error
}

// ScopeLocker serializes work on one scope key. Stores that implement it
// let concurrent duplicate submissions converge on a single execution.
type ScopeLocker interface {
	LockScope(ctx context.Context, scopeKey string) (func(), error)
}

// ScopeKey derives the scope key for (entrypointID, idempotencyKey).
func ScopeKey(entrypointID, idempotencyKey string) (string, error) {
	return ir.DomainHash(ir.DomainIdempotencyScope, map[string]any{
		"entrypointId":   entrypointID,
		"idempotencyKey": idempotencyKey,
	})
}

// InputHash is the StableHash of the normalized mutation input. Strings are
// NFC-normalized first, so inputs differing only in Unicode normalization
// form hash equal and replay rather than conflict.
func InputHash(input any) (string, error) {
	return ir.StableHash(input)
}

// ValidateTTL rejects non-positive TTLs with a configuration_error.
func ValidateTTL(seconds int64) error {
	if seconds <= 0 {
		return ir.NewError(ir.ErrCodeConfiguration, "replay TTL must be a positive number of seconds, got %d", seconds).
			WithDetail("ttlSeconds", seconds)
	}
	return nil
}

func liveAt(rec *Record, at string) bool {
	if rec == nil {
		return false
	}
	now, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return true
	}
	return !rec.Expired(now)
}
