package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
)

// Load returns the idempotency record for scopeKey, or nil if none exists.
// Expired rows are returned as-is; expiry is judged by the caller.
func (s *Store) Load(ctx context.Context, scopeKey string) (*idempotency.Record, error) {
	var (
		rec     idempotency.Record
		envJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT input_hash, result_envelope, created_at, ttl_seconds
		FROM idempotency_records
		WHERE scope_key = ?
	`, scopeKey).Scan(&rec.InputHash, &envJSON, &rec.CreatedAt, &rec.TTLSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}

	env, err := unmarshalEnvelope(envJSON)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	rec.ResultEnvelope = env
	return &rec, nil
}

// Save writes rec unless a live record exists at rec.CreatedAt, in which
// case it returns idempotency.ErrScopeTaken.
func (s *Store) Save(ctx context.Context, scopeKey string, rec idempotency.Record) error {
	if err := idempotency.ValidateTTL(rec.TTLSeconds); err != nil {
		return err
	}
	if rec.ResultEnvelope == nil {
		return fmt.Errorf("save record: result envelope is required")
	}
	createdMs, err := unixMillis(rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	envJSON, err := marshalEnvelope(rec.ResultEnvelope)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records
		(scope_key, input_hash, result_envelope, created_at, created_at_ms, ttl_seconds, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			input_hash      = excluded.input_hash,
			result_envelope = excluded.result_envelope,
			created_at      = excluded.created_at,
			created_at_ms   = excluded.created_at_ms,
			ttl_seconds     = excluded.ttl_seconds,
			expires_at_ms   = excluded.expires_at_ms
		WHERE idempotency_records.expires_at_ms <= excluded.created_at_ms
	`,
		scopeKey,
		rec.InputHash,
		envJSON,
		rec.CreatedAt,
		createdMs,
		rec.TTLSeconds,
		createdMs+rec.TTLSeconds*1000,
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	if n == 0 {
		return idempotency.ErrScopeTaken
	}
	return nil
}

// PruneExpired physically removes records expired at nowMs. Lookups never
// depend on pruning.
func (s *Store) PruneExpired(ctx context.Context, nowMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at_ms <= ?`, nowMs)
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}
	return res.RowsAffected()
}
