package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// LoggedEnvelope is one row of the envelope log.
type LoggedEnvelope struct {
	Seq           int64
	EntrypointKey string
	Envelope      *ir.ResultEnvelope
}

// EnvelopeFilter narrows ReadEnvelopes. Zero fields match everything.
type EnvelopeFilter struct {
	TraceID       string
	EntrypointKey string
	Limit         int
}

// AppendEnvelope records an envelope. Duplicate invocation ids are silently
// ignored. Envelopes that ReadEnvelopes could not parse back are refused.
func (s *Store) AppendEnvelope(ctx context.Context, entrypointKey string, env *ir.ResultEnvelope) error {
	if env.EnvelopeVersion != ir.EnvelopeVersion {
		return fmt.Errorf("append envelope: envelopeVersion %q does not match %q", env.EnvelopeVersion, ir.EnvelopeVersion)
	}
	envJSON, err := marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	errorCode := ""
	if env.Error != nil {
		errorCode = string(env.Error.Code)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO envelopes
		(invocation_id, trace_id, entrypoint_key, ok, replayed, error_code, artifact_hash, envelope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(invocation_id) DO NOTHING
	`,
		env.InvocationID,
		env.TraceID,
		entrypointKey,
		boolToInt(env.OK),
		boolToInt(env.Meta.Replayed),
		errorCode,
		env.Meta.ArtifactHash,
		envJSON,
	)
	if err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	return nil
}

// ReadEnvelopes returns logged envelopes in seq order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEnvelopes(ctx context.Context, f EnvelopeFilter) ([]LoggedEnvelope, error) {
	var (
		where []string
		args  []any
	)
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	if f.EntrypointKey != "" {
		where = append(where, "entrypoint_key = ?")
		args = append(args, f.EntrypointKey)
	}

	query := "SELECT seq, entrypoint_key, envelope FROM envelopes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()

	out := []LoggedEnvelope{}
	for rows.Next() {
		var (
			le      LoggedEnvelope
			envJSON string
		)
		if err := rows.Scan(&le.Seq, &le.EntrypointKey, &envJSON); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		if le.Envelope, err = unmarshalEnvelope(envJSON); err != nil {
			return nil, err
		}
		out = append(out, le)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return out, nil
}
