package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// resolveScope derives the scope key and input hash. When the replay store
// can lock scopes, the lock is held until the invocation returns, so
// concurrent duplicates see the first writer's record at lookup.
func (k *Kernel) resolveScope(ctx context.Context, r *run) error {
	scopeKey, err := idempotency.ScopeKey(r.ep.ID, r.inv.IdempotencyKey)
	if err != nil {
		return ir.NewError(ir.ErrCodeBinding, "derive idempotency scope: %v", err)
	}
	inputHash, err := idempotency.InputHash(r.input)
	if err != nil {
		return ir.NewError(ir.ErrCodeBinding, "hash input: %v", err)
	}
	r.scopeKey = scopeKey
	r.inputHash = inputHash

	if locker, ok := r.ports.Replay.(idempotency.ScopeLocker); ok {
		unlock, err := locker.LockScope(ctx, scopeKey)
		if err != nil {
			return fmt.Errorf("lock scope %s: %w", scopeKey, err)
		}
		r.unlock = unlock
	}
	return nil
}

func (k *Kernel) lookupReplay(ctx context.Context, r *run) error {
	rec, err := r.ports.Replay.Load(ctx, r.scopeKey)
	if err != nil {
		return fmt.Errorf("load scope %s: %w", r.scopeKey, err)
	}
	if rec == nil {
		return nil
	}
	// startedAt was validated by invocation_envelope.initialize.
	now, _ := time.Parse(time.RFC3339Nano, r.env.Timings.StartedAt)
	if rec.Expired(now) {
		return nil
	}
	return k.replayOrConflict(r, rec)
}

// replayOrConflict resolves a live record: same input replays the stored
// envelope, different input is a conflict.
func (k *Kernel) replayOrConflict(r *run, rec *idempotency.Record) error {
	if rec.InputHash != r.inputHash {
		return ir.NewError(ir.ErrCodeIdempotencyConflict, "idempotency key %q was already used with different input", r.inv.IdempotencyKey).
			WithRetryable(false).
			WithDetail("idempotencyKey", r.inv.IdempotencyKey)
	}
	if rec.ResultEnvelope == nil {
		return fmt.Errorf("scope %s: stored record has no envelope", r.scopeKey)
	}
	env, err := rec.ResultEnvelope.Clone()
	if err != nil {
		return fmt.Errorf("scope %s: %w", r.scopeKey, err)
	}
	env.Meta.Replayed = true
	r.replayed = env
	k.logger.Debug("replaying stored envelope", "entrypoint", r.key, "invocation_id", env.InvocationID)
	return errReplayed
}

// persistReplay stores the successful envelope. If another writer won the
// scope in the meantime, its record decides the outcome.
func (k *Kernel) persistReplay(ctx context.Context, r *run) error {
	stored, err := r.env.Clone()
	if err != nil {
		return fmt.Errorf("scope %s: %w", r.scopeKey, err)
	}
	rec := idempotency.Record{
		InputHash:      r.inputHash,
		ResultEnvelope: stored,
		CreatedAt:      r.env.Timings.CompletedAt,
		TTLSeconds:     k.replayTTL,
	}

	err = r.ports.Replay.Save(ctx, r.scopeKey, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, idempotency.ErrScopeTaken) {
		return fmt.Errorf("save scope %s: %w", r.scopeKey, err)
	}

	winner, err := r.ports.Replay.Load(ctx, r.scopeKey)
	if err != nil {
		return fmt.Errorf("load scope %s: %w", r.scopeKey, err)
	}
	if winner == nil {
		return nil
	}
	return k.replayOrConflict(r, winner)
}
