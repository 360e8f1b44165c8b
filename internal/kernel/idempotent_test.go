package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// TestIdempotency_SameInputReplays tests that a retry with the same key and
// input returns the stored envelope without executing again.
func TestIdempotency_SameInputReplays(t *testing.T) {
	ports, _, _ := testPorts()
	sem := newFakeSemantic()
	sink := &recordingSink{}
	k := New(chatBundle(t), ports, sem, WithSignalSink(sink))
	ctx := context.Background()

	first, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)
	require.True(t, first.OK, "error: %+v", first.Error)
	assert.False(t, first.Meta.Replayed)

	second, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)
	require.True(t, second.OK)
	assert.True(t, second.Meta.Replayed)

	assert.Equal(t, first, withoutReplayFlag(t, second), "replay differs only in meta.replayed")
	assert.Equal(t, 1, sem.calls())
	assert.Equal(t, 1, sink.count(), "replays are not re-delivered")
}

// TestIdempotency_DifferentInputConflicts tests key reuse with new input.
func TestIdempotency_DifferentInputConflicts(t *testing.T) {
	ports, _, _ := testPorts()
	sem := newFakeSemantic()
	k := New(chatBundle(t), ports, sem)
	ctx := context.Background()

	_, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)

	env, err := k.Invoke(ctx, submit("general", "bye", "k1"))
	require.NoError(t, err)
	require.False(t, env.OK)
	assert.Equal(t, ir.ErrCodeIdempotencyConflict, env.Error.Code)
	assert.Equal(t, StageReplayLookup, env.Error.Stage)
	assert.False(t, env.Error.Retryable)
	assert.Equal(t, 1, sem.calls())
}

// TestIdempotency_ExpiredRecordExecutesAgain tests the replay window.
func TestIdempotency_ExpiredRecordExecutesAgain(t *testing.T) {
	ports, store, clock := testPorts()
	sem := newFakeSemantic()
	k := New(chatBundle(t), ports, sem, WithReplayTTL(60))
	ctx := context.Background()

	first, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	replayed, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)
	assert.True(t, replayed.Meta.Replayed, "still inside the window")

	clock.Advance(2 * time.Minute)
	fresh, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)
	require.True(t, fresh.OK)
	assert.False(t, fresh.Meta.Replayed)
	assert.NotEqual(t, first.InvocationID, fresh.InvocationID)
	assert.Equal(t, 2, sem.calls())
	assert.Equal(t, 1, store.Len(), "expired record is overwritten")
}

// TestIdempotency_ScopesAreIndependent tests that keys and entrypoints
// partition the replay store.
func TestIdempotency_ScopesAreIndependent(t *testing.T) {
	ports, store, _ := testPorts()
	sem := newFakeSemantic()
	k := New(chatBundle(t), ports, sem)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		env, err := k.Invoke(ctx, submit("general", "hi", key))
		require.NoError(t, err)
		assert.False(t, env.Meta.Replayed)
	}
	assert.Equal(t, 2, sem.calls())
	assert.Equal(t, 2, store.Len())
}

// TestIdempotency_FailuresAreNotStored tests that only successful envelopes
// are persisted, so a failed attempt can be retried with the same key.
func TestIdempotency_FailuresAreNotStored(t *testing.T) {
	ports, store, _ := testPorts()
	sem := newFakeSemantic()
	succeed := sem.mutation
	sem.mutation = func(context.Context, SemanticRequest) (SemanticResult, error) {
		return SemanticResult{OK: false, Error: &ir.ErrorInfo{Code: ir.ErrCodeSemantic, Message: "try later", Retryable: true}}, nil
	}
	k := New(chatBundle(t), ports, sem)
	ctx := context.Background()

	env, err := k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)
	require.False(t, env.OK)
	assert.Equal(t, 0, store.Len())

	sem.mutation = succeed
	env, err = k.Invoke(ctx, submit("general", "hi", "k1"))
	require.NoError(t, err)
	require.True(t, env.OK)
	assert.False(t, env.Meta.Replayed)
	assert.Equal(t, 2, sem.calls())
}

// TestIdempotency_ConcurrentRetriesExecuteOnce tests that concurrent
// duplicates converge on one execution; every other caller replays it.
func TestIdempotency_ConcurrentRetriesExecuteOnce(t *testing.T) {
	ports, _, _ := testPorts()
	sem := newFakeSemantic()
	sink := &recordingSink{}
	k := New(chatBundle(t), ports, sem, WithSignalSink(sink))

	const callers = 16
	envs := make([]*ir.ResultEnvelope, callers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range callers {
		g.Go(func() error {
			env, err := k.Invoke(ctx, submit("general", "hi", "k-concurrent"))
			envs[i] = env
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, sem.calls())
	assert.Equal(t, 1, sink.count())

	var fresh *ir.ResultEnvelope
	replays := 0
	for _, env := range envs {
		require.True(t, env.OK, "error: %+v", env.Error)
		if env.Meta.Replayed {
			replays++
			continue
		}
		require.Nil(t, fresh, "more than one fresh execution")
		fresh = env
	}
	require.NotNil(t, fresh)
	assert.Equal(t, callers-1, replays)
	for _, env := range envs {
		assert.Equal(t, fresh, withoutReplayFlag(t, env))
	}
}

// TestIdempotency_StoreFailures tests that replay store faults surface as
// Go errors rather than envelope errors.
func TestIdempotency_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup", func(t *testing.T) {
		ports, _, _ := testPorts()
		ports.Replay = &brokenStore{MemoryStore: idempotency.NewMemoryStore(), failLoad: true}
		sem := newFakeSemantic()
		env, err := New(chatBundle(t), ports, sem).Invoke(ctx, submit("general", "hi", "k1"))
		require.ErrorIs(t, err, errStoreDown)
		assert.Nil(t, env)
		assert.Equal(t, 0, sem.calls())
	})

	t.Run("persist", func(t *testing.T) {
		ports, _, _ := testPorts()
		ports.Replay = &brokenStore{MemoryStore: idempotency.NewMemoryStore(), failSave: true}
		env, err := New(chatBundle(t), ports, newFakeSemantic()).Invoke(ctx, submit("general", "hi", "k1"))
		require.ErrorIs(t, err, errStoreDown)
		assert.Contains(t, err.Error(), StageReplayPersist)
		require.NotNil(t, env, "the executed envelope is returned with the error")
		assert.True(t, env.OK)
	})
}

// racingStore loses every Save to a winner that appears after lookup. It
// does not lock scopes, so the kernel relies on check-and-set alone.
type racingStore struct {
	winner *idempotency.Record
	loads  int
}

func (s *racingStore) Load(context.Context, string) (*idempotency.Record, error) {
	s.loads++
	if s.loads == 1 {
		return nil, nil
	}
	return s.winner, nil
}

func (s *racingStore) Save(context.Context, string, idempotency.Record) error {
	return idempotency.ErrScopeTaken
}

// TestIdempotency_LostPersistRace tests that a writer losing the
// check-and-set resolves against the winner's record.
func TestIdempotency_LostPersistRace(t *testing.T) {
	ctx := context.Background()
	hash, err := idempotency.InputHash(map[string]any{"channel": "general", "body": "hi"})
	require.NoError(t, err)

	winnerEnv := &ir.ResultEnvelope{
		EnvelopeVersion: ir.EnvelopeVersion,
		TraceID:         "trace-winner",
		InvocationID:    "inv-winner",
		OK:              true,
		Output:          "winner",
		EmittedSignals:  []ir.Signal{},
		ObservedEffects: []ir.Effect{},
		Meta:            ir.EnvelopeMeta{AffectedQueryIDs: []string{}},
	}

	t.Run("same input replays the winner", func(t *testing.T) {
		ports, _, _ := testPorts()
		ports.Replay = &racingStore{winner: &idempotency.Record{
			InputHash: hash, ResultEnvelope: winnerEnv, CreatedAt: "2026-01-01T00:00:00.000Z", TTLSeconds: 60,
		}}
		sink := &recordingSink{}
		env, err := New(chatBundle(t), ports, newFakeSemantic(), WithSignalSink(sink)).Invoke(ctx, submit("general", "hi", "k1"))
		require.NoError(t, err)
		assert.Equal(t, "inv-winner", env.InvocationID)
		assert.True(t, env.Meta.Replayed)
		assert.Equal(t, 0, sink.count())
	})

	t.Run("different input conflicts", func(t *testing.T) {
		ports, _, _ := testPorts()
		ports.Replay = &racingStore{winner: &idempotency.Record{
			InputHash: "other", ResultEnvelope: winnerEnv, CreatedAt: "2026-01-01T00:00:00.000Z", TTLSeconds: 60,
		}}
		env, err := New(chatBundle(t), ports, newFakeSemantic()).Invoke(ctx, submit("general", "hi", "k1"))
		require.NoError(t, err)
		require.False(t, env.OK)
		assert.Equal(t, ir.ErrCodeIdempotencyConflict, env.Error.Code)
		assert.Equal(t, StageReplayPersist, env.Error.Stage)
	})

	t.Run("winner vanished", func(t *testing.T) {
		ports, _, _ := testPorts()
		ports.Replay = &racingStore{}
		env, err := New(chatBundle(t), ports, newFakeSemantic()).Invoke(ctx, submit("general", "hi", "k1"))
		require.NoError(t, err)
		assert.True(t, env.OK)
		assert.False(t, env.Meta.Replayed)
	})
}
