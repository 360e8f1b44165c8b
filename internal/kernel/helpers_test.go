package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ngalluzzo/gooi-sub004/internal/compiler"
	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/testutil"
)

var alice = map[string]any{"subject": "alice"}

func chatBundle(t *testing.T) *ir.Bundle {
	t.Helper()
	res := compiler.CompileDir("../compiler/testdata/chat")
	require.True(t, res.OK, "compile chat: %v", res.Diagnostics)
	return res.Bundle
}

// reparse returns an independent copy of b that tests may tamper with.
func reparse(t *testing.T, b *ir.Bundle) *ir.Bundle {
	t.Helper()
	data, err := ir.MarshalBundle(b)
	require.NoError(t, err)
	cp, err := ir.ParseBundle(data)
	require.NoError(t, err)
	return cp
}

func testPorts() (hostport.Set, *idempotency.MemoryStore, *testutil.DeterministicClock) {
	store := idempotency.NewMemoryStore()
	clock := testutil.NewDeterministicClock()
	return hostport.Set{
		Clock:      clock,
		Identity:   testutil.NewSequenceIdentity(""),
		Principal:  hostport.ClaimsPrincipal{},
		Delegation: hostport.NoDelegation{},
		Replay:     store,
	}, store, clock
}

type semanticFunc func(ctx context.Context, req SemanticRequest) (SemanticResult, error)

// fakeSemantic is a scripted semantic engine that counts executions.
type fakeSemantic struct {
	query    semanticFunc
	mutation semanticFunc

	mu       sync.Mutex
	requests []SemanticRequest
}

func newFakeSemantic() *fakeSemantic {
	return &fakeSemantic{
		query: func(_ context.Context, req SemanticRequest) (SemanticResult, error) {
			return SemanticResult{
				OK:              true,
				Output:          map[string]any{"channel": req.Input["channel"], "messages": []any{}},
				ObservedEffects: []ir.Effect{{Kind: ir.EffectRead, Target: "messages"}},
			}, nil
		},
		mutation: func(_ context.Context, req SemanticRequest) (SemanticResult, error) {
			return SemanticResult{
				OK:              true,
				Output:          map[string]any{"accepted": true, "channel": req.Input["channel"], "length": len(req.Input["body"].(string))},
				ObservedEffects: []ir.Effect{{Kind: ir.EffectWrite, Target: "messages"}},
				EmittedSignals: []SignalDraft{{
					SignalID: "message.created",
					Payload:  map[string]any{"channel": req.Input["channel"]},
				}},
			}, nil
		},
	}
}

func (f *fakeSemantic) record(req SemanticRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeSemantic) ExecuteQuery(ctx context.Context, req SemanticRequest) (SemanticResult, error) {
	f.record(req)
	return f.query(ctx, req)
}

func (f *fakeSemantic) ExecuteMutation(ctx context.Context, req SemanticRequest) (SemanticResult, error) {
	f.record(req)
	return f.mutation(ctx, req)
}

func (f *fakeSemantic) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSemantic) last() SemanticRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type stageEvent struct {
	stage string
	code  ir.ErrorCode
}

// recordingObserver captures pipeline events in order.
type recordingObserver struct {
	mu        sync.Mutex
	stages    []stageEvent
	envelopes []*ir.ResultEnvelope
}

func (o *recordingObserver) StageFinished(_ string, stage string, err *ir.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ev := stageEvent{stage: stage}
	if err != nil {
		ev.code = err.Code
	}
	o.stages = append(o.stages, ev)
}

func (o *recordingObserver) InvocationFinished(_ string, env *ir.ResultEnvelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envelopes = append(o.envelopes, env)
}

func (o *recordingObserver) stageNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.stages))
	for i, ev := range o.stages {
		out[i] = ev.stage
	}
	return out
}

// recordingSink captures signal batches.
type recordingSink struct {
	mu      sync.Mutex
	batches []SignalBatch
}

func (s *recordingSink) PublishSignals(_ context.Context, batch SignalBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

var errStoreDown = errors.New("replay store unavailable")

// brokenStore fails Load or Save on demand.
type brokenStore struct {
	*idempotency.MemoryStore
	failLoad bool
	failSave bool
}

func (s *brokenStore) Load(ctx context.Context, scopeKey string) (*idempotency.Record, error) {
	if s.failLoad {
		return nil, errStoreDown
	}
	return s.MemoryStore.Load(ctx, scopeKey)
}

func (s *brokenStore) Save(ctx context.Context, scopeKey string, rec idempotency.Record) error {
	if s.failSave {
		return errStoreDown
	}
	return s.MemoryStore.Save(ctx, scopeKey, rec)
}

func submit(channel, body, key string) Invocation {
	return Invocation{
		Kind:           ir.KindMutation,
		EntrypointID:   "submit_message",
		Input:          map[string]any{"channel": channel, "body": body},
		Principal:      alice,
		IdempotencyKey: key,
	}
}

func listMessages(channel string) Invocation {
	return Invocation{
		Kind:         ir.KindQuery,
		EntrypointID: "list_messages",
		Input:        map[string]any{"channel": channel},
		Principal:    alice,
	}
}

// withoutReplayFlag returns a copy of env with meta.replayed cleared.
func withoutReplayFlag(t *testing.T, env *ir.ResultEnvelope) *ir.ResultEnvelope {
	t.Helper()
	cp, err := env.Clone()
	require.NoError(t, err)
	cp.Meta.Replayed = false
	return cp
}
