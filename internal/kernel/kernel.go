package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// Kernel executes bound invocations against one compiled bundle.
//
// Thread-safety: Invoke may be called from any number of goroutines. The
// kernel holds no mutable state between invocations apart from a compiled
// schema cache; serialization for idempotency comes from the replay store.
type Kernel struct {
	bundle         *ir.Bundle
	ports          hostport.Set
	semantic       Semantic
	replayTTL      int64
	plan           *binding.Plan
	locals         map[string]binding.LocalProvider
	hostAPIVersion string
	observers      []Observer
	sink           SignalSink
	envelopeLog    EnvelopeLog
	logger         *slog.Logger
	schemas        *schemaCache
}

// New creates a kernel for bundle. The bundle is verified on every
// invocation by artifact_manifest.validate, not here.
func New(bundle *ir.Bundle, ports hostport.Set, semantic Semantic, opts ...Option) *Kernel {
	k := &Kernel{
		bundle:         bundle,
		ports:          ports,
		semantic:       semantic,
		replayTTL:      idempotency.DefaultTTLSeconds,
		hostAPIVersion: ir.HostAPIVersion,
		logger:         slog.New(slog.DiscardHandler),
		schemas:        newSchemaCache(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Bundle returns the bundle the kernel executes.
func (k *Kernel) Bundle() *ir.Bundle {
	return k.bundle
}

// errReplayed ends the pipeline early with a stored envelope.
var errReplayed = errors.New("replayed stored envelope")

// run is the state of one invocation as it moves through the stages.
type run struct {
	inv  Invocation
	key  string
	kind ir.EntrypointKind

	ports       hostport.Set
	env         *ir.ResultEnvelope
	initialized bool

	ep        ir.Entrypoint
	bound     map[string]any
	input     map[string]any
	principal ir.PrincipalContext
	roles     []string

	scopeKey  string
	inputHash string
	unlock    func()

	result   *SemanticResult
	replayed *ir.ResultEnvelope
	fresh    bool
}

func (r *run) release() {
	if r.unlock != nil {
		r.unlock()
		r.unlock = nil
	}
}

// Invoke runs the stage list for inv and returns its result envelope.
//
// Every domain failure is reported on the envelope as {ok:false, error}.
// The returned error is non-nil only when the replay store itself fails.
// If that happens while persisting a fresh result, the envelope is
// returned alongside the error.
func (k *Kernel) Invoke(ctx context.Context, inv Invocation) (*ir.ResultEnvelope, error) {
	r := &run{inv: inv, key: inv.Key(), kind: inv.Kind}
	defer r.release()

	for _, stage := range StageList(inv.Kind, inv.IdempotencyKey != "") {
		err := k.runStage(ctx, r, stage)
		switch {
		case err == nil:
			k.stageFinished(r, stage, nil)
			continue

		case errors.Is(err, errReplayed):
			k.stageFinished(r, stage, nil)
			return k.finish(ctx, r, r.replayed), nil
		}

		var typed *ir.Error
		if errors.As(err, &typed) {
			failure := *typed
			failure.Stage = stage
			k.stageFinished(r, stage, &failure)
			return k.finish(ctx, r, k.failureEnvelope(r, &failure)), nil
		}

		k.logger.Error("replay store failure",
			"stage", stage,
			"entrypoint", r.key,
			"error", err,
		)
		if stage == StageReplayPersist && r.env != nil {
			return r.env, fmt.Errorf("%s: %w", stage, err)
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	r.fresh = true
	return k.finish(ctx, r, r.env), nil
}

func (k *Kernel) runStage(ctx context.Context, r *run, stage string) error {
	switch stage {
	case StageHostPortsResolve:
		return k.resolvePorts(r)
	case StageReplayTTLValidate:
		return idempotency.ValidateTTL(k.replayTTL)
	case StageHostPortsValidate:
		return r.ports.Validate(r.kind == ir.KindMutation && r.inv.IdempotencyKey != "")
	case StageEnvelopeInitialize:
		return k.initializeEnvelope(r)
	case StageArtifactManifest:
		return verifyManifest(k.bundle, k.plan, k.hostAPIVersion)
	case StageEntrypointResolve:
		return k.resolveEntrypoint(r)
	case StageSurfaceInputBind:
		bound, err := bindSurface(k.bundle, r.inv, r.ep)
		r.bound = bound
		return err
	case StageSchemaProfileValidate:
		return k.schemas.validate(k.bundle, r.ep.Key(), r.bound)
	case StageEntrypointInputValidate:
		input, err := checkInput(r.ep, r.bound)
		r.input = input
		return err
	case StagePolicyGate:
		return k.evaluatePolicy(r)
	case StageExecuteQuery, StageExecuteMutation:
		return k.execute(ctx, r)
	case StageQueryEffectsValidate:
		return checkQueryEffects(r.result)
	case StageResultEmit:
		return k.emitResult(r)
	case StageScopeResolve:
		return k.resolveScope(ctx, r)
	case StageReplayLookup:
		return k.lookupReplay(ctx, r)
	case StageReplayPersist:
		return k.persistReplay(ctx, r)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (k *Kernel) resolvePorts(r *run) error {
	if k.semantic == nil {
		return ir.NewError(ir.ErrCodeConfiguration, "no semantic engine is configured")
	}
	r.ports = k.ports
	if r.inv.Ports != nil {
		r.ports = *r.inv.Ports
	}
	return nil
}

func (k *Kernel) initializeEnvelope(r *run) error {
	traceID := r.inv.TraceID
	if traceID == "" {
		traceID = r.ports.Identity.NewTraceID()
	}
	startedAt := r.ports.Clock.NowISO()
	if _, err := time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return ir.NewError(ir.ErrCodeValidation, "clock.nowIso returned %q, want an RFC 3339 timestamp", startedAt).
			WithDetail("paths", []string{"clock.nowIso"})
	}

	artifactHash := ""
	if k.bundle != nil {
		artifactHash = k.bundle.ArtifactHash
	}
	r.env = &ir.ResultEnvelope{
		EnvelopeVersion: ir.EnvelopeVersion,
		TraceID:         traceID,
		InvocationID:    r.ports.Identity.NewInvocationID(),
		EmittedSignals:  []ir.Signal{},
		ObservedEffects: []ir.Effect{},
		Timings:         ir.Timings{StartedAt: startedAt},
		Meta: ir.EnvelopeMeta{
			ArtifactHash:     artifactHash,
			AffectedQueryIDs: []string{},
		},
	}
	r.initialized = true
	return nil
}

func (k *Kernel) resolveEntrypoint(r *run) error {
	ep, ok := k.bundle.Entrypoint(r.kind, r.inv.EntrypointID)
	if !ok {
		return ir.NewError(ir.ErrCodeEntrypointNotFound, "no entrypoint %s in bundle", r.key).
			WithDetail("entrypointKey", r.key)
	}
	if k.plan != nil {
		for _, c := range ep.Capabilities {
			if _, bound := k.plan.Lookup(c.PortID, c.PortVersion); !bound {
				return ir.NewError(ir.ErrCodeBinding, "capability %s@%s of %s is not in the binding plan", c.PortID, c.PortVersion, r.key).
					WithDetail("portId", c.PortID).
					WithDetail("portVersion", c.PortVersion)
			}
		}
	}
	r.ep = ep
	return nil
}

// failureEnvelope turns a terminal stage error into the returned envelope.
// Failures before invocation_envelope.initialize carry no ids or timings.
func (k *Kernel) failureEnvelope(r *run, e *ir.Error) *ir.ResultEnvelope {
	env := r.env
	if env == nil {
		env = &ir.ResultEnvelope{
			EnvelopeVersion: ir.EnvelopeVersion,
			Meta:            ir.EnvelopeMeta{AffectedQueryIDs: []string{}},
		}
		if k.bundle != nil {
			env.Meta.ArtifactHash = k.bundle.ArtifactHash
		}
	}
	env.OK = false
	env.Output = nil
	env.Error = e.Info()
	env.EmittedSignals = []ir.Signal{}
	env.ObservedEffects = []ir.Effect{}
	if r.result != nil && len(r.result.ObservedEffects) > 0 {
		env.ObservedEffects = append(env.ObservedEffects, r.result.ObservedEffects...)
	}
	env.Meta.Replayed = false
	env.Meta.AffectedQueryIDs = []string{}
	if r.initialized {
		env.Timings.CompletedAt = r.ports.Clock.NowISO()
	}
	return env
}

// finish notifies observers, the envelope log, and the signal sink.
func (k *Kernel) finish(ctx context.Context, r *run, env *ir.ResultEnvelope) *ir.ResultEnvelope {
	for _, o := range k.observers {
		o.InvocationFinished(r.key, env)
	}

	attrs := []any{
		"entrypoint", r.key,
		"trace_id", env.TraceID,
		"invocation_id", env.InvocationID,
		"ok", env.OK,
		"replayed", env.Meta.Replayed,
	}
	if env.Error != nil {
		attrs = append(attrs, "code", env.Error.Code, "stage", env.Error.Stage)
	}
	k.logger.Info("invocation finished", attrs...)

	if k.envelopeLog != nil && env.InvocationID != "" {
		if err := k.envelopeLog.AppendEnvelope(ctx, r.key, env); err != nil {
			k.logger.Warn("envelope log append failed", "entrypoint", r.key, "invocation_id", env.InvocationID, "error", err)
		}
	}

	if r.fresh && k.sink != nil && len(env.EmittedSignals) > 0 {
		batch := SignalBatch{
			EntrypointKey:    r.key,
			TraceID:          env.TraceID,
			InvocationID:     env.InvocationID,
			Signals:          env.EmittedSignals,
			AffectedQueryIDs: env.Meta.AffectedQueryIDs,
		}
		if err := k.sink.PublishSignals(ctx, batch); err != nil {
			k.logger.Warn("signal delivery failed", "entrypoint", r.key, "invocation_id", env.InvocationID, "error", err)
		}
	}
	return env
}

func (k *Kernel) stageFinished(r *run, stage string, err *ir.Error) {
	if err != nil {
		k.logger.Debug("stage failed", "stage", stage, "entrypoint", r.key, "code", err.Code)
	} else {
		k.logger.Debug("stage completed", "stage", stage, "entrypoint", r.key)
	}
	for _, o := range k.observers {
		o.StageFinished(r.key, stage, err)
	}
}
