package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
	"github.com/ngalluzzo/gooi-sub004/internal/semantic"
	"github.com/ngalluzzo/gooi-sub004/internal/store"
	"github.com/ngalluzzo/gooi-sub004/internal/telemetry"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions

	Input          string
	Principal      string
	Surface        string
	Request        string
	IdempotencyKey string
	TraceID        string
	Fixtures       string

	Database      string
	Redis         string
	RedisPassword string
	RedisDB       int
	ReplayTTL     int64

	Lockfile       string
	Catalog        string
	HostAPIVersion string
	RuntimeHost    string

	Metrics bool
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <bundle.json> <kind:id>",
		Short: "Invoke an entrypoint through the kernel",
		Long: `Invoke one entrypoint of a compiled bundle and print its result envelope.

The domain layer is scripted by a semantic fixture file. Capability calls
resolve through the lockfile plan when --lock is given; otherwise every
capability binds to the in-memory reference provider.

Idempotent mutations replay from the SQLite database given by --db, or from
Redis when --redis is set. Without either, records live only for this
process. Every envelope is appended to the --db envelope log.

Exit codes:
  0 - Envelope ok
  1 - Envelope carries an error
  2 - Command error (unreadable bundle, bad flags, store failure)

Examples:
  gooi invoke bundle.json query:list_messages --fixtures chat.yaml \
    --input '{"channel":"general"}' --principal '{"subject":"alice"}'
  gooi invoke bundle.json mutation:submit_message --fixtures chat.yaml \
    --surface http --request '{"path":{"channel":"general"},"body":{"text":"hi"}}' \
    --principal '{"subject":"alice"}' --idempotency-key k1 --db gooi.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Input, "input", "", "entrypoint input as a JSON object")
	f.StringVar(&opts.Principal, "principal", "", "principal as a JSON object (anonymous when empty)")
	f.StringVar(&opts.Surface, "surface", "", "bind the request through this surface")
	f.StringVar(&opts.Request, "request", "", "surface request as JSON {path,query,body,args,flags}")
	f.StringVar(&opts.IdempotencyKey, "idempotency-key", "", "idempotency key for mutations")
	f.StringVar(&opts.TraceID, "trace-id", "", "continue an existing trace")
	f.StringVar(&opts.Fixtures, "fixtures", "", "semantic fixture file (required)")
	f.StringVar(&opts.Database, "db", "", "SQLite database for replay records and the envelope log")
	f.StringVar(&opts.Redis, "redis", "", "Redis address for replay records")
	f.StringVar(&opts.RedisPassword, "redis-password", "", "Redis password")
	f.IntVar(&opts.RedisDB, "redis-db", 0, "Redis database number")
	f.Int64Var(&opts.ReplayTTL, "replay-ttl", idempotency.DefaultTTLSeconds, "replay window in seconds")
	f.StringVar(&opts.Lockfile, "lock", "", "lockfile for capability binding")
	f.StringVar(&opts.Catalog, "catalog", "", "provider catalog (with --lock)")
	f.StringVar(&opts.HostAPIVersion, "host-api", ir.HostAPIVersion, "runtime host API version")
	f.StringVar(&opts.RuntimeHost, "runtime-host", binding.HostNode, "host the runtime executes on")
	f.BoolVar(&opts.Metrics, "metrics", false, "print pipeline metrics to stderr")

	return cmd
}

func runInvoke(ctx context.Context, opts *InvokeOptions, bundlePath, key string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	inv, err := buildInvocation(opts, key)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	if opts.Fixtures == "" {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "--fixtures is required", nil)
	}

	b, err := loadBundle(bundlePath)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	fixtures, err := semantic.Load(opts.Fixtures)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}

	backend, err := openBackend(ctx, opts)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	defer backend.Close()

	plan, err := bindingPlan(ctx, opts, b)
	if err != nil {
		e := ir.AsError(err, ir.ErrCodeBinding)
		return formatter.fail(ExitCommandError, string(e.Code), e.Message, e.Details)
	}

	kopts := []kernel.Option{
		kernel.WithBindingPlan(plan),
		kernel.WithCapabilities(map[string]binding.LocalProvider{
			binding.MemoryProviderID: binding.NewMemoryProvider(),
		}),
		kernel.WithHostAPIVersion(opts.HostAPIVersion),
		kernel.WithReplayTTL(opts.ReplayTTL),
		kernel.WithLogger(logger),
	}
	if backend.log != nil {
		kopts = append(kopts, kernel.WithEnvelopeLog(backend.log))
	}
	var metrics *telemetry.Collector
	if opts.Metrics {
		metrics = telemetry.NewCollector("gooi")
		kopts = append(kopts, kernel.WithObserver(metrics))
	}

	ports := hostport.Set{
		Clock:      hostport.SystemClock{},
		Identity:   hostport.UUIDIdentity{},
		Principal:  hostport.ClaimsPrincipal{},
		Delegation: hostport.NoDelegation{},
		Replay:     backend.replay,
	}
	engine := semantic.New(fixtures, semantic.WithLogger(logger))
	k := kernel.New(b, ports, engine, kopts...)

	env, invokeErr := k.Invoke(ctx, inv)
	if env == nil {
		return WrapExitError(ExitCommandError, "replay store failure", invokeErr)
	}

	if err := outputEnvelope(formatter, inv.Key(), env); err != nil {
		return err
	}
	if metrics != nil {
		if err := metrics.WriteText(formatter.GetErrWriter()); err != nil {
			logger.Warn("failed to write metrics", "error", err)
		}
	}

	if invokeErr != nil {
		return WrapExitError(ExitCommandError, "failed to persist replay record", invokeErr)
	}
	if !env.OK {
		return NewExitError(ExitFailure, fmt.Sprintf("%s failed: %s", inv.Key(), env.Error.Code))
	}
	return nil
}

// buildInvocation turns the command flags into a kernel invocation.
func buildInvocation(opts *InvokeOptions, key string) (kernel.Invocation, error) {
	kind, id, err := ir.ParseEntrypointKey(key)
	if err != nil {
		return kernel.Invocation{}, &LoadError{Code: ErrCodeInvalidInput, Message: "invalid entrypoint", Err: err}
	}

	input, err := parseJSONObject("input", opts.Input)
	if err != nil {
		return kernel.Invocation{}, err
	}
	principal, err := parseJSONObject("principal", opts.Principal)
	if err != nil {
		return kernel.Invocation{}, err
	}

	inv := kernel.Invocation{
		Kind:           kind,
		EntrypointID:   id,
		Surface:        opts.Surface,
		Input:          input,
		IdempotencyKey: opts.IdempotencyKey,
		TraceID:        opts.TraceID,
	}
	if principal != nil {
		inv.Principal = principal
	}

	if opts.Request != "" {
		if opts.Surface == "" {
			return kernel.Invocation{}, &LoadError{Code: ErrCodeInvalidInput, Message: "--request requires --surface"}
		}
		if inv.Request, err = parseSurfaceRequest(opts.Request); err != nil {
			return kernel.Invocation{}, err
		}
	}
	if inv.Surface == "" && inv.Input == nil {
		inv.Input = map[string]any{}
	}
	return inv, nil
}

func parseSurfaceRequest(raw string) (kernel.SurfaceRequest, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var req kernel.SurfaceRequest
	if err := dec.Decode(&req); err != nil {
		return kernel.SurfaceRequest{}, &LoadError{Code: ErrCodeInvalidInput, Message: "invalid --request JSON", Err: err}
	}
	return req, nil
}

// backend is the replay store and optional envelope log of one invoke.
type backend struct {
	replay  idempotency.Store
	log     kernel.EnvelopeLog
	closers []io.Closer
}

func (b *backend) Close() {
	for _, c := range b.closers {
		_ = c.Close()
	}
}

// openBackend picks the replay store: Redis when configured, then the
// SQLite database, then a process-local memory store.
func openBackend(ctx context.Context, opts *InvokeOptions) (*backend, error) {
	b := &backend{}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		b.closers = append(b.closers, st)
		b.log = st
		b.replay = st
	}

	if opts.Redis != "" {
		rs, err := idempotency.DialRedisStore(ctx, opts.Redis, opts.RedisPassword, opts.RedisDB)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, rs)
		b.replay = rs
	}

	if b.replay == nil {
		b.replay = idempotency.NewMemoryStore()
	}
	return b, nil
}

// bindingPlan activates the lockfile when one is given and falls back to
// binding every capability to the in-memory reference provider.
func bindingPlan(ctx context.Context, opts *InvokeOptions, b *ir.Bundle) (*binding.Plan, error) {
	if opts.Lockfile == "" {
		return binding.LocalPlan(b, opts.RuntimeHost), nil
	}

	lock, err := binding.LoadLockfile(opts.Lockfile)
	if err != nil {
		return nil, err
	}
	var catalog *binding.Catalog
	if opts.Catalog != "" {
		if catalog, err = binding.LoadCatalog(opts.Catalog); err != nil {
			return nil, err
		}
	}
	return binding.Activate(ctx, binding.Activation{
		Bundle:         b,
		Lockfile:       lock,
		Catalog:        catalog,
		RuntimeHost:    opts.RuntimeHost,
		HostAPIVersion: opts.HostAPIVersion,
	})
}

// outputEnvelope prints a result envelope.
func outputEnvelope(formatter *OutputFormatter, key string, env *ir.ResultEnvelope) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: env, TraceID: env.TraceID}
		if !env.OK {
			resp.Status = "error"
			resp.Error = &CLIError{Code: string(env.Error.Code), Message: env.Error.Message, Details: env.Error.Details}
		}
		return formatter.Response(resp)
	}

	w := formatter.Writer
	switch {
	case env.OK && env.Meta.Replayed:
		fmt.Fprintf(w, "✓ %s ok (replayed)\n", key)
	case env.OK:
		fmt.Fprintf(w, "✓ %s ok\n", key)
	default:
		fmt.Fprintf(w, "✗ %s %s at %s: %s\n", key, env.Error.Code, env.Error.Stage, env.Error.Message)
	}
	fmt.Fprintf(w, "  trace %s, invocation %s\n\n", env.TraceID, env.InvocationID)

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
