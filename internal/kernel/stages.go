package kernel

import (
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// ContractVersion versions the published stage order. Any change to the
// lists below is a new contract version.
const ContractVersion = "gooi.orchestration/v1"

// Stage names.
const (
	StageHostPortsResolve        = "host_ports.resolve"
	StageReplayTTLValidate       = "replay_ttl.validate"
	StageHostPortsValidate       = "host_ports.validate"
	StageEnvelopeInitialize      = "invocation_envelope.initialize"
	StageArtifactManifest        = "artifact_manifest.validate"
	StageEntrypointResolve       = "entrypoint.resolve"
	StageSurfaceInputBind        = "surface_input.bind"
	StageSchemaProfileValidate   = "schema_profile.validate"
	StageEntrypointInputValidate = "entrypoint_input.validate"
	StagePolicyGate              = "policy_gate.evaluate"
	StageExecuteQuery            = "semantic_engine.execute_query"
	StageQueryEffectsValidate    = "query_effects.validate"
	StageExecuteMutation         = "semantic_engine.execute_mutation"
	StageResultEmit              = "result_envelope.emit"
	StageScopeResolve            = "idempotency.scope.resolve"
	StageReplayLookup            = "idempotency.replay.lookup"
	StageReplayPersist           = "idempotency.replay.persist"
)

var sharedPrefix = []string{
	StageHostPortsResolve,
	StageReplayTTLValidate,
	StageHostPortsValidate,
	StageEnvelopeInitialize,
	StageArtifactManifest,
	StageEntrypointResolve,
	StageSurfaceInputBind,
	StageSchemaProfileValidate,
	StageEntrypointInputValidate,
	StagePolicyGate,
}

var (
	querySuffix = []string{
		StageExecuteQuery,
		StageQueryEffectsValidate,
		StageResultEmit,
	}
	mutationSuffix = []string{
		StageExecuteMutation,
		StageResultEmit,
	}
	idempotentMutationSuffix = []string{
		StageScopeResolve,
		StageReplayLookup,
		StageExecuteMutation,
		StageResultEmit,
		StageReplayPersist,
	}
)

// StageList returns the ordered stages run for an invocation of kind.
// idempotent applies to mutations only. An unknown kind gets the shared
// prefix, where entrypoint.resolve rejects it.
func StageList(kind ir.EntrypointKind, idempotent bool) []string {
	switch {
	case kind == ir.KindQuery:
		return slices.Concat(sharedPrefix, querySuffix)
	case kind == ir.KindMutation && idempotent:
		return slices.Concat(sharedPrefix, idempotentMutationSuffix)
	case kind == ir.KindMutation:
		return slices.Concat(sharedPrefix, mutationSuffix)
	default:
		return slices.Clone(sharedPrefix)
	}
}

// Contract is the published orchestration contract.
type Contract struct {
	Version            string   `json:"version"`
	Query              []string `json:"query"`
	Mutation           []string `json:"mutation"`
	IdempotentMutation []string `json:"idempotentMutation"`
}

// PublishedContract returns the current contract.
func PublishedContract() Contract {
	return Contract{
		Version:            ContractVersion,
		Query:              StageList(ir.KindQuery, false),
		Mutation:           StageList(ir.KindMutation, false),
		IdempotentMutation: StageList(ir.KindMutation, true),
	}
}
