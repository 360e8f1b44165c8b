package ir

import (
	"fmt"
	"slices"
	"strings"
)

// EntrypointKind distinguishes read-only queries from mutations.
type EntrypointKind string

const (
	KindQuery    EntrypointKind = "query"
	KindMutation EntrypointKind = "mutation"
)

// Valid reports whether k is a known kind.
func (k EntrypointKind) Valid() bool {
	return k == KindQuery || k == KindMutation
}

// ScalarType is the type of an entrypoint input field.
type ScalarType string

const (
	ScalarText      ScalarType = "text"
	ScalarID        ScalarType = "id"
	ScalarInt       ScalarType = "int"
	ScalarNumber    ScalarType = "number"
	ScalarBool      ScalarType = "bool"
	ScalarTimestamp ScalarType = "timestamp"
)

// ValidScalarTypes lists every scalar type accepted in field contracts.
var ValidScalarTypes = map[ScalarType]bool{
	ScalarText:      true,
	ScalarID:        true,
	ScalarInt:       true,
	ScalarNumber:    true,
	ScalarBool:      true,
	ScalarTimestamp: true,
}

// EntrypointKey returns the canonical "<kind>:<id>" key.
func EntrypointKey(kind EntrypointKind, id string) string {
	return string(kind) + ":" + id
}

// ParseEntrypointKey splits "<kind>:<id>".
func ParseEntrypointKey(key string) (EntrypointKind, string, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" || !EntrypointKind(kind).Valid() {
		return "", "", fmt.Errorf("invalid entrypoint key %q, expected \"<query|mutation>:<id>\"", key)
	}
	return EntrypointKind(kind), id, nil
}

// Bundle is the Compiled Entrypoint Bundle. It is immutable once sealed:
// ArtifactHash == StableHash(bundle with ArtifactHash cleared).
type Bundle struct {
	ArtifactVersion      string                `json:"artifactVersion"`
	CompilerVersion      string                `json:"compilerVersion"`
	SourceSpecHash       string                `json:"sourceSpecHash"`
	Entrypoints          map[string]Entrypoint `json:"entrypoints"`
	Bindings             []SurfaceBinding      `json:"bindings"`
	AccessPlan           AccessPlan            `json:"accessPlan"`
	RefreshSubscriptions map[string][]string   `json:"refreshSubscriptions"`
	SchemaArtifacts      SchemaArtifacts       `json:"schemaArtifacts"`
	ArtifactHash         string                `json:"artifactHash,omitempty"`
}

// Entrypoint is a named, typed query or mutation.
type Entrypoint struct {
	ID               string                   `json:"id"`
	Kind             EntrypointKind           `json:"kind"`
	Inputs           map[string]FieldContract `json:"inputs"`
	EmitsSignals     []string                 `json:"emitsSignals,omitempty"`
	RefreshOnSignals []string                 `json:"refreshOnSignals,omitempty"`
	Capabilities     []CapabilityRequirement  `json:"capabilities,omitempty"`
}

// Key returns "<kind>:<id>".
func (e Entrypoint) Key() string {
	return EntrypointKey(e.Kind, e.ID)
}

// FieldContract is the scalar contract for one input field.
type FieldContract struct {
	Type     ScalarType `json:"type"`
	Required bool       `json:"required"`
}

// CapabilityRequirement names a capability port an entrypoint needs.
// ContractHash is the StableHash of the port's declared contract.
type CapabilityRequirement struct {
	PortID       string `json:"portId"`
	PortVersion  string `json:"portVersion"`
	ContractHash string `json:"contractHash"`
}

// SurfaceBinding maps one surface's request buckets onto an entrypoint's
// declared input fields. Fields maps input field -> "<bucket>.<name>".
type SurfaceBinding struct {
	Surface       string            `json:"surface"`
	EntrypointKey string            `json:"entrypointKey"`
	Fields        map[string]string `json:"fields"`
}

// Request buckets a surface binding source may read from.
const (
	BucketPath  = "path"
	BucketQuery = "query"
	BucketBody  = "body"
	BucketArgs  = "args"
	BucketFlags = "flags"
)

// ValidBuckets lists every request bucket.
var ValidBuckets = map[string]bool{
	BucketPath:  true,
	BucketQuery: true,
	BucketBody:  true,
	BucketArgs:  true,
	BucketFlags: true,
}

// ParseBindingSource splits "<bucket>.<name>".
func ParseBindingSource(src string) (bucket, name string, err error) {
	bucket, name, ok := strings.Cut(src, ".")
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid binding source %q, expected \"<bucket>.<name>\"", src)
	}
	if !ValidBuckets[bucket] {
		return "", "", fmt.Errorf("invalid binding source %q: unknown bucket %q", src, bucket)
	}
	return bucket, name, nil
}

// Access policies.
const (
	PolicyAllow = "allow"
	PolicyDeny  = "deny"
)

// RoleAuthenticated is the builtin role granted to any principal with a subject.
const RoleAuthenticated = "authenticated"

// AccessPlan is the compiled access policy.
type AccessPlan struct {
	DefaultPolicy   string                    `json:"defaultPolicy"`
	RoleDefinitions map[string]RoleDefinition `json:"roleDefinitions"`
	EntrypointRoles map[string][]string       `json:"entrypointRoles"`
}

// RoleDefinition declares how a role is derived and which roles it implies.
type RoleDefinition struct {
	Extends []string     `json:"extends"`
	Derive  []DeriveRule `json:"derive"`
}

// Derive rule kinds.
const (
	DeriveAuthenticated = "auth_is_authenticated"
	DeriveClaimEquals   = "auth_claim_equals"
	DeriveClaimExpr     = "auth_claim_expr"
)

// DeriveRule grants a role when it matches the principal.
type DeriveRule struct {
	Kind  string `json:"kind"`
	Claim string `json:"claim,omitempty"`
	Value any    `json:"value,omitempty"`
	Expr  string `json:"expr,omitempty"`
}

// Lanes of a bundle whose content digests are recorded in SchemaArtifacts.
const (
	LaneEntrypoints          = "entrypoints"
	LaneBindings             = "bindings"
	LaneAccessPlan           = "accessPlan"
	LaneRefreshSubscriptions = "refreshSubscriptions"
	LaneInputSchemas         = "inputSchemas"
)

// AllLanes lists lanes in manifest order.
var AllLanes = []string{
	LaneEntrypoints,
	LaneBindings,
	LaneAccessPlan,
	LaneRefreshSubscriptions,
	LaneInputSchemas,
}

// SchemaArtifacts carries per-entrypoint input JSON Schemas and the lane
// manifest used by artifact verification.
type SchemaArtifacts struct {
	Lanes        map[string]LaneDigest `json:"lanes"`
	InputSchemas map[string]Object     `json:"inputSchemas"`
}

// LaneDigest is the StableHash of one lane's content.
type LaneDigest struct {
	Hash string `json:"hash"`
}

// LaneContent returns the value hashed for the named lane.
func (b *Bundle) LaneContent(lane string) (any, error) {
	switch lane {
	case LaneEntrypoints:
		return b.Entrypoints, nil
	case LaneBindings:
		return b.Bindings, nil
	case LaneAccessPlan:
		return b.AccessPlan, nil
	case LaneRefreshSubscriptions:
		return b.RefreshSubscriptions, nil
	case LaneInputSchemas:
		return b.SchemaArtifacts.InputSchemas, nil
	default:
		return nil, fmt.Errorf("unknown lane %q", lane)
	}
}

// Entrypoint looks up an entrypoint by kind and id.
func (b *Bundle) Entrypoint(kind EntrypointKind, id string) (Entrypoint, bool) {
	ep, ok := b.Entrypoints[id]
	if !ok || ep.Kind != kind {
		return Entrypoint{}, false
	}
	return ep, true
}

// SortedEntrypointIDs returns entrypoint ids in lexical order.
func (b *Bundle) SortedEntrypointIDs() []string {
	ids := make([]string, 0, len(b.Entrypoints))
	for id := range b.Entrypoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// BindingFor returns the binding of an entrypoint on a surface.
func (b *Bundle) BindingFor(surface, entrypointKey string) (SurfaceBinding, bool) {
	for _, sb := range b.Bindings {
		if sb.Surface == surface && sb.EntrypointKey == entrypointKey {
			return sb, true
		}
	}
	return SurfaceBinding{}, false
}

// PrincipalContext is a validated principal.
type PrincipalContext struct {
	Subject *string        `json:"subject"`
	Claims  map[string]any `json:"claims"`
	Tags    []string       `json:"tags"`
}

// Anonymous returns a principal with no subject, claims, or tags.
func Anonymous() PrincipalContext {
	return PrincipalContext{Claims: map[string]any{}, Tags: []string{}}
}

// NewPrincipal returns a principal with the given subject.
func NewPrincipal(subject string, tags ...string) PrincipalContext {
	if tags == nil {
		tags = []string{}
	}
	return PrincipalContext{Subject: &subject, Claims: map[string]any{}, Tags: tags}
}
