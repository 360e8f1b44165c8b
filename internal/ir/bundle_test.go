package ir

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle(t *testing.T) *Bundle {
	t.Helper()
	b := &Bundle{
		ArtifactVersion: ArtifactVersion,
		CompilerVersion: CompilerVersion,
		SourceSpecHash:  MustStableHash("spec"),
		Entrypoints: map[string]Entrypoint{
			"list_messages": {
				ID:               "list_messages",
				Kind:             KindQuery,
				Inputs:           map[string]FieldContract{"limit": {Type: ScalarInt}},
				RefreshOnSignals: []string{"message.created"},
			},
			"submit_message": {
				ID:           "submit_message",
				Kind:         KindMutation,
				Inputs:       map[string]FieldContract{"body": {Type: ScalarText, Required: true}},
				EmitsSignals: []string{"message.created"},
			},
		},
		Bindings: []SurfaceBinding{{
			Surface:       "http",
			EntrypointKey: "mutation:submit_message",
			Fields:        map[string]string{"body": "body.text"},
		}},
		AccessPlan: AccessPlan{
			DefaultPolicy: PolicyDeny,
			RoleDefinitions: map[string]RoleDefinition{
				RoleAuthenticated: {Extends: []string{}, Derive: []DeriveRule{{Kind: DeriveAuthenticated}}},
				"ops":             {Extends: []string{}, Derive: []DeriveRule{{Kind: DeriveClaimEquals, Claim: "tier", Value: 2.5}}},
			},
			EntrypointRoles: map[string][]string{"query:list_messages": {RoleAuthenticated}},
		},
		RefreshSubscriptions: map[string][]string{"list_messages": {"message.created"}},
		SchemaArtifacts: SchemaArtifacts{
			Lanes:        map[string]LaneDigest{},
			InputSchemas: map[string]Object{"query:list_messages": {"type": String("object")}},
		},
	}
	require.NoError(t, SealBundle(b))
	return b
}

func TestBundleRoundTripPreservesHash(t *testing.T) {
	b := sampleBundle(t)

	data, err := MarshalBundle(b)
	require.NoError(t, err)

	parsed, err := ParseBundle(data)
	require.NoError(t, err)
	assert.Equal(t, b.ArtifactHash, parsed.ArtifactHash)

	recomputed, err := ComputeArtifactHash(parsed)
	require.NoError(t, err)
	assert.Equal(t, b.ArtifactHash, recomputed)
}

func TestBundleTamperedFieldFailsParse(t *testing.T) {
	b := sampleBundle(t)
	data, err := MarshalBundle(b)
	require.NoError(t, err)

	tampered := strings.Replace(string(data), `"defaultPolicy": "deny"`, `"defaultPolicy": "allow"`, 1)
	require.NotEqual(t, string(data), tampered)

	_, err = ParseBundle([]byte(tampered))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactHashMismatch)
}

func TestBundleUnsealedFailsParse(t *testing.T) {
	b := sampleBundle(t)
	b.ArtifactHash = ""
	data, err := json.Marshal(b)
	require.NoError(t, err)

	_, err = ParseBundle(data)
	assert.ErrorIs(t, err, ErrArtifactHashMismatch)
}

func TestBundleUnknownFieldRejected(t *testing.T) {
	b := sampleBundle(t)
	data, err := json.Marshal(b)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["extra"] = true
	data, err = json.Marshal(raw)
	require.NoError(t, err)

	_, err = ParseBundle(data)
	assert.Error(t, err)
}

func TestBundleWrongArtifactVersionRejected(t *testing.T) {
	b := sampleBundle(t)
	b.ArtifactVersion = "0"
	require.NoError(t, SealBundle(b))
	data, err := MarshalBundle(b)
	require.NoError(t, err)

	_, err = ParseBundle(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifactVersion")
}

func TestLaneContentUnknownLane(t *testing.T) {
	b := sampleBundle(t)
	for _, lane := range AllLanes {
		_, err := b.LaneContent(lane)
		assert.NoError(t, err, lane)
	}
	_, err := b.LaneContent("nope")
	assert.Error(t, err)
}

func TestParseEntrypointKey(t *testing.T) {
	kind, id, err := ParseEntrypointKey("mutation:submit_message")
	require.NoError(t, err)
	assert.Equal(t, KindMutation, kind)
	assert.Equal(t, "submit_message", id)

	for _, bad := range []string{"submit_message", "job:x", "query:"} {
		_, _, err := ParseEntrypointKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseBindingSource(t *testing.T) {
	bucket, name, err := ParseBindingSource("path.channel")
	require.NoError(t, err)
	assert.Equal(t, BucketPath, bucket)
	assert.Equal(t, "channel", name)

	for _, bad := range []string{"channel", "header.x", "body."} {
		_, _, err := ParseBindingSource(bad)
		assert.Error(t, err, bad)
	}
}

func TestEnvelopeVersionMustMatch(t *testing.T) {
	env := &ResultEnvelope{
		EnvelopeVersion: EnvelopeVersion,
		OK:              true,
		EmittedSignals:  []Signal{},
		ObservedEffects: []Effect{},
		Meta:            EnvelopeMeta{AffectedQueryIDs: []string{}},
	}
	data, err := MarshalEnvelope(env)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, parsed)

	env.EnvelopeVersion = "gooi.result/v0"
	data, err = MarshalEnvelope(env)
	require.NoError(t, err)
	_, err = ParseEnvelope(data)
	assert.Error(t, err)
}

func TestLockfileHashVerified(t *testing.T) {
	l := &Lockfile{
		AppID:          "chat",
		Environment:    "prod",
		HostAPIVersion: HostAPIVersion,
		Providers: []LockedProvider{{
			ProviderID:      "kv-memory",
			ProviderVersion: "1.2.0",
			Integrity:       IntegrityDigest([]byte("module")),
			Capabilities:    []LockedCapability{{PortID: "storage.kv", PortVersion: "1.0.0", ContractHash: MustStableHash("c")}},
		}},
	}
	require.NoError(t, SealLockfile(l))
	data, err := json.Marshal(l)
	require.NoError(t, err)

	parsed, err := ParseLockfile(data)
	require.NoError(t, err)
	assert.Equal(t, l, parsed)

	l.Environment = "staging"
	data, err = json.Marshal(l)
	require.NoError(t, err)
	_, err = ParseLockfile(data)
	assert.ErrorIs(t, err, ErrArtifactHashMismatch)
}

func TestErrorHelpers(t *testing.T) {
	err := NewError(ErrCodeAccessDenied, "denied %s", "x").WithDetail("required", []string{"a"})
	assert.Equal(t, ErrCodeAccessDenied, CodeOf(err))
	assert.False(t, err.Retryable)
	assert.True(t, NewError(ErrCodeSemantic, "boom").Retryable)

	wrapped := AsError(assertWrap(err), ErrCodeSemantic)
	assert.Same(t, err, wrapped)
	assert.True(t, IsCode(assertWrap(err), ErrCodeAccessDenied))

	info := err.Info()
	assert.Equal(t, "denied x", info.Message)
	assert.Equal(t, []string{"a"}, info.Details["required"])
}

func assertWrap(err error) error {
	return &wrapErr{err}
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }
