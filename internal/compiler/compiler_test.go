package compiler

import (
	"cmp"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

func compileString(t *testing.T, src string) *Result {
	t.Helper()
	res := CompileSource("test.cue", []byte(src))
	require.NotNil(t, res)
	require.NotNil(t, res.Diagnostics, "diagnostics must never be nil")
	return res
}

func codes(diags []Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

// TestCompileDir_Chat tests the full chat spec compiles into a sealed bundle.
func TestCompileDir_Chat(t *testing.T) {
	res := CompileDir("testdata/chat")
	require.True(t, res.OK, "diagnostics: %v", res.Diagnostics)
	require.NotNil(t, res.Bundle)
	assert.Empty(t, res.Diagnostics)

	b := res.Bundle
	assert.Equal(t, ir.ArtifactVersion, b.ArtifactVersion)
	assert.Equal(t, ir.CompilerVersion, b.CompilerVersion)
	assert.True(t, ir.IsHexDigest(b.SourceSpecHash))
	require.NoError(t, ir.VerifyBundleHash(b))
	require.NoError(t, ir.VerifyLanes(b))

	list, ok := b.Entrypoint(ir.KindQuery, "list_messages")
	require.True(t, ok)
	assert.Equal(t, map[string]ir.FieldContract{
		"channel": {Type: ir.ScalarID, Required: true},
		"limit":   {Type: ir.ScalarInt, Required: false},
	}, list.Inputs)
	assert.Equal(t, []string{"message.created"}, list.RefreshOnSignals)

	submit, ok := b.Entrypoint(ir.KindMutation, "submit_message")
	require.True(t, ok)
	assert.Equal(t, []string{"message.created"}, submit.EmitsSignals)
	require.Len(t, submit.Capabilities, 1)
	assert.Equal(t, "storage.kv", submit.Capabilities[0].PortID)
	assert.Equal(t, "1.0.0", submit.Capabilities[0].PortVersion)
	want := portDecl{ID: "storage.kv", Version: "1.0.0", Operations: []string{"get", "put"}}.ContractHash()
	assert.Equal(t, want, submit.Capabilities[0].ContractHash)

	assert.Equal(t, map[string][]string{"list_messages": {"message.created"}}, b.RefreshSubscriptions)

	require.Len(t, b.Bindings, 2)
	assert.Equal(t, "cli", b.Bindings[0].Surface)
	assert.Equal(t, "query:list_messages", b.Bindings[0].EntrypointKey)
	assert.Equal(t, "http", b.Bindings[1].Surface)
	assert.Equal(t, map[string]string{"channel": "path.channel", "body": "body.text"}, b.Bindings[1].Fields)

	plan := b.AccessPlan
	assert.Equal(t, ir.PolicyDeny, plan.DefaultPolicy)
	assert.Contains(t, plan.RoleDefinitions, ir.RoleAuthenticated)
	assert.Equal(t, []string{ir.RoleAuthenticated}, plan.RoleDefinitions["admin"].Extends)
	assert.Equal(t, ir.DeriveClaimEquals, plan.RoleDefinitions["admin"].Derive[0].Kind)
	assert.Equal(t, "admin", plan.RoleDefinitions["admin"].Derive[0].Value)
	assert.Equal(t, ir.DeriveClaimExpr, plan.RoleDefinitions["premium"].Derive[0].Kind)
	assert.Equal(t, []string{ir.RoleAuthenticated}, plan.EntrypointRoles["mutation:submit_message"])

	assert.Len(t, b.SchemaArtifacts.InputSchemas, 2)
	assert.Len(t, b.SchemaArtifacts.Lanes, len(ir.AllLanes))
}

// TestCompile_RoundTrip tests a compiled bundle survives serialization.
func TestCompile_RoundTrip(t *testing.T) {
	res := CompileDir("testdata/chat")
	require.True(t, res.OK)

	data, err := ir.MarshalBundle(res.Bundle)
	require.NoError(t, err)
	parsed, err := ir.ParseBundle(data)
	require.NoError(t, err)
	assert.Equal(t, res.Bundle.ArtifactHash, parsed.ArtifactHash)
	assert.NoError(t, ir.VerifyLanes(parsed))
}

// TestCompile_Deterministic tests field order in the source does not change
// the artifact hash.
func TestCompile_Deterministic(t *testing.T) {
	a := compileString(t, `
entrypoints: {
	a: { kind: "query", input: { x: "int", y: "text?" }, roles: ["authenticated"] }
	b: { kind: "mutation", input: { z: "bool" }, emits: ["s.one", "s.two"] }
}
access: default: "allow"
`)
	b := compileString(t, `
access: default: "allow"
entrypoints: {
	b: { emits: ["s.one", "s.two"], input: { z: "bool" }, kind: "mutation" }
	a: { roles: ["authenticated"], input: { y: "text?", x: "int" }, kind: "query" }
}
`)
	require.True(t, a.OK, "%v", a.Diagnostics)
	require.True(t, b.OK, "%v", b.Diagnostics)
	assert.Equal(t, a.Bundle.ArtifactHash, b.Bundle.ArtifactHash)
	assert.Equal(t, a.Bundle.SourceSpecHash, b.Bundle.SourceSpecHash)
}

// TestCompile_JSONSource tests JSON authoring specs take the same path.
func TestCompile_JSONSource(t *testing.T) {
	res := CompileSource("spec.json", []byte(`{
		"entrypoints": {"ping": {"kind": "query", "input": {}, "roles": ["authenticated"]}}
	}`))
	require.True(t, res.OK, "%v", res.Diagnostics)
	_, ok := res.Bundle.Entrypoint(ir.KindQuery, "ping")
	assert.True(t, ok)
}

// TestCompile_Errors tests each error diagnostic fails compilation without
// producing a bundle.
func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
		path string
	}{
		{
			name: "undeclared binding field",
			src: `
entrypoints: q: { kind: "query", input: { a: "text" } }
surfaces: http: q: { a: "query.a", b: "query.b" }`,
			code: CodeUndeclaredField,
			path: "surfaces.http.q.b",
		},
		{
			name: "invalid binding source",
			src: `
entrypoints: q: { kind: "query", input: { a: "text" } }
surfaces: http: q: { a: "header.a" }`,
			code: CodeInvalidSource,
			path: "surfaces.http.q.a",
		},
		{
			name: "binding unknown entrypoint",
			src: `
entrypoints: q: { kind: "query", input: {} }
surfaces: http: nope: {}`,
			code: CodeBindingEntrypoint,
			path: "surfaces.http.nope",
		},
		{
			name: "refresh on mutation",
			src:  `entrypoints: m: { kind: "mutation", input: {}, refresh_on_signals: ["s.x"] }`,
			code: CodeRefreshOnMutation,
			path: "entrypoints.m.refresh_on_signals",
		},
		{
			name: "emits on query",
			src:  `entrypoints: q: { kind: "query", input: {}, emits: ["s.x"] }`,
			code: CodeEmitsOnQuery,
			path: "entrypoints.q.emits",
		},
		{
			name: "unknown capability",
			src:  `entrypoints: m: { kind: "mutation", input: {}, capabilities: ["storage.kv"] }`,
			code: CodeUnknownPort,
			path: "entrypoints.m.capabilities[0]",
		},
		{
			name: "bad port version",
			src: `
ports: "storage.kv": { version: "v1" }
entrypoints: q: { kind: "query", input: {} }`,
			code: CodeInvalidPort,
			path: `ports."storage.kv".version`,
		},
		{
			name: "bad field type",
			src:  `entrypoints: q: { kind: "query", input: { a: "float" } }`,
			code: CodeInvalidFieldType,
			path: "entrypoints.q.input.a",
		},
		{
			name: "bad kind",
			src:  `entrypoints: q: { kind: "job", input: {} }`,
			code: CodeInvalidKind,
			path: "entrypoints.q.kind",
		},
		{
			name: "bad entrypoint id",
			src:  `entrypoints: Query: { kind: "query", input: {} }`,
			code: CodeInvalidID,
			path: `entrypoints."Query"`,
		},
		{
			name: "unknown top-level field",
			src: `
entrypoints: q: { kind: "query", input: {} }
pages: {}`,
			code: CodeUnknownField,
			path: "pages",
		},
		{
			name: "no entrypoints",
			src:  `app: "empty"`,
			code: CodeNoEntrypoints,
			path: "entrypoints",
		},
		{
			name: "bad default policy",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: default: "maybe"`,
			code: CodeInvalidPolicy,
			path: "access.default",
		},
		{
			name: "unknown role",
			src:  `entrypoints: q: { kind: "query", input: {}, roles: ["ghost"] }`,
			code: CodeUnknownRole,
			path: "entrypoints.q.roles",
		},
		{
			name: "unknown extends",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: roles: admin: extends: ["ghost"]`,
			code: CodeUnknownExtends,
			path: "access.roles.admin.extends",
		},
		{
			name: "extends cycle",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: roles: {
	a: extends: ["b"]
	b: extends: ["a"]
}`,
			code: CodeExtendsCycle,
			path: "access.roles.a",
		},
		{
			name: "invalid claim expression",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: roles: r: derive: [{ claim_expr: "claims.tier >=" }]`,
			code: CodeInvalidClaimExpr,
			path: "access.roles.r.derive[0].claim_expr",
		},
		{
			name: "non-bool claim expression",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: roles: r: derive: [{ claim_expr: "subject + 'x'" }]`,
			code: CodeInvalidClaimExpr,
			path: "access.roles.r.derive[0].claim_expr",
		},
		{
			name: "derive with two kinds",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: roles: r: derive: [{ authenticated: true, claim_expr: "true" }]`,
			code: CodeInvalidDerive,
			path: "access.roles.r.derive[0]",
		},
		{
			name: "builtin role redefined",
			src: `
entrypoints: q: { kind: "query", input: {} }
access: roles: authenticated: {}`,
			code: CodeBuiltinRole,
			path: "access.roles.authenticated",
		},
		{
			name: "incomplete value",
			src:  `entrypoints: q: { kind: string, input: {} }`,
			code: CodeLoadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := compileString(t, tt.src)
			assert.False(t, res.OK)
			assert.Nil(t, res.Bundle, "no partial bundle on error")
			assert.True(t, HasErrors(res.Diagnostics))

			idx := slices.IndexFunc(res.Diagnostics, func(d Diagnostic) bool { return d.Code == tt.code })
			require.GreaterOrEqual(t, idx, 0, "want %s, got %v", tt.code, res.Diagnostics)
			d := res.Diagnostics[idx]
			assert.Equal(t, SeverityError, d.Severity)
			if tt.path != "" {
				assert.Equal(t, tt.path, d.Path)
			}
		})
	}
}

// TestCompile_NonFatalDiagnostics tests warnings and info keep the bundle.
func TestCompile_NonFatalDiagnostics(t *testing.T) {
	res := compileString(t, `
entrypoints: {
	feed: { kind: "query", input: { channel: "id", since: "timestamp" }, refresh_on_signals: ["post.deleted"] }
}
surfaces: http: feed: { channel: "path.channel" }
`)
	require.True(t, res.OK, "%v", res.Diagnostics)
	require.NotNil(t, res.Bundle)
	assert.False(t, HasErrors(res.Diagnostics))
	assert.Equal(t, []string{CodeSignalNeverEmitted, CodeDefaultPolicy, CodeRequiredFieldUnbound}, codes(res.Diagnostics))

	// the unbound required field warning sits on the binding path
	assert.Equal(t, "surfaces.http.feed", res.Diagnostics[2].Path)
	assert.Equal(t, SeverityWarning, res.Diagnostics[2].Severity)
	assert.Equal(t, SeverityInfo, res.Diagnostics[1].Severity)
}

// TestCompile_DiagnosticsSorted tests diagnostics come back ordered by path
// then code regardless of the step that raised them.
func TestCompile_DiagnosticsSorted(t *testing.T) {
	res := compileString(t, `
entrypoints: {
	z: { kind: "query", input: { a: "blob" }, emits: ["s.x"] }
	a: { kind: "job", input: {} }
}
access: default: "maybe"
`)
	require.False(t, res.OK)
	require.GreaterOrEqual(t, len(res.Diagnostics), 4)
	assert.True(t, slices.IsSortedFunc(res.Diagnostics, func(a, b Diagnostic) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Code, b.Code))
	}))
}

// TestCompileDir_Missing tests a missing directory is a load diagnostic.
func TestCompileDir_Missing(t *testing.T) {
	res := CompileDir("testdata/does-not-exist")
	assert.False(t, res.OK)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, CodeLoadFailed, res.Diagnostics[0].Code)
}

// TestInputSchema tests the generated JSON Schema shape.
func TestInputSchema(t *testing.T) {
	ep := ir.Entrypoint{
		ID:   "submit",
		Kind: ir.KindMutation,
		Inputs: map[string]ir.FieldContract{
			"at":    {Type: ir.ScalarTimestamp},
			"body":  {Type: ir.ScalarText, Required: true},
			"count": {Type: ir.ScalarInt, Required: true},
		},
	}
	s := InputSchema(ep)
	assert.Equal(t, ir.String(JSONSchemaDraft), s["$schema"])
	assert.Equal(t, ir.Bool(false), s["additionalProperties"])
	assert.Equal(t, ir.Array{ir.String("body"), ir.String("count")}, s["required"])

	props := s["properties"].(ir.Object)
	assert.Equal(t, ir.Object{"type": ir.String("integer")}, props["count"])
	assert.Equal(t, ir.String("date-time"), props["at"].(ir.Object)["format"])
}
