// Package compiler turns a CUE authoring specification into a sealed
// entrypoint bundle.
//
// Compilation runs every step and collects diagnostics rather than stopping
// at the first problem. A bundle is produced only when no diagnostic has
// error severity; partial bundles are never returned.
package compiler

import (
	"fmt"
	"os"
	"regexp"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

var (
	identPattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	signalPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)
	rolePattern   = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)
)

// Result is the outcome of one compilation. Bundle is nil unless OK.
type Result struct {
	OK          bool         `json:"ok"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Bundle      *ir.Bundle   `json:"bundle,omitempty"`
}

// CompileDir loads every .cue file of the package in dir and compiles it.
func CompileDir(dir string) *Result {
	info, err := os.Stat(dir)
	if err != nil {
		return failed(Diagnostic{Severity: SeverityError, Code: CodeLoadFailed, Path: dir, Message: err.Error()})
	}
	if !info.IsDir() {
		return failed(Diagnostic{Severity: SeverityError, Code: CodeLoadFailed, Path: dir, Message: "not a directory"})
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return failed(Diagnostic{Severity: SeverityError, Code: CodeLoadFailed, Path: dir, Message: "no CUE instances loaded"})
	}
	inst := instances[0]
	if inst.Err != nil {
		return failed(cueDiagnostics(dir, inst.Err)...)
	}

	v := cuecontext.New().BuildInstance(inst)
	return Compile(v)
}

// CompileSource compiles a single CUE (or JSON) document.
func CompileSource(filename string, src []byte) *Result {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return Compile(v)
}

// Compile compiles an already built CUE value.
func Compile(v cue.Value) *Result {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return failed(cueDiagnostics("", err)...)
	}

	c := newCompilation(v)
	c.checkTopLevel()
	c.compilePorts()
	c.compileEntrypoints()
	c.compileBindings()
	c.compileRefreshSubscriptions()
	c.compileAccessPlan()

	if HasErrors(c.diags) {
		return failed(c.diags...)
	}

	bundle, err := c.assemble()
	if err != nil {
		c.errorf("", v.Pos(), CodeLoadFailed, "assemble bundle: %v", err)
		return failed(c.diags...)
	}

	sortDiagnostics(c.diags)
	return &Result{OK: true, Diagnostics: c.diags, Bundle: bundle}
}

func failed(diags ...Diagnostic) *Result {
	out := slices.Clone(diags)
	if out == nil {
		out = []Diagnostic{}
	}
	sortDiagnostics(out)
	return &Result{OK: false, Diagnostics: out}
}

// compilation carries the state shared by the compile steps.
type compilation struct {
	root  cue.Value
	diags []Diagnostic

	ports         map[string]portDecl
	entrypoints   map[string]ir.Entrypoint
	declaredRoles map[string][]string // entrypoint id -> roles as authored
	bindings      []ir.SurfaceBinding
	subscriptions map[string][]string
	accessPlan    ir.AccessPlan
}

func newCompilation(v cue.Value) *compilation {
	return &compilation{
		root:          v,
		diags:         []Diagnostic{},
		ports:         make(map[string]portDecl),
		entrypoints:   make(map[string]ir.Entrypoint),
		declaredRoles: make(map[string][]string),
		bindings:      []ir.SurfaceBinding{},
		subscriptions: make(map[string][]string),
	}
}

func (c *compilation) report(sev Severity, path string, pos token.Pos, code, format string, args ...any) {
	c.diags = append(c.diags, Diagnostic{
		Severity: sev,
		Code:     code,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Pos:      pos,
	})
}

func (c *compilation) errorf(path string, pos token.Pos, code, format string, args ...any) {
	c.report(SeverityError, path, pos, code, format, args...)
}

func (c *compilation) warnf(path string, pos token.Pos, code, format string, args ...any) {
	c.report(SeverityWarning, path, pos, code, format, args...)
}

func (c *compilation) infof(path string, pos token.Pos, code, format string, args ...any) {
	c.report(SeverityInfo, path, pos, code, format, args...)
}

var topLevelFields = []string{"app", "entrypoints", "surfaces", "access", "ports"}

func (c *compilation) checkTopLevel() {
	c.checkFields("", c.root, topLevelFields)
	if app := c.root.LookupPath(cue.ParsePath("app")); app.Exists() {
		c.stringAt("app", app)
	}
}

// assemble builds and seals the bundle from the compiled lanes.
func (c *compilation) assemble() (*ir.Bundle, error) {
	sourceHash, err := sourceSpecHash(c.root)
	if err != nil {
		return nil, err
	}

	b := &ir.Bundle{
		ArtifactVersion:      ir.ArtifactVersion,
		CompilerVersion:      ir.CompilerVersion,
		SourceSpecHash:       sourceHash,
		Entrypoints:          c.entrypoints,
		Bindings:             c.bindings,
		AccessPlan:           c.accessPlan,
		RefreshSubscriptions: c.subscriptions,
	}
	b.SchemaArtifacts.InputSchemas = inputSchemas(c.entrypoints)
	if b.SchemaArtifacts.Lanes, err = ir.ComputeLaneDigests(b); err != nil {
		return nil, err
	}
	if err := ir.SealBundle(b); err != nil {
		return nil, err
	}
	return b, nil
}

// sourceSpecHash hashes the exported authoring value, so formatting and
// comments in the source do not affect it.
func sourceSpecHash(v cue.Value) (string, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("export authoring spec: %w", err)
	}
	parsed, err := ir.ParseValue(data)
	if err != nil {
		return "", fmt.Errorf("parse exported spec: %w", err)
	}
	return ir.StableHash(parsed)
}
