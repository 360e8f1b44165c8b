package compiler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// portDecl is a declared capability port contract.
type portDecl struct {
	ID         string   `json:"portId"`
	Version    string   `json:"portVersion"`
	Operations []string `json:"operations"`
}

// ContractHash hashes the port contract; lockfiles must carry the same value.
func (p portDecl) ContractHash() string {
	return ir.MustStableHash(p)
}

var (
	portFields       = []string{"version", "operations"}
	entrypointFields = []string{"kind", "input", "roles", "refresh_on_signals", "emits", "capabilities"}
)

func (c *compilation) compilePorts() {
	v := lookup(c.root, "ports")
	if !v.Exists() {
		return
	}
	fields, ok := c.structFields("ports", v)
	if !ok {
		return
	}
	for _, f := range fields {
		path := joinPath("ports", f.label)
		c.checkFields(path, f.value, portFields)

		decl := portDecl{ID: f.label, Operations: []string{}}
		valid := true
		if !signalPattern.MatchString(f.label) {
			c.errorf(path, f.value.Pos(), CodeInvalidPort, "port id %q must be dot-separated identifiers", f.label)
			valid = false
		}

		version := lookup(f.value, "version")
		if !version.Exists() {
			c.errorf(path, f.value.Pos(), CodeInvalidPort, "port %q has no version", f.label)
			valid = false
		} else if s, ok := c.stringAt(joinPath(path, "version"), version); ok {
			if _, err := semver.StrictNewVersion(s); err != nil {
				c.errorf(joinPath(path, "version"), version.Pos(), CodeInvalidPort, "port version %q is not semver: %v", s, err)
				valid = false
			}
			decl.Version = s
		} else {
			valid = false
		}

		if ops := lookup(f.value, "operations"); ops.Exists() {
			list, ok := c.stringList(joinPath(path, "operations"), ops)
			valid = valid && ok
			for i, op := range list {
				if !identPattern.MatchString(op) {
					c.errorf(fmt.Sprintf("%s.operations[%d]", path, i), ops.Pos(), CodeInvalidPort, "operation %q must match %s", op, identPattern)
					valid = false
				}
			}
			decl.Operations = sortedUnique(list)
		}

		if valid {
			c.ports[f.label] = decl
		}
	}
}

func (c *compilation) compileEntrypoints() {
	v := lookup(c.root, "entrypoints")
	if !v.Exists() {
		c.errorf("entrypoints", c.root.Pos(), CodeNoEntrypoints, "at least one entrypoint is required")
		return
	}
	fields, ok := c.structFields("entrypoints", v)
	if !ok {
		return
	}
	if len(fields) == 0 {
		c.errorf("entrypoints", v.Pos(), CodeNoEntrypoints, "at least one entrypoint is required")
		return
	}
	for _, f := range fields {
		c.compileEntrypoint(f)
	}
}

func (c *compilation) compileEntrypoint(f field) {
	path := joinPath("entrypoints", f.label)
	c.checkFields(path, f.value, entrypointFields)
	if !identPattern.MatchString(f.label) {
		c.errorf(path, f.value.Pos(), CodeInvalidID, "entrypoint id %q must match %s", f.label, identPattern)
	}

	ep := ir.Entrypoint{ID: f.label, Inputs: map[string]ir.FieldContract{}}

	kindVal := lookup(f.value, "kind")
	if !kindVal.Exists() {
		c.errorf(path, f.value.Pos(), CodeInvalidKind, "kind is required")
		return
	}
	kind, ok := c.stringAt(joinPath(path, "kind"), kindVal)
	if !ok {
		return
	}
	ep.Kind = ir.EntrypointKind(kind)
	if !ep.Kind.Valid() {
		c.errorf(joinPath(path, "kind"), kindVal.Pos(), CodeInvalidKind, "kind %q must be %q or %q", kind, ir.KindQuery, ir.KindMutation)
		return
	}

	if input := lookup(f.value, "input"); input.Exists() {
		if fields, ok := c.structFields(joinPath(path, "input"), input); ok {
			for _, in := range fields {
				c.compileField(joinPath(joinPath(path, "input"), in.label), in, &ep)
			}
		}
	}

	if emits := lookup(f.value, "emits"); emits.Exists() {
		p := joinPath(path, "emits")
		if ep.Kind == ir.KindQuery {
			c.errorf(p, emits.Pos(), CodeEmitsOnQuery, "queries cannot emit signals")
		} else if list, ok := c.stringList(p, emits); ok {
			ep.EmitsSignals = c.signalIDs(p, list)
		}
	}

	if refresh := lookup(f.value, "refresh_on_signals"); refresh.Exists() {
		p := joinPath(path, "refresh_on_signals")
		if ep.Kind == ir.KindMutation {
			c.errorf(p, refresh.Pos(), CodeRefreshOnMutation, "mutations cannot subscribe to refresh signals")
		} else if list, ok := c.stringList(p, refresh); ok {
			ep.RefreshOnSignals = c.signalIDs(p, list)
		}
	}

	if caps := lookup(f.value, "capabilities"); caps.Exists() {
		p := joinPath(path, "capabilities")
		if list, ok := c.stringList(p, caps); ok {
			ep.Capabilities = c.capabilityRequirements(p, list)
		}
	}

	if roles := lookup(f.value, "roles"); roles.Exists() {
		if list, ok := c.stringList(joinPath(path, "roles"), roles); ok {
			c.declaredRoles[ep.ID] = list
		}
	}

	c.entrypoints[ep.ID] = ep
}

// compileField parses a scalar type such as "int" or "int?".
func (c *compilation) compileField(path string, f field, ep *ir.Entrypoint) {
	if !identPattern.MatchString(f.label) {
		c.errorf(path, f.value.Pos(), CodeInvalidID, "input field %q must match %s", f.label, identPattern)
		return
	}
	typ, ok := c.stringAt(path, f.value)
	if !ok {
		return
	}
	base, optional := strings.CutSuffix(typ, "?")
	if !ir.ValidScalarTypes[ir.ScalarType(base)] {
		c.errorf(path, f.value.Pos(), CodeInvalidFieldType,
			"unknown type %q (want text, id, int, number, bool or timestamp, optionally suffixed with ?)", typ)
		return
	}
	ep.Inputs[f.label] = ir.FieldContract{Type: ir.ScalarType(base), Required: !optional}
}

func (c *compilation) signalIDs(path string, list []string) []string {
	out := make([]string, 0, len(list))
	for i, id := range list {
		if !signalPattern.MatchString(id) {
			c.errorf(fmt.Sprintf("%s[%d]", path, i), c.root.Pos(), CodeInvalidSignalID, "signal id %q must be dot-separated identifiers", id)
			continue
		}
		out = append(out, id)
	}
	return sortedUnique(out)
}

func (c *compilation) capabilityRequirements(path string, list []string) []ir.CapabilityRequirement {
	out := make([]ir.CapabilityRequirement, 0, len(list))
	for i, id := range list {
		decl, ok := c.ports[id]
		if !ok {
			c.errorf(fmt.Sprintf("%s[%d]", path, i), c.root.Pos(), CodeUnknownPort, "capability %q names no declared port", id)
			continue
		}
		out = append(out, ir.CapabilityRequirement{
			PortID:       decl.ID,
			PortVersion:  decl.Version,
			ContractHash: decl.ContractHash(),
		})
	}
	slices.SortFunc(out, func(a, b ir.CapabilityRequirement) int {
		return cmp.Compare(a.PortID, b.PortID)
	})
	return out
}
