package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/policy"
)

var (
	accessFields = []string{"default", "roles"}
	roleFields   = []string{"extends", "derive"}
	deriveKinds  = []string{"authenticated", "claim_equals", "claim_expr"}
)

// compileAccessPlan builds the access plan. The builtin authenticated role
// is always defined and cannot be redeclared.
func (c *compilation) compileAccessPlan() {
	plan := ir.AccessPlan{
		DefaultPolicy: ir.PolicyDeny,
		RoleDefinitions: map[string]ir.RoleDefinition{
			ir.RoleAuthenticated: {
				Extends: []string{},
				Derive:  []ir.DeriveRule{{Kind: ir.DeriveAuthenticated}},
			},
		},
		EntrypointRoles: map[string][]string{},
	}

	access := lookup(c.root, "access")
	if access.Exists() {
		c.checkFields("access", access, accessFields)
		if def := lookup(access, "default"); def.Exists() {
			if s, ok := c.stringAt("access.default", def); ok {
				if s != ir.PolicyAllow && s != ir.PolicyDeny {
					c.errorf("access.default", def.Pos(), CodeInvalidPolicy, "default policy %q must be %q or %q", s, ir.PolicyAllow, ir.PolicyDeny)
				} else {
					plan.DefaultPolicy = s
				}
			}
		}
		if roles := lookup(access, "roles"); roles.Exists() {
			if fields, ok := c.structFields("access.roles", roles); ok {
				for _, f := range fields {
					c.compileRole(f, plan.RoleDefinitions)
				}
			}
		}
	}

	c.checkExtends(plan.RoleDefinitions)
	c.compileEntrypointRoles(&plan)
	c.accessPlan = plan
}

func (c *compilation) compileRole(f field, defs map[string]ir.RoleDefinition) {
	path := joinPath("access.roles", f.label)
	if f.label == ir.RoleAuthenticated {
		c.errorf(path, f.value.Pos(), CodeBuiltinRole, "role %q is builtin and cannot be redefined", f.label)
		return
	}
	if !rolePattern.MatchString(f.label) {
		c.errorf(path, f.value.Pos(), CodeInvalidID, "role id %q must match %s", f.label, rolePattern)
		return
	}
	c.checkFields(path, f.value, roleFields)

	def := ir.RoleDefinition{Extends: []string{}, Derive: []ir.DeriveRule{}}
	if ext := lookup(f.value, "extends"); ext.Exists() {
		if list, ok := c.stringList(joinPath(path, "extends"), ext); ok {
			def.Extends = sortedUnique(list)
		}
	}
	if derive := lookup(f.value, "derive"); derive.Exists() {
		def.Derive = c.compileDeriveRules(joinPath(path, "derive"), derive)
	}
	defs[f.label] = def
}

// compileDeriveRules parses derive entries. Each entry has exactly one key:
//
//	{ authenticated: true }
//	{ claim_equals: { claim: "role", value: "admin" } }
//	{ claim_expr: "claims.tier >= 2" }
func (c *compilation) compileDeriveRules(path string, v cue.Value) []ir.DeriveRule {
	rules := []ir.DeriveRule{}
	if v.IncompleteKind() != cue.ListKind {
		c.errorf(path, v.Pos(), CodeInvalidDerive, "derive must be a list")
		return rules
	}
	iter, err := v.List()
	if err != nil {
		c.diags = append(c.diags, cueDiagnostics(path, err)...)
		return rules
	}
	for i := 0; iter.Next(); i++ {
		rpath := fmt.Sprintf("%s[%d]", path, i)
		if rule, ok := c.compileDeriveRule(rpath, iter.Value()); ok {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (c *compilation) compileDeriveRule(path string, v cue.Value) (ir.DeriveRule, bool) {
	fields, ok := c.structFields(path, v)
	if !ok {
		return ir.DeriveRule{}, false
	}
	if len(fields) != 1 || !slices.Contains(deriveKinds, fields[0].label) {
		c.errorf(path, v.Pos(), CodeInvalidDerive, "derive rule must have exactly one of %s", strings.Join(deriveKinds, ", "))
		return ir.DeriveRule{}, false
	}

	f := fields[0]
	fpath := joinPath(path, f.label)
	switch f.label {
	case "authenticated":
		b, err := f.value.Bool()
		if err != nil || !b {
			c.errorf(fpath, f.value.Pos(), CodeInvalidDerive, "authenticated must be true")
			return ir.DeriveRule{}, false
		}
		return ir.DeriveRule{Kind: ir.DeriveAuthenticated}, true

	case "claim_equals":
		c.checkFields(fpath, f.value, []string{"claim", "value"})
		claimVal := lookup(f.value, "claim")
		valueVal := lookup(f.value, "value")
		if !claimVal.Exists() || !valueVal.Exists() {
			c.errorf(fpath, f.value.Pos(), CodeInvalidDerive, "claim_equals needs claim and value")
			return ir.DeriveRule{}, false
		}
		claim, ok := c.stringAt(joinPath(fpath, "claim"), claimVal)
		if !ok || claim == "" {
			return ir.DeriveRule{}, false
		}
		value, err := plainValue(valueVal)
		if err != nil {
			c.errorf(joinPath(fpath, "value"), valueVal.Pos(), CodeInvalidDerive, "claim value: %v", err)
			return ir.DeriveRule{}, false
		}
		return ir.DeriveRule{Kind: ir.DeriveClaimEquals, Claim: claim, Value: value}, true

	default: // claim_expr
		expr, ok := c.stringAt(fpath, f.value)
		if !ok {
			return ir.DeriveRule{}, false
		}
		if err := policy.CheckExpr(expr); err != nil {
			c.errorf(fpath, f.value.Pos(), CodeInvalidClaimExpr, "%v", err)
			return ir.DeriveRule{}, false
		}
		return ir.DeriveRule{Kind: ir.DeriveClaimExpr, Expr: expr}, true
	}
}

// checkExtends rejects unknown parents and extends cycles.
func (c *compilation) checkExtends(defs map[string]ir.RoleDefinition) {
	graph := make(roleGraph, len(defs))
	for id, def := range defs {
		graph[id] = []string{}
		for _, parent := range def.Extends {
			if _, ok := defs[parent]; !ok {
				c.errorf(joinPath(joinPath("access.roles", id), "extends"), c.root.Pos(), CodeUnknownExtends,
					"role %q extends undefined role %q", id, parent)
				continue
			}
			graph[id] = append(graph[id], parent)
		}
	}
	for _, cycle := range findCycles(graph) {
		c.errorf(joinPath("access.roles", cycle[0]), c.root.Pos(), CodeExtendsCycle,
			"roles extend each other in a cycle: %s", strings.Join(cycle, " -> "))
	}
}

func (c *compilation) compileEntrypointRoles(plan *ir.AccessPlan) {
	ids := make([]string, 0, len(c.entrypoints))
	for id := range c.entrypoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		ep := c.entrypoints[id]
		path := joinPath(joinPath("entrypoints", id), "roles")
		roles := sortedUnique(c.declaredRoles[id])
		for _, role := range roles {
			if _, ok := plan.RoleDefinitions[role]; !ok {
				c.errorf(path, c.root.Pos(), CodeUnknownRole, "entrypoint %s requires undefined role %q", ep.Key(), role)
			}
		}
		if len(roles) == 0 {
			c.infof(path, c.root.Pos(), CodeDefaultPolicy, "%s declares no roles; default policy %q governs", ep.Key(), plan.DefaultPolicy)
		}
		plan.EntrypointRoles[ep.Key()] = roles
	}
}
