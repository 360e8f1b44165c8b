// Package policy derives effective roles for a principal and evaluates the
// access gate of a compiled access plan.
package policy

import (
	"fmt"
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// EffectiveRoles returns tags ∪ {authenticated if subject is set} ∪ roles
// derived from claims, closed over extends, sorted and de-duplicated.
func EffectiveRoles(p ir.PrincipalContext, plan ir.AccessPlan) ([]string, error) {
	eng, err := DefaultExprEngine()
	if err != nil {
		return nil, err
	}
	return effectiveRoles(eng, p, plan)
}

func effectiveRoles(eng *ExprEngine, p ir.PrincipalContext, plan ir.AccessPlan) ([]string, error) {
	claims, err := plainClaims(p.Claims)
	if err != nil {
		return nil, ir.NewError(ir.ErrCodePrincipalValidation, "principal claims: %v", err)
	}

	granted := make(map[string]bool)
	for _, tag := range p.Tags {
		granted[tag] = true
	}
	if p.Subject != nil {
		granted[ir.RoleAuthenticated] = true
	}

	for _, role := range sortedRoleIDs(plan.RoleDefinitions) {
		if granted[role] {
			continue
		}
		for _, rule := range plan.RoleDefinitions[role].Derive {
			ok, err := matches(eng, rule, p, claims)
			if err != nil {
				return nil, fmt.Errorf("derive role %q: %w", role, err)
			}
			if ok {
				granted[role] = true
				break
			}
		}
	}

	closeOverExtends(granted, plan.RoleDefinitions)

	roles := make([]string, 0, len(granted))
	for role := range granted {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles, nil
}

func matches(eng *ExprEngine, rule ir.DeriveRule, p ir.PrincipalContext, claims map[string]any) (bool, error) {
	switch rule.Kind {
	case ir.DeriveAuthenticated:
		return p.Subject != nil, nil
	case ir.DeriveClaimEquals:
		got, present := claims[rule.Claim]
		if !present {
			return false, nil
		}
		return sameValue(got, rule.Value)
	case ir.DeriveClaimExpr:
		subject := ""
		if p.Subject != nil {
			subject = *p.Subject
		}
		return eng.Eval(rule.Expr, subject, claims, p.Tags)
	default:
		return false, fmt.Errorf("unknown derive rule kind %q", rule.Kind)
	}
}

// closeOverExtends adds every role reachable through extends from a granted
// role. Cycles are rejected at compile time but tolerated here.
func closeOverExtends(granted map[string]bool, defs map[string]ir.RoleDefinition) {
	stack := make([]string, 0, len(granted))
	for role := range granted {
		stack = append(stack, role)
	}
	for len(stack) > 0 {
		role := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, parent := range defs[role].Extends {
			if !granted[parent] {
				granted[parent] = true
				stack = append(stack, parent)
			}
		}
	}
}

// sameValue compares two JSON-like values by canonical form, so 2 and 2.0
// or json.Number("2") are equal.
func sameValue(a, b any) (bool, error) {
	ha, err := ir.StableHash(a)
	if err != nil {
		return false, err
	}
	hb, err := ir.StableHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// plainClaims converts claims into plain Go values that CEL can adapt
// (json.Number and structs are not).
func plainClaims(claims map[string]any) (map[string]any, error) {
	if len(claims) == 0 {
		return map[string]any{}, nil
	}
	v, err := ir.Normalize(claims)
	if err != nil {
		return nil, err
	}
	out, ok := ir.Interface(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("claims must be an object")
	}
	return out, nil
}

func sortedRoleIDs(defs map[string]ir.RoleDefinition) []string {
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Decision is the outcome of the access gate.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Required []string `json:"required"`
	Reason   string   `json:"reason"`
}

// Evaluate checks roles against the roles the entrypoint requires. Required
// roles are any-of; an entrypoint with none falls back to the default policy.
func Evaluate(plan ir.AccessPlan, entrypointKey string, roles []string) Decision {
	required := plan.EntrypointRoles[entrypointKey]
	if len(required) == 0 {
		allowed := plan.DefaultPolicy == ir.PolicyAllow
		return Decision{
			Allowed:  allowed,
			Required: []string{},
			Reason:   "default policy " + plan.DefaultPolicy,
		}
	}
	for _, r := range required {
		if slices.Contains(roles, r) {
			return Decision{Allowed: true, Required: required, Reason: "granted by role " + r}
		}
	}
	return Decision{Allowed: false, Required: required, Reason: "principal holds none of the required roles"}
}
