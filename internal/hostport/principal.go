package hostport

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/policy"
)

// ClaimsPrincipal is the default Principal port. It accepts untrusted
// payloads shaped as {subject?: string|null, claims?: object, tags?: [string]}
// and derives roles with policy.EffectiveRoles.
type ClaimsPrincipal struct{}

var principalKeys = map[string]bool{"subject": true, "claims": true, "tags": true}

// ValidatePrincipal converts raw into a PrincipalContext. nil is anonymous.
func (ClaimsPrincipal) ValidatePrincipal(raw any) (ir.PrincipalContext, error) {
	switch v := raw.(type) {
	case nil:
		return ir.Anonymous(), nil
	case ir.PrincipalContext:
		return normalizePrincipal(v), nil
	case *ir.PrincipalContext:
		if v == nil {
			return ir.Anonymous(), nil
		}
		return normalizePrincipal(*v), nil
	case json.RawMessage:
		return decodePrincipal(v)
	case []byte:
		return decodePrincipal(v)
	case map[string]any:
		return principalFromMap(v)
	default:
		return ir.PrincipalContext{}, principalError("principal must be an object, got %T", raw)
	}
}

// DeriveRoles returns the effective roles of p under plan.
func (ClaimsPrincipal) DeriveRoles(p ir.PrincipalContext, plan ir.AccessPlan) ([]string, error) {
	return policy.EffectiveRoles(p, plan)
}

func decodePrincipal(data []byte) (ir.PrincipalContext, error) {
	raw, err := ir.DecodeJSON(data)
	if err != nil {
		return ir.PrincipalContext{}, principalError("principal is not valid JSON: %v", err)
	}
	if raw == nil {
		return ir.Anonymous(), nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return ir.PrincipalContext{}, principalError("principal must be an object")
	}
	return principalFromMap(m)
}

func principalFromMap(m map[string]any) (ir.PrincipalContext, error) {
	for k := range m {
		if !principalKeys[k] {
			return ir.PrincipalContext{}, principalError("unknown principal field %q", k).WithDetail("field", k)
		}
	}

	p := ir.Anonymous()

	switch s := m["subject"].(type) {
	case nil:
	case string:
		if s == "" {
			return ir.PrincipalContext{}, principalError("subject must be non-empty when present")
		}
		p.Subject = &s
	default:
		return ir.PrincipalContext{}, principalError("subject must be a string or null, got %T", s)
	}

	switch c := m["claims"].(type) {
	case nil:
	case map[string]any:
		if _, err := ir.Normalize(c); err != nil {
			return ir.PrincipalContext{}, principalError("claims: %v", err)
		}
		p.Claims = c
	default:
		return ir.PrincipalContext{}, principalError("claims must be an object, got %T", c)
	}

	switch tags := m["tags"].(type) {
	case nil:
	case []string:
		p.Tags = tags
	case []any:
		out := make([]string, 0, len(tags))
		for i, t := range tags {
			s, ok := t.(string)
			if !ok || s == "" {
				return ir.PrincipalContext{}, principalError("tags[%d] must be a non-empty string", i)
			}
			out = append(out, s)
		}
		p.Tags = out
	default:
		return ir.PrincipalContext{}, principalError("tags must be an array of strings, got %T", tags)
	}

	return normalizePrincipal(p), nil
}

// normalizePrincipal makes tags a sorted set and fills nil collections.
func normalizePrincipal(p ir.PrincipalContext) ir.PrincipalContext {
	if p.Claims == nil {
		p.Claims = map[string]any{}
	}
	tags := slices.Clone(p.Tags)
	if tags == nil {
		tags = []string{}
	}
	slices.Sort(tags)
	p.Tags = slices.Compact(tags)
	return p
}

func principalError(format string, args ...any) *ir.Error {
	return ir.NewError(ir.ErrCodePrincipalValidation, "%s", fmt.Sprintf(format, args...))
}
