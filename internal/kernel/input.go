package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// bindSurface maps the surface request onto input fields. Direct
// invocations (no surface) pass Input through. Values come back in JSON
// decoded form with json.Number numbers.
func bindSurface(b *ir.Bundle, inv Invocation, ep ir.Entrypoint) (map[string]any, error) {
	if inv.Surface == "" {
		return jsonObject(inv.Input)
	}

	sb, ok := b.BindingFor(inv.Surface, ep.Key())
	if !ok {
		return nil, ir.NewError(ir.ErrCodeBinding, "%s has no binding on surface %q", ep.Key(), inv.Surface).
			WithDetail("surface", inv.Surface)
	}

	out := make(map[string]any, len(sb.Fields))
	bound := make(map[string]bool, len(sb.Fields))
	for _, field := range slices.Sorted(maps.Keys(sb.Fields)) {
		src := sb.Fields[field]
		bucket, name, err := ir.ParseBindingSource(src)
		if err != nil {
			return nil, ir.NewError(ir.ErrCodeBinding, "%v", err).WithDetail("field", field)
		}
		bound[src] = true
		v, present := inv.Request.bucket(bucket)[name]
		if !present {
			continue
		}
		// Only body carries typed JSON; the other buckets arrive as text.
		if s, isString := v.(string); isString && bucket != ir.BucketBody {
			v, err = coerce(ep.Inputs[field].Type, s)
			if err != nil {
				return nil, ir.NewError(ir.ErrCodeBinding, "field %q from %s: %v", field, src, err).
					WithDetail("field", field).
					WithDetail("source", src)
			}
		}
		out[field] = v
	}
	if err := rejectUnbound(inv.Request, bound); err != nil {
		return nil, err
	}
	return jsonObject(out)
}

// rejectUnbound fails on request keys that no binding of the surface maps.
func rejectUnbound(r SurfaceRequest, bound map[string]bool) error {
	for _, bucket := range slices.Sorted(maps.Keys(ir.ValidBuckets)) {
		for _, name := range slices.Sorted(maps.Keys(r.bucket(bucket))) {
			src := bucket + "." + name
			if !bound[src] {
				return ir.NewError(ir.ErrCodeBinding, "request key %s is not bound on this surface", src).
					WithDetail("source", src)
			}
		}
	}
	return nil
}

func coerce(t ir.ScalarType, s string) (any, error) {
	switch t {
	case ir.ScalarInt:
		return strconv.ParseInt(s, 10, 64)
	case ir.ScalarNumber:
		return strconv.ParseFloat(s, 64)
	case ir.ScalarBool:
		return strconv.ParseBool(s)
	default:
		return s, nil
	}
}

// jsonObject round-trips m through canonical JSON so every consumer sees
// the same value shapes.
func jsonObject(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	v, err := jsonValue(m)
	if err != nil {
		return nil, ir.NewError(ir.ErrCodeBinding, "input is not JSON-like: %v", err)
	}
	obj, _ := v.(map[string]any)
	return obj, nil
}

func jsonValue(v any) (any, error) {
	data, err := ir.StableStringify(v)
	if err != nil {
		return nil, err
	}
	return ir.DecodeJSON(data)
}

// checkInput validates the bound input against the scalar field contracts
// and returns it with plain Go numbers (int64, float64).
func checkInput(ep ir.Entrypoint, bound map[string]any) (map[string]any, error) {
	for _, name := range slices.Sorted(maps.Keys(bound)) {
		if _, declared := ep.Inputs[name]; !declared {
			return nil, ir.NewError(ir.ErrCodeBinding, "unknown input field %q", name).
				WithDetail("field", name)
		}
	}

	out := make(map[string]any, len(bound))
	for _, name := range slices.Sorted(maps.Keys(ep.Inputs)) {
		fc := ep.Inputs[name]
		v, present := bound[name]
		if !present || v == nil {
			if fc.Required {
				return nil, ir.NewError(ir.ErrCodeBinding, "required input field %q is missing", name).
					WithDetail("field", name)
			}
			continue
		}
		checked, err := checkScalar(fc.Type, v)
		if err != nil {
			return nil, ir.NewError(ir.ErrCodeBinding, "input field %q: %v", name, err).
				WithDetail("field", name).
				WithDetail("expected", string(fc.Type))
		}
		out[name] = checked
	}
	return out, nil
}

var errType = errors.New("wrong type")

func checkScalar(t ir.ScalarType, v any) (any, error) {
	switch t {
	case ir.ScalarText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want text", errType)
		}
		return s, nil
	case ir.ScalarID:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: want a non-empty id", errType)
		}
		return s, nil
	case ir.ScalarInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: want int", errType)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not an integer", errType, n)
		}
		return i, nil
	case ir.ScalarNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: want number", errType)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a number", errType, n)
		}
		return f, nil
	case ir.ScalarBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool", errType)
		}
		return b, nil
	case ir.ScalarTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want timestamp", errType)
		}
		// RFC 3339 requires an explicit offset or Z.
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return nil, fmt.Errorf("%q is not an ISO-8601 timestamp with offset", s)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown scalar type %q", t)
	}
}
