package compiler

import (
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// JSONSchemaDraft is the dialect of compiled input schemas.
const JSONSchemaDraft = "https://json-schema.org/draft/2020-12/schema"

// inputSchemas builds one closed object schema per entrypoint key.
func inputSchemas(entrypoints map[string]ir.Entrypoint) map[string]ir.Object {
	out := make(map[string]ir.Object, len(entrypoints))
	for _, ep := range entrypoints {
		out[ep.Key()] = InputSchema(ep)
	}
	return out
}

// InputSchema returns the JSON Schema for an entrypoint's inputs.
func InputSchema(ep ir.Entrypoint) ir.Object {
	props := ir.Object{}
	required := ir.Array{}
	names := make([]string, 0, len(ep.Inputs))
	for name := range ep.Inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fc := ep.Inputs[name]
		props[name] = scalarSchema(fc.Type)
		if fc.Required {
			required = append(required, ir.String(name))
		}
	}
	return ir.Object{
		"$schema":              ir.String(JSONSchemaDraft),
		"title":                ir.String(ep.Key()),
		"type":                 ir.String("object"),
		"properties":           props,
		"required":             required,
		"additionalProperties": ir.Bool(false),
	}
}

func scalarSchema(t ir.ScalarType) ir.Object {
	switch t {
	case ir.ScalarID:
		return ir.Object{"type": ir.String("string"), "minLength": ir.Int(1)}
	case ir.ScalarInt:
		return ir.Object{"type": ir.String("integer")}
	case ir.ScalarNumber:
		return ir.Object{"type": ir.String("number")}
	case ir.ScalarBool:
		return ir.Object{"type": ir.String("boolean")}
	case ir.ScalarTimestamp:
		return ir.Object{"type": ir.String("string"), "format": ir.String("date-time")}
	default:
		return ir.Object{"type": ir.String("string")}
	}
}
