package kernel

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// schemaCache holds compiled input schemas keyed by artifact hash and
// entrypoint key.
type schemaCache struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) get(b *ir.Bundle, entrypointKey string) (*jsonschema.Schema, error) {
	cacheKey := b.ArtifactHash + "/" + entrypointKey

	c.mu.RLock()
	s, ok := c.compiled[cacheKey]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	raw, ok := b.SchemaArtifacts.InputSchemas[entrypointKey]
	if !ok {
		return nil, ir.NewError(ir.ErrCodeArtifactIntegrity, "bundle has no input schema for %s", entrypointKey)
	}
	data, err := ir.MarshalCanonical(raw)
	if err != nil {
		return nil, ir.NewError(ir.ErrCodeArtifactIntegrity, "encode input schema for %s: %v", entrypointKey, err)
	}

	url := "https://gooi.local/schemas/" + strings.ReplaceAll(entrypointKey, ":", "/") + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, ir.NewError(ir.ErrCodeArtifactIntegrity, "load input schema for %s: %v", entrypointKey, err)
	}
	s, err = compiler.Compile(url)
	if err != nil {
		return nil, ir.NewError(ir.ErrCodeArtifactIntegrity, "compile input schema for %s: %v", entrypointKey, err)
	}

	c.mu.Lock()
	c.compiled[cacheKey] = s
	c.mu.Unlock()
	return s, nil
}

// validate checks input against the compiled schema of the entrypoint.
func (c *schemaCache) validate(b *ir.Bundle, entrypointKey string, input map[string]any) error {
	s, err := c.get(b, entrypointKey)
	if err != nil {
		return err
	}
	if err := s.Validate(input); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return ir.NewError(ir.ErrCodeBinding, "input does not match the %s schema", entrypointKey).
				WithDetail("violations", violations(ve))
		}
		return ir.NewError(ir.ErrCodeBinding, "validate input: %v", err)
	}
	return nil
}

// violations flattens a validation error tree into its leaf messages.
func violations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, violations(cause)...)
	}
	return out
}
