package compiler

import (
	"cmp"
	"maps"
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// compileBindings maps surface request buckets onto declared input fields.
//
//	surfaces: http: submit_message: { channel: "path.channel", body: "body.text" }
func (c *compilation) compileBindings() {
	v := lookup(c.root, "surfaces")
	if !v.Exists() {
		return
	}
	surfaces, ok := c.structFields("surfaces", v)
	if !ok {
		return
	}
	for _, surface := range surfaces {
		spath := joinPath("surfaces", surface.label)
		if !identPattern.MatchString(surface.label) {
			c.errorf(spath, surface.value.Pos(), CodeInvalidSurface, "surface name %q must match %s", surface.label, identPattern)
			continue
		}
		targets, ok := c.structFields(spath, surface.value)
		if !ok {
			continue
		}
		for _, target := range targets {
			if b, ok := c.compileBinding(surface.label, joinPath(spath, target.label), target); ok {
				c.bindings = append(c.bindings, b)
			}
		}
	}

	slices.SortFunc(c.bindings, func(a, b ir.SurfaceBinding) int {
		if n := cmp.Compare(a.Surface, b.Surface); n != 0 {
			return n
		}
		return cmp.Compare(a.EntrypointKey, b.EntrypointKey)
	})
}

func (c *compilation) compileBinding(surface, path string, target field) (ir.SurfaceBinding, bool) {
	ep, ok := c.entrypoints[target.label]
	if !ok {
		c.errorf(path, target.value.Pos(), CodeBindingEntrypoint, "surface %q binds unknown entrypoint %q", surface, target.label)
		return ir.SurfaceBinding{}, false
	}

	fields, ok := c.structFields(path, target.value)
	if !ok {
		return ir.SurfaceBinding{}, false
	}

	binding := ir.SurfaceBinding{
		Surface:       surface,
		EntrypointKey: ep.Key(),
		Fields:        make(map[string]string, len(fields)),
	}
	valid := true
	for _, f := range fields {
		fpath := joinPath(path, f.label)
		if _, declared := ep.Inputs[f.label]; !declared {
			c.errorf(fpath, f.value.Pos(), CodeUndeclaredField, "field %q is not a declared input of %s", f.label, ep.Key())
			valid = false
			continue
		}
		src, ok := c.stringAt(fpath, f.value)
		if !ok {
			valid = false
			continue
		}
		if _, _, err := ir.ParseBindingSource(src); err != nil {
			c.errorf(fpath, f.value.Pos(), CodeInvalidSource, "%v", err)
			valid = false
			continue
		}
		binding.Fields[f.label] = src
	}

	for _, name := range slices.Sorted(maps.Keys(ep.Inputs)) {
		if ep.Inputs[name].Required {
			if _, bound := binding.Fields[name]; !bound {
				c.warnf(path, target.value.Pos(), CodeRequiredFieldUnbound,
					"required input %q of %s is not bound on surface %q", name, ep.Key(), surface)
			}
		}
	}
	return binding, valid
}
