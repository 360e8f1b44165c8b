package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// field is one labelled member of a CUE struct.
type field struct {
	label string
	value cue.Value
}

// joinPath appends a label to a dotted diagnostic path, quoting labels that
// are not plain identifiers.
func joinPath(parent, label string) string {
	if !identPattern.MatchString(label) {
		label = fmt.Sprintf("%q", label)
	}
	if parent == "" {
		return label
	}
	return parent + "." + label
}

func lookup(v cue.Value, label string) cue.Value {
	return v.LookupPath(cue.MakePath(cue.Str(label)))
}

// structFields lists the regular fields of a struct in declaration order.
func (c *compilation) structFields(path string, v cue.Value) ([]field, bool) {
	if v.IncompleteKind() != cue.StructKind {
		c.errorf(path, v.Pos(), CodeNotConcrete, "expected a struct, got %v", v.IncompleteKind())
		return nil, false
	}
	iter, err := v.Fields()
	if err != nil {
		c.diags = append(c.diags, cueDiagnostics(path, err)...)
		return nil, false
	}
	var out []field
	for iter.Next() {
		out = append(out, field{label: iter.Label(), value: iter.Value()})
	}
	return out, true
}

// checkFields reports any field of v outside allowed.
func (c *compilation) checkFields(path string, v cue.Value, allowed []string) {
	fields, ok := c.structFields(path, v)
	if !ok {
		return
	}
	for _, f := range fields {
		if !slices.Contains(allowed, f.label) {
			c.errorf(joinPath(path, f.label), f.value.Pos(), CodeUnknownField,
				"unknown field %q (allowed: %v)", f.label, allowed)
		}
	}
}

func (c *compilation) stringAt(path string, v cue.Value) (string, bool) {
	s, err := v.String()
	if err != nil {
		c.errorf(path, v.Pos(), CodeNotConcrete, "expected a string: %v", err)
		return "", false
	}
	return s, true
}

// stringList decodes a list of strings, dropping duplicates while keeping
// first-seen order.
func (c *compilation) stringList(path string, v cue.Value) ([]string, bool) {
	if v.IncompleteKind() != cue.ListKind {
		c.errorf(path, v.Pos(), CodeNotConcrete, "expected a list of strings, got %v", v.IncompleteKind())
		return nil, false
	}
	iter, err := v.List()
	if err != nil {
		c.diags = append(c.diags, cueDiagnostics(path, err)...)
		return nil, false
	}
	out := []string{}
	ok := true
	for i := 0; iter.Next(); i++ {
		s, err := iter.Value().String()
		if err != nil {
			c.errorf(fmt.Sprintf("%s[%d]", path, i), iter.Value().Pos(), CodeNotConcrete, "expected a string: %v", err)
			ok = false
			continue
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, ok
}

// plainValue exports a concrete CUE value as plain Go values with
// normalized numbers.
func plainValue(v cue.Value) (any, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	parsed, err := ir.ParseValue(data)
	if err != nil {
		return nil, err
	}
	return ir.Interface(parsed), nil
}

func sortedUnique(items []string) []string {
	out := slices.Clone(items)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
