package hostport

import (
	"reflect"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// MemberReporter is implemented by adapters whose members can be
// individually absent, such as function-struct adapters. It returns the
// camelCase names of missing members.
type MemberReporter interface {
	MissingMembers() []string
}

type portSpec struct {
	name    string
	members []string
	value   any
}

// MissingMembers lists every missing required member by dotted path, in
// port declaration order.
func (s Set) MissingMembers(requireReplay bool) []string {
	ports := []portSpec{
		{"clock", []string{"nowIso"}, s.Clock},
		{"identity", []string{"newTraceId", "newInvocationId"}, s.Identity},
		{"principal", []string{"validatePrincipal", "deriveRoles"}, s.Principal},
		{"capabilityDelegation", []string{"invokeDelegated"}, s.Delegation},
	}
	if requireReplay {
		ports = append(ports, portSpec{"replay", []string{"load", "save"}, s.Replay})
	}

	var missing []string
	for _, p := range ports {
		if isNil(p.value) {
			for _, m := range p.members {
				missing = append(missing, p.name+"."+m)
			}
			continue
		}
		if r, ok := p.value.(MemberReporter); ok {
			for _, m := range r.MissingMembers() {
				missing = append(missing, p.name+"."+m)
			}
		}
	}
	return missing
}

// Validate fails with a validation_error naming every missing member path.
func (s Set) Validate(requireReplay bool) error {
	missing := s.MissingMembers(requireReplay)
	if len(missing) == 0 {
		return nil
	}
	return ir.NewError(ir.ErrCodeValidation, "host port set is missing %d required member(s)", len(missing)).
		WithDetail("paths", missing)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Interface, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
