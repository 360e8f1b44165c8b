package compiler

import (
	"cmp"
	"fmt"
	"slices"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Severity classifies a diagnostic. Only SeverityError fails compilation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic codes. Errors are E2xx, warnings W2xx, info I2xx.
const (
	// Loading (E200-E209)
	CodeLoadFailed   = "E200" // CUE load or build failure
	CodeNotConcrete  = "E201" // value is missing, incomplete, or has the wrong kind
	CodeUnknownField = "E202" // unexpected key in the authoring spec

	// Entrypoints and ports (E210-E219)
	CodeInvalidID         = "E210" // id does not match the identifier syntax
	CodeInvalidKind       = "E211" // kind is not query or mutation
	CodeInvalidFieldType  = "E212" // unknown scalar type
	CodeRefreshOnMutation = "E213" // mutation declares refresh_on_signals
	CodeEmitsOnQuery      = "E214" // query declares emits
	CodeUnknownPort       = "E215" // capability names an undeclared port
	CodeInvalidPort       = "E216" // port version or operations malformed
	CodeInvalidSignalID   = "E217" // signal id syntax
	CodeNoEntrypoints     = "E218" // spec declares no entrypoints

	// Surface bindings (E220-E229)
	CodeInvalidSurface       = "E220" // surface name syntax
	CodeBindingEntrypoint    = "E221" // binding names an unknown entrypoint
	CodeInvalidSource        = "E222" // source is not <bucket>.<name>
	CodeUndeclaredField      = "E223" // bound field is not a declared input
	CodeRequiredFieldUnbound = "W224" // a required input is not bound

	// Refresh subscriptions (W230-W239)
	CodeSignalNeverEmitted = "W230" // subscribed signal is emitted by no mutation

	// Access plan (E240-E249)
	CodeInvalidPolicy    = "E240" // default policy is not allow or deny
	CodeUnknownExtends   = "E241" // extends names an undefined role
	CodeExtendsCycle     = "E242" // extends graph has a cycle
	CodeUnknownRole      = "E243" // entrypoint requires an undefined role
	CodeInvalidDerive    = "E244" // derive rule malformed
	CodeInvalidClaimExpr = "E245" // claim_expr does not compile
	CodeBuiltinRole      = "E246" // redefinition of a builtin role
	CodeDefaultPolicy    = "I247" // entrypoint has no roles; default policy governs
)

// Diagnostic is one compiler finding.
type Diagnostic struct {
	Severity Severity  `json:"severity"`
	Code     string    `json:"code"`
	Path     string    `json:"path"`
	Message  string    `json:"message"`
	Pos      token.Pos `json:"-"`
}

func (d Diagnostic) String() string {
	if d.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s [%s] %s: %s",
			d.Pos.Filename(), d.Pos.Line(), d.Pos.Column(),
			d.Severity, d.Code, d.Path, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s: %s", d.Severity, d.Code, d.Path, d.Message)
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	return slices.ContainsFunc(diags, func(d Diagnostic) bool {
		return d.Severity == SeverityError
	})
}

func sortDiagnostics(diags []Diagnostic) {
	slices.SortStableFunc(diags, func(a, b Diagnostic) int {
		if c := cmp.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
}

// cueDiagnostics converts a CUE error list into load diagnostics, keeping
// the first position of each error.
func cueDiagnostics(path string, err error) []Diagnostic {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return []Diagnostic{{
			Severity: SeverityError,
			Code:     CodeLoadFailed,
			Path:     path,
			Message:  err.Error(),
		}}
	}
	diags := make([]Diagnostic, 0, len(errs))
	for _, e := range errs {
		d := Diagnostic{
			Severity: SeverityError,
			Code:     CodeLoadFailed,
			Path:     path,
			Message:  e.Error(),
		}
		if positions := errors.Positions(e); len(positions) > 0 {
			d.Pos = positions[0]
		}
		diags = append(diags, d)
	}
	return diags
}
