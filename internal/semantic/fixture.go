package semantic

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
)

// File is a fixture document.
type File struct {
	Fixtures []Fixture `yaml:"fixtures" json:"fixtures"`
}

// Fixture is one canned response for an entrypoint.
//
// When is matched as a subset of the validated input; an empty When
// matches every input. The first matching fixture wins.
type Fixture struct {
	Entrypoint string               `yaml:"entrypoint" json:"entrypoint"`
	When       map[string]any       `yaml:"when,omitempty" json:"when,omitempty"`
	Calls      []Call               `yaml:"calls,omitempty" json:"calls,omitempty"`
	Output     any                  `yaml:"output,omitempty" json:"output,omitempty"`
	Error      *Failure             `yaml:"error,omitempty" json:"error,omitempty"`
	Effects    []Effect             `yaml:"effects,omitempty" json:"effects,omitempty"`
	Signals    []kernel.SignalDraft `yaml:"signals,omitempty" json:"signals,omitempty"`
}

// Call is a capability call issued before the output is produced. The
// outcome of call i is available to templates as $calls.i.
type Call struct {
	Port      string `yaml:"port" json:"port"`
	Version   string `yaml:"version" json:"version"`
	Operation string `yaml:"operation" json:"operation"`
	Input     any    `yaml:"input,omitempty" json:"input,omitempty"`
}

// Failure is a domain failure reported by the fixture.
type Failure struct {
	Code      string         `yaml:"code" json:"code"`
	Message   string         `yaml:"message" json:"message"`
	Retryable bool           `yaml:"retryable,omitempty" json:"retryable,omitempty"`
	Details   map[string]any `yaml:"details,omitempty" json:"details,omitempty"`
}

// Effect mirrors ir.Effect with YAML tags.
type Effect struct {
	Kind   string `yaml:"kind" json:"kind"`
	Target string `yaml:"target" json:"target"`
}

func (f *Failure) info() *ir.ErrorInfo {
	code := ir.ErrorCode(f.Code)
	if code == "" {
		code = ir.ErrCodeSemantic
	}
	return &ir.ErrorInfo{
		Code:      code,
		Message:   f.Message,
		Retryable: f.Retryable,
		Details:   f.Details,
	}
}

// Validate checks entrypoint keys and effect kinds.
func (f *File) Validate() error {
	for i, fx := range f.Fixtures {
		if _, _, err := ir.ParseEntrypointKey(fx.Entrypoint); err != nil {
			return fmt.Errorf("fixtures[%d]: %w", i, err)
		}
		if fx.Error != nil && (fx.Output != nil || len(fx.Signals) > 0) {
			return fmt.Errorf("fixtures[%d] (%s): error fixtures cannot carry output or signals", i, fx.Entrypoint)
		}
		for j, e := range fx.Effects {
			switch e.Kind {
			case ir.EffectRead, ir.EffectWrite, ir.EffectEmit, ir.EffectCall:
			default:
				return fmt.Errorf("fixtures[%d].effects[%d]: unknown effect kind %q", i, j, e.Kind)
			}
		}
		for j, c := range fx.Calls {
			if c.Port == "" || c.Version == "" || c.Operation == "" {
				return fmt.Errorf("fixtures[%d].calls[%d]: port, version and operation are required", i, j)
			}
		}
	}
	return nil
}

// Parse decodes a fixture document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	return &f, nil
}

// Load reads a fixture document from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// scope is what templates may reference.
type scope struct {
	input     map[string]any
	principal ir.PrincipalContext
	ctx       kernel.ExecutionContext
	calls     []any
}

// expand substitutes template strings in v:
//
//	$input.<field>       validated input field
//	$principal.subject   principal subject (null when anonymous)
//	$context.now         execution clock
//	$context.invocationId
//	$context.traceId
//	$calls.<i>           output of the i-th capability call
//
// Any other string is returned unchanged.
func expand(v any, s scope) (any, error) {
	switch x := v.(type) {
	case string:
		return expandString(x, s)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			e, err := expand(item, s)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			e, err := expand(item, s)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}

func expandString(str string, s scope) (any, error) {
	if !strings.HasPrefix(str, "$") {
		return str, nil
	}
	root, rest, _ := strings.Cut(str[1:], ".")
	switch root {
	case "input":
		v, ok := s.input[rest]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "principal":
		if rest != "subject" {
			return nil, fmt.Errorf("unknown template %q", str)
		}
		if s.principal.Subject == nil {
			return nil, nil
		}
		return *s.principal.Subject, nil
	case "context":
		switch rest {
		case "now":
			return s.ctx.Now, nil
		case "invocationId":
			return s.ctx.InvocationID, nil
		case "traceId":
			return s.ctx.TraceID, nil
		}
		return nil, fmt.Errorf("unknown template %q", str)
	case "calls":
		var i int
		if _, err := fmt.Sscanf(rest, "%d", &i); err != nil || i < 0 || i >= len(s.calls) {
			return nil, fmt.Errorf("template %q: no such call", str)
		}
		return s.calls[i], nil
	default:
		return str, nil
	}
}
