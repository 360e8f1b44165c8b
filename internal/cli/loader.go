package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/ngalluzzo/gooi-sub004/internal/compiler"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// LoadError is a failure to read an input file, carrying its CLI error code.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// compileSpec compiles a CUE package directory or a single spec file. The
// error return covers unreadable paths only; compile failures are reported
// through the result's diagnostics.
func compileSpec(path string) (*compiler.Result, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("spec path not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error accessing spec path", Err: err}
	}

	if info.IsDir() {
		return compiler.CompileDir(path), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error reading spec file", Err: err}
	}
	return compiler.CompileSource(path, src), nil
}

// loadBundle reads and verifies a compiled bundle.
func loadBundle(path string) (*ir.Bundle, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("bundle not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error reading bundle", Err: err}
	}

	b, err := ir.ParseBundle(data)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeVerify, Message: "bundle rejected", Err: err}
	}
	return b, nil
}

// parseJSONObject decodes a JSON object flag. An empty value yields nil.
func parseJSONObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := ir.DecodeJSON([]byte(raw))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid --%s JSON", flag), Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &LoadError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("--%s must be a JSON object", flag)}
	}
	return obj, nil
}

// loadErrorCode returns the CLI error code carried by err.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
