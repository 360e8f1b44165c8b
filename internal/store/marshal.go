package store

import (
	"fmt"
	"time"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// marshalEnvelope converts an envelope to canonical JSON TEXT for storage.
func marshalEnvelope(env *ir.ResultEnvelope) (string, error) {
	data, err := ir.MarshalEnvelope(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// unmarshalEnvelope parses stored envelope TEXT, keeping numbers exact.
func unmarshalEnvelope(data string) (*ir.ResultEnvelope, error) {
	env, err := ir.ParseEnvelope([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// unixMillis parses a clock-port timestamp.
func unixMillis(iso string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", iso, err)
	}
	return t.UnixMilli(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
