package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableStringifyBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", int64(-100), "-100"},
		{"max int64", int64(math.MaxInt64), "9223372036854775807"},
		{"integral float collapses", 3.0, "3"},
		{"fraction", 1.5, "1.5"},
		{"small exponent", 1e-7, "1e-7"},
		{"large exponent", 1e21, "1e+21"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"json number int", json.Number("7"), "7"},
		{"json number float", json.Number("0.10"), "0.1"},
		{"nested", map[string]any{"b": []any{1, "x"}, "a": nil}, `{"a":null,"b":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StableStringify(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestStableStringifySortedKeys(t *testing.T) {
	got, err := StableStringify(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"y": 1, "x": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(got))
}

func TestStableStringifyUTF16Ordering(t *testing.T) {
	// U+10000 encodes as surrogate pair 0xD800 0xDC00, which sorts before
	// U+E000 in UTF-16 but after it in UTF-8.
	got, err := StableStringify(map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"`+"\U00010000"+`":2,"`+"\uE000"+`":1}`, string(got))
}

func TestStableStringifyNoHTMLEscape(t *testing.T) {
	got, err := StableStringify("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(got))
}

func TestStableStringifyLineSeparators(t *testing.T) {
	got, err := StableStringify("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))

	// A literal backslash followed by "u2028" text stays escaped.
	got, err = StableStringify(`x\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(got))
}

func TestStableStringifyNFC(t *testing.T) {
	composed := "\u00e9"     // precomposed
	decomposed := "e\u0301" // e + combining acute
	a, err := StableStringify(composed)
	require.NoError(t, err)
	b, err := StableStringify(decomposed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStableStringifyControlCharacters(t *testing.T) {
	got, err := StableStringify("tab\there\nnl")
	require.NoError(t, err)
	assert.Equal(t, `"tab\there\nnl"`, string(got))
}

func TestStableStringifyRejectsNonFinite(t *testing.T) {
	_, err := StableStringify(math.NaN())
	assert.Error(t, err)
	_, err = StableStringify(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestStableStringifyStructsUseJSONTags(t *testing.T) {
	type sample struct {
		Zed   string `json:"zed"`
		Alpha int    `json:"alpha"`
		Skip  string `json:"-"`
	}
	got, err := StableStringify(sample{Zed: "z", Alpha: 1, Skip: "no"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":1,"zed":"z"}`, string(got))
}

func TestStableStringifyNilPointer(t *testing.T) {
	var p *string
	got, err := StableStringify(p)
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))
}

func TestStableStringifyRoundTrip(t *testing.T) {
	input := map[string]any{
		"list":   []any{1, 2.5, "three", false, nil},
		"nested": map[string]any{"k": "v"},
		"big":    int64(9007199254740993),
	}
	first, err := StableStringify(input)
	require.NoError(t, err)

	parsed, err := ParseValue(first)
	require.NoError(t, err)
	second, err := MarshalCanonical(parsed)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}
