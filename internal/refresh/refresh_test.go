package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

func signals(ids ...string) []ir.Signal {
	out := make([]ir.Signal, len(ids))
	for i, id := range ids {
		out[i] = ir.Signal{SignalID: id, SignalVersion: 1}
	}
	return out
}

func TestAffectedQueries(t *testing.T) {
	subs := map[string][]string{
		"q1": {"s.created"},
		"q2": {"s.deleted"},
	}

	tests := []struct {
		name    string
		emitted []ir.Signal
		want    []string
	}{
		{"single match", signals("s.created"), []string{"q1"}},
		{"no signals", nil, []string{}},
		{"unsubscribed signal", signals("s.renamed"), []string{}},
		{"both", signals("s.deleted", "s.created"), []string{"q1", "q2"}},
		{"duplicates collapse", signals("s.created", "s.created"), []string{"q1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AffectedQueries(subs, tt.emitted)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAffectedQueriesSortedLexically(t *testing.T) {
	subs := map[string][]string{
		"zeta":  {"a", "b"},
		"alpha": {"b"},
		"mid":   {"c", "a"},
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, AffectedQueries(subs, signals("a", "b")))
}

func TestAffectedQueriesEmptySubscriptions(t *testing.T) {
	got := AffectedQueries(nil, signals("x"))
	assert.Equal(t, []string{}, got)
}
