package kernel

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// TestPublishedContract_Golden pins the orchestration contract. A change to
// any stage list must come with a new ContractVersion.
//
// To regenerate: go test ./internal/kernel -run TestPublishedContract_Golden -update
func TestPublishedContract_Golden(t *testing.T) {
	data, err := json.MarshalIndent(PublishedContract(), "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "orchestration_contract", data)
}

func TestStageList_SharedPrefix(t *testing.T) {
	query := StageList(ir.KindQuery, false)
	mutation := StageList(ir.KindMutation, false)
	idempotent := StageList(ir.KindMutation, true)

	assert.Equal(t, sharedPrefix, query[:len(sharedPrefix)])
	assert.Equal(t, sharedPrefix, mutation[:len(sharedPrefix)])
	assert.Equal(t, sharedPrefix, idempotent[:len(sharedPrefix)])

	assert.Equal(t, StageList(ir.KindQuery, false), StageList(ir.KindQuery, true), "idempotency keys do not change queries")
	assert.Equal(t, sharedPrefix, StageList("subscription", false))
}

func TestStageList_ReturnsCopies(t *testing.T) {
	a := StageList(ir.KindQuery, false)
	a[0] = "mutated"
	assert.Equal(t, StageHostPortsResolve, StageList(ir.KindQuery, false)[0])
}

func TestStageList_IdempotentOrdering(t *testing.T) {
	stages := StageList(ir.KindMutation, true)
	index := func(s string) int {
		for i, st := range stages {
			if st == s {
				return i
			}
		}
		t.Fatalf("stage %s missing", s)
		return -1
	}

	assert.Less(t, index(StagePolicyGate), index(StageScopeResolve))
	assert.Less(t, index(StageReplayLookup), index(StageExecuteMutation))
	assert.Less(t, index(StageResultEmit), index(StageReplayPersist))
	assert.Equal(t, StageReplayPersist, stages[len(stages)-1])
}
