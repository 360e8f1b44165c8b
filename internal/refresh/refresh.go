// Package refresh maps emitted signals onto the queries subscribed to them.
package refresh

import (
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// AffectedQueries returns the query ids whose subscribed signal set
// intersects the emitted signal ids. The result is de-duplicated, sorted,
// and never nil.
func AffectedQueries(subscriptions map[string][]string, signals []ir.Signal) []string {
	emitted := make(map[string]bool, len(signals))
	for _, s := range signals {
		emitted[s.SignalID] = true
	}
	return AffectedBySignalIDs(subscriptions, emitted)
}

// AffectedBySignalIDs is AffectedQueries over a pre-collected id set.
func AffectedBySignalIDs(subscriptions map[string][]string, emitted map[string]bool) []string {
	out := []string{}
	if len(emitted) == 0 {
		return out
	}
	for queryID, subscribed := range subscriptions {
		for _, id := range subscribed {
			if emitted[id] {
				out = append(out, queryID)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}
