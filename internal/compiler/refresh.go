package compiler

import (
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// compileRefreshSubscriptions derives query id -> signal ids from the
// queries' refresh_on_signals. Subscriptions are derived, never authored
// directly.
func (c *compilation) compileRefreshSubscriptions() {
	emitted := make(map[string]bool)
	for _, ep := range c.entrypoints {
		for _, sig := range ep.EmitsSignals {
			emitted[sig] = true
		}
	}

	ids := make([]string, 0, len(c.entrypoints))
	for id := range c.entrypoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		ep := c.entrypoints[id]
		if ep.Kind != ir.KindQuery || len(ep.RefreshOnSignals) == 0 {
			continue
		}
		c.subscriptions[id] = sortedUnique(ep.RefreshOnSignals)
		for _, sig := range c.subscriptions[id] {
			if !emitted[sig] {
				c.warnf(joinPath(joinPath("entrypoints", id), "refresh_on_signals"), c.root.Pos(), CodeSignalNeverEmitted,
					"signal %q is emitted by no mutation", sig)
			}
		}
	}
}
