package pdp

import (
	"time"

	"github.com/authz-engine/pdp/internal/adapter"
)

// StateSnapshot is the information spec §4.11's distributed
// reconciliation tie-break compares across peers: total rule count and
// the timestamp of the most recent local mutation.
type StateSnapshot struct {
	PolicyCount   int
	LastChangedAt time.Time
}

// Snapshot reports this instance's current change-tracking state, used
// by internal/concurrency.Distributed to pick a reconciliation source
// of truth.
func (e *Enforcer) Snapshot() StateSnapshot {
	count, at := e.changes.snapshot()
	return StateSnapshot{PolicyCount: count, LastChangedAt: at}
}

// ExportPolicySet returns every policy and grouping rule currently held,
// for a peer to pull during reconciliation.
func (e *Enforcer) ExportPolicySet() adapter.PolicySet {
	set := make(adapter.PolicySet)
	for ptype, rules := range e.policies.GetAll() {
		set[ptype] = rules
	}
	for ptype, rules := range e.grouping.GetAll() {
		set[ptype] = rules
	}
	return set
}

// ReplaceState overwrites the local policy/grouping stores with set (a
// peer's authoritative state during reconciliation), rebuilds every role
// graph from scratch, and invalidates the decision cache -- the same
// side effects a full LoadPolicy has, without going through the adapter.
func (e *Enforcer) ReplaceState(set adapter.PolicySet) {
	e.applyLoadedSet(set, false)
}
