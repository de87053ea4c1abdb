// Package metrics wraps the ambient instrumentation the enforcer carries
// (spec.md explicitly keeps "logging and telemetry plumbing" out of the
// deliverable scope as a feature, but an ambient metrics surface is still
// carried the way the teacher carries one, per SPEC_FULL.md §2). No HTTP
// exporter is wired here -- that would be web-framework integration glue,
// explicitly out of scope; an embedding application registers Registry()
// with its own scrape endpoint if it wants one.
package metrics

import "time"

// Metrics records policy-store mutations, role-graph rebuilds, and
// enforce latency -- the three ambient signals SPEC_FULL.md names.
type Metrics interface {
	RecordCheck(decision string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordEvaluationError(kind string)
	RecordMutation(op string)
	RecordRoleGraphRebuild(kind string, duration time.Duration)
}

// NoOp discards every recorded metric. It is the default until a caller
// wires a concrete implementation.
type NoOp struct{}

var _ Metrics = NoOp{}

func (NoOp) RecordCheck(string, time.Duration)          {}
func (NoOp) RecordCacheHit()                            {}
func (NoOp) RecordCacheMiss()                           {}
func (NoOp) RecordEvaluationError(string)               {}
func (NoOp) RecordMutation(string)                      {}
func (NoOp) RecordRoleGraphRebuild(string, time.Duration) {}
