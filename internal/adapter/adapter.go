// Package adapter defines the persistence boundary between the policy
// store and durable storage. An adapter is any value advertising a
// subset of the capability interfaces below; capability discovery is
// structural (a type assertion), never a checked-exception dance, per
// the "adapter capability discovery" design guidance.
package adapter

import (
	"errors"

	"github.com/authz-engine/pdp/pkg/model"
)

// ErrUnsupported is returned by an operation a particular adapter does
// not implement, and is also the error the engine returns when it
// probes for a capability an adapter lacks.
var ErrUnsupported = errors.New("adapter: operation not supported")

// PolicySet is the full set of rules for both policy and grouping
// tables, keyed by policy-type name ("p", "p2", "g", "g2", ...).
type PolicySet = map[string][][]string

// Filter is an opaque value that only the adapter interprets; the
// engine stores it purely for introspection (IsFiltered).
type Filter interface{}

// Loader performs a full policy load.
type Loader interface {
	LoadPolicy(m *model.Model) (PolicySet, error)
}

// Saver performs a full policy save, overwriting whatever was
// previously persisted.
type Saver interface {
	SavePolicy(policies PolicySet) error
}

// IncrementalAdder appends a single rule without a full save.
type IncrementalAdder interface {
	AddPolicy(sec, ptype string, rule []string) error
}

// IncrementalRemover removes a single rule without a full save.
type IncrementalRemover interface {
	RemovePolicy(sec, ptype string, rule []string) error
}

// FilteredRemover removes every rule matching a field filter without a
// full save.
type FilteredRemover interface {
	RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error
}

// FilteredLoader performs a partial load constrained by an
// adapter-specific filter. Loading this way marks the resulting policy
// set as filtered (see spec invariant on rejecting a full save afterward).
type FilteredLoader interface {
	LoadFilteredPolicy(m *model.Model, filter Filter) (PolicySet, error)
}

// IncrementalFilteredLoader augments an already-loaded (possibly
// filtered) policy set with additional rules matching filter, without
// discarding what is already loaded.
type IncrementalFilteredLoader interface {
	LoadIncrementalFilteredPolicy(m *model.Model, filter Filter) (PolicySet, error)
}

// Capabilities records which optional interfaces an adapter value
// implements, established once at construction time.
type Capabilities struct {
	Loader                    bool
	Saver                     bool
	IncrementalAdder          bool
	IncrementalRemover        bool
	FilteredRemover           bool
	FilteredLoader            bool
	IncrementalFilteredLoader bool
}

// Probe inspects a, returning which capabilities it advertises.
func Probe(a interface{}) Capabilities {
	var c Capabilities
	_, c.Loader = a.(Loader)
	_, c.Saver = a.(Saver)
	_, c.IncrementalAdder = a.(IncrementalAdder)
	_, c.IncrementalRemover = a.(IncrementalRemover)
	_, c.FilteredRemover = a.(FilteredRemover)
	_, c.FilteredLoader = a.(FilteredLoader)
	_, c.IncrementalFilteredLoader = a.(IncrementalFilteredLoader)
	return c
}
