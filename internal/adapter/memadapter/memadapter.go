// Package memadapter is the default, in-memory adapter: it advertises
// every capability (full load/save plus incremental and filtered
// variants) against a plain map, with no external persistence. Used as
// the zero-configuration default and in tests.
package memadapter

import (
	"sync"

	"github.com/authz-engine/pdp/internal/adapter"
	"github.com/authz-engine/pdp/pkg/model"
)

// Adapter holds policies entirely in memory.
type Adapter struct {
	mu       sync.Mutex
	policies adapter.PolicySet
	filtered bool
}

// New returns an empty memadapter.Adapter.
func New() *Adapter {
	return &Adapter{policies: make(adapter.PolicySet)}
}

// Seed populates the adapter's backing store directly, useful for test
// fixtures that want LoadPolicy to return a known set.
func (a *Adapter) Seed(policies adapter.PolicySet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policies = clonePolicySet(policies)
}

var (
	_ adapter.Loader                    = (*Adapter)(nil)
	_ adapter.Saver                     = (*Adapter)(nil)
	_ adapter.IncrementalAdder          = (*Adapter)(nil)
	_ adapter.IncrementalRemover        = (*Adapter)(nil)
	_ adapter.FilteredRemover           = (*Adapter)(nil)
	_ adapter.FilteredLoader            = (*Adapter)(nil)
	_ adapter.IncrementalFilteredLoader = (*Adapter)(nil)
)

// LoadPolicy returns a snapshot of the adapter's backing store.
func (a *Adapter) LoadPolicy(m *model.Model) (adapter.PolicySet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filtered = false
	return clonePolicySet(a.policies), nil
}

// SavePolicy replaces the backing store wholesale.
func (a *Adapter) SavePolicy(policies adapter.PolicySet) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policies = clonePolicySet(policies)
	a.filtered = false
	return nil
}

// AddPolicy appends rule to ptype's sequence.
func (a *Adapter) AddPolicy(sec, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policies[ptype] = append(a.policies[ptype], cloneRule(rule))
	return nil
}

// RemovePolicy removes the first occurrence of rule from ptype's
// sequence; a no-op (not an error) if absent.
func (a *Adapter) RemovePolicy(sec, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rules := a.policies[ptype]
	for i, r := range rules {
		if ruleEqual(r, rule) {
			a.policies[ptype] = append(rules[:i], rules[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveFilteredPolicy removes every rule whose fields starting at
// fieldIndex match fieldValues positionally (empty string matches any
// value at that position).
func (a *Adapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rules := a.policies[ptype]
	kept := rules[:0:0]
	for _, r := range rules {
		if matchesFilter(r, fieldIndex, fieldValues) {
			continue
		}
		kept = append(kept, r)
	}
	a.policies[ptype] = kept
	return nil
}

// LoadFilteredPolicy returns only the rules matching filter (a
// memadapter.FieldFilter value) and marks the adapter as holding a filtered
// view.
func (a *Adapter) LoadFilteredPolicy(m *model.Model, filter adapter.Filter) (adapter.PolicySet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filtered = true
	return a.filterLocked(filter), nil
}

// LoadIncrementalFilteredPolicy behaves like LoadFilteredPolicy but
// callers are expected to merge the result into an already-partially-
// loaded set rather than replace it outright.
func (a *Adapter) LoadIncrementalFilteredPolicy(m *model.Model, filter adapter.Filter) (adapter.PolicySet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filtered = true
	return a.filterLocked(filter), nil
}

// IsFiltered reports whether the most recent load was partial.
func (a *Adapter) IsFiltered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filtered
}

// FieldFilter is the Filter value memadapter understands: ptype narrows
// which policy type to return (empty means all), FieldIndex/Values
// narrow by rule field as in Store.Filter.
type FieldFilter struct {
	PType       string
	FieldIndex  int
	FieldValues []string
}

func (a *Adapter) filterLocked(filter adapter.Filter) adapter.PolicySet {
	ff, ok := filter.(FieldFilter)
	out := make(adapter.PolicySet)
	for ptype, rules := range a.policies {
		if ok && ff.PType != "" && ff.PType != ptype {
			continue
		}
		for _, r := range rules {
			if ok && !matchesFilter(r, ff.FieldIndex, ff.FieldValues) {
				continue
			}
			out[ptype] = append(out[ptype], cloneRule(r))
		}
	}
	return out
}

func matchesFilter(rule []string, fieldIndex int, values []string) bool {
	for i, v := range values {
		if v == "" {
			continue
		}
		pos := fieldIndex + i
		if pos < 0 || pos >= len(rule) || rule[pos] != v {
			return false
		}
	}
	return true
}

func ruleEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneRule(rule []string) []string {
	out := make([]string, len(rule))
	copy(out, rule)
	return out
}

func clonePolicySet(policies adapter.PolicySet) adapter.PolicySet {
	out := make(adapter.PolicySet, len(policies))
	for ptype, rules := range policies {
		cloned := make([][]string, len(rules))
		for i, r := range rules {
			cloned[i] = cloneRule(r)
		}
		out[ptype] = cloned
	}
	return out
}
