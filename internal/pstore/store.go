// Package pstore implements the in-memory policy and grouping-policy
// tables: ordered, deduplicated sequences of rules keyed by policy-type
// name ("p", "p2", ..., "g", "g2", ...).
package pstore

import (
	"fmt"
	"sync"

	"github.com/authz-engine/pdp/pkg/model"
)

// Store holds the current, authoritative set of policy rules for one
// policy-type family (either the "p*" policy tables or the "g*" grouping
// tables -- callers typically keep two Store instances, one of each).
// Order within a policy type is preserved because it affects explanation
// order and priority-based effect aggregation.
type Store struct {
	mu    sync.RWMutex
	rules map[string][][]string

	// filtered records whether the current contents came from a partial
	// (filtered) load, per invariant 5: a full Save is refused in that
	// state until the store is explicitly cleared or reloaded in full.
	filtered bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{rules: make(map[string][][]string)}
}

// Get returns a stable snapshot of the rule sequence for ptype. The
// returned slice is a copy; mutating it does not affect the store.
func (s *Store) Get(ptype string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRules(s.rules[ptype])
}

// GetAll returns a snapshot of every policy type's rule sequence.
func (s *Store) GetAll() map[string][][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][][]string, len(s.rules))
	for ptype, rules := range s.rules {
		out[ptype] = cloneRules(rules)
	}
	return out
}

// PolicyTypes returns the names with at least one stored rule.
func (s *Store) PolicyTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.rules))
	for ptype := range s.rules {
		types = append(types, ptype)
	}
	return types
}

// Has reports whether rule is present in ptype's sequence.
func (s *Store) Has(ptype string, rule []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.rules[ptype], rule) >= 0
}

// Add appends rule to ptype's sequence. Returns an error (and leaves the
// store unchanged) if an identical rule is already present (invariant 2).
func (s *Store) Add(ptype string, rule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if indexOf(s.rules[ptype], rule) >= 0 {
		return fmt.Errorf("pstore: duplicate rule in %s: %v", ptype, rule)
	}
	s.rules[ptype] = append(s.rules[ptype], cloneRule(rule))
	return nil
}

// Remove deletes rule from ptype's sequence. Returns an error (and leaves
// the store unchanged) if rule is not present.
func (s *Store) Remove(ptype string, rule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.rules[ptype], rule)
	if idx < 0 {
		return fmt.Errorf("pstore: rule not found in %s: %v", ptype, rule)
	}
	rules := s.rules[ptype]
	s.rules[ptype] = append(rules[:idx], rules[idx+1:]...)
	return nil
}

// ReplaceAll atomically replaces every policy type's rule sequence. Used
// by full reloads (adapter Load) and by rollback-on-failure.
func (s *Store) ReplaceAll(rules map[string][][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string][][]string, len(rules))
	for ptype, rs := range rules {
		s.rules[ptype] = cloneRules(rs)
	}
}

// Filter returns the sub-sequence of ptype whose fields starting at
// fieldIndex match values positionally. An empty string in values matches
// any field value at that position; values narrower than the rule's
// remaining fields only constrain the positions supplied.
func (s *Store) Filter(ptype string, fieldIndex int, values []string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched [][]string
	for _, rule := range s.rules[ptype] {
		if ruleMatchesFilter(rule, fieldIndex, values) {
			matched = append(matched, cloneRule(rule))
		}
	}
	return matched
}

// RemoveFiltered removes every rule in ptype matching the filter and
// returns the removed rules.
func (s *Store) RemoveFiltered(ptype string, fieldIndex int, values []string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[ptype]
	kept := rules[:0:0]
	var removed [][]string
	for _, rule := range rules {
		if ruleMatchesFilter(rule, fieldIndex, values) {
			removed = append(removed, cloneRule(rule))
			continue
		}
		kept = append(kept, rule)
	}
	s.rules[ptype] = kept
	return removed
}

func ruleMatchesFilter(rule []string, fieldIndex int, values []string) bool {
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

// Clear empties the store and resets the filtered flag.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string][][]string)
	s.filtered = false
}

// MarkFiltered records that the current contents came from a partial
// load.
func (s *Store) MarkFiltered(filtered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filtered = filtered
}

// IsFiltered reports whether the store's contents came from a filtered
// load and have not since been cleared or replaced by a full load.
func (s *Store) IsFiltered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered
}

func indexOf(rules [][]string, rule []string) int {
	for i, r := range rules {
		if ruleEqual(r, rule) {
			return i
		}
	}
	return -1
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

func cloneRules(rules [][]string) [][]string {
	out := make([][]string, len(rules))
	for i, r := range rules {
		out[i] = cloneRule(r)
	}
	return out
}

// BuildFieldIndex derives the (policy-type, field-name) -> position lookup
// from a parsed Model's policy_definition tokens, so callers can look up a
// named field ("priority", "dom", ...) without hard-coding its position.
func BuildFieldIndex(m *model.Model, ptype string) map[string]int {
	tokens, ok := m.PolicyTokens(ptype)
	if !ok {
		return nil
	}
	idx := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		idx[tok] = i
	}
	return idx
}

// ValidateRuleLength checks invariant 1: a stored rule's length must equal
// its definition's token count.
func ValidateRuleLength(m *model.Model, ptype string, rule []string) error {
	tokens, ok := m.PolicyTokens(ptype)
	if !ok {
		tokens, ok = m.RequestTokens(ptype)
	}
	if !ok {
		return fmt.Errorf("pstore: unknown policy type %q", ptype)
	}
	if len(rule) != len(tokens) {
		return fmt.Errorf("pstore: rule %v has %d fields, %s expects %d", rule, len(rule), ptype, len(tokens))
	}
	return nil
}
