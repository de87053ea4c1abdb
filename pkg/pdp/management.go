package pdp

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/pdp/internal/adapter"
	"github.com/authz-engine/pdp/internal/pstore"
	"github.com/authz-engine/pdp/internal/rbac"
	"github.com/authz-engine/pdp/internal/watcher"
	"github.com/authz-engine/pdp/pkg/model"
)

// isGroupingType reports whether ptype names a grouping (role) definition
// rather than a policy definition, so a single set of primitive
// operations can dispatch to the right store and, where relevant, the
// right role Manager.
func (e *Enforcer) isGroupingType(ptype string) bool {
	_, ok := e.roleManagers[ptype]
	return ok
}

func (e *Enforcer) storeFor(ptype string) *pstore.Store {
	if e.isGroupingType(ptype) {
		return e.grouping
	}
	return e.policies
}

// invalidateCache drops every cached decision: any mutation changes what
// enforce would answer, so a stale cache entry is never acceptable
// (spec §3 "Cached decisions ... are invalidated on any policy, grouping,
// or model mutation").
func (e *Enforcer) invalidateCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Enforcer) recordChange() {
	total := 0
	for _, ptype := range e.policies.PolicyTypes() {
		total += len(e.policies.Get(ptype))
	}
	for _, ptype := range e.grouping.PolicyTypes() {
		total += len(e.grouping.Get(ptype))
	}
	e.changes.touch(total)
}

// persist implements spec §4.8 step 5: prefer the adapter's incremental
// operation when both the adapter and capability are available, falling
// back to a full SavePolicy otherwise. kind selects which incremental
// method to try.
type persistOp struct {
	kind       string // "add", "remove", "remove_filtered", "update"
	sec, ptype string
	rule       []string
	oldRule    []string
	fieldIndex int
	fieldVals  []string
}

func (e *Enforcer) persist(op persistOp) error {
	if !e.cfg.EnableAutoSave || e.adapter == nil {
		return nil
	}
	switch op.kind {
	case "add":
		if e.adapterCap.IncrementalAdder {
			if a, ok := e.adapter.(adapter.IncrementalAdder); ok {
				if err := a.AddPolicy(op.sec, op.ptype, op.rule); err == nil {
					return nil
				} else if err != adapter.ErrUnsupported {
					return err
				}
			}
		}
	case "remove":
		if e.adapterCap.IncrementalRemover {
			if a, ok := e.adapter.(adapter.IncrementalRemover); ok {
				if err := a.RemovePolicy(op.sec, op.ptype, op.rule); err == nil {
					return nil
				} else if err != adapter.ErrUnsupported {
					return err
				}
			}
		}
	case "remove_filtered":
		if e.adapterCap.FilteredRemover {
			if a, ok := e.adapter.(adapter.FilteredRemover); ok {
				if err := a.RemoveFilteredPolicy(op.sec, op.ptype, op.fieldIndex, op.fieldVals); err == nil {
					return nil
				} else if err != adapter.ErrUnsupported {
					return err
				}
			}
		}
	}
	return e.fullSave()
}

func (e *Enforcer) fullSave() error {
	if e.policies.IsFiltered() || e.grouping.IsFiltered() {
		return fmt.Errorf("pdp: refusing full save while the policy store holds a filtered load; call ClearPolicy or LoadPolicy first")
	}
	if !e.adapterCap.Saver {
		return adapter.ErrUnsupported
	}
	a, ok := e.adapter.(adapter.Saver)
	if !ok {
		return adapter.ErrUnsupported
	}
	merged := make(adapter.PolicySet)
	for ptype, rules := range e.policies.GetAll() {
		merged[ptype] = rules
	}
	for ptype, rules := range e.grouping.GetAll() {
		merged[ptype] = rules
	}
	return a.SavePolicy(merged)
}

// notify implements spec §4.8 steps 6-7: dispatcher and watcher failures
// are logged, never propagated, and never fail the mutation they
// describe.
func (e *Enforcer) notifyDispatcher(fn func() error) {
	if !e.cfg.EnableAutoNotifyDispatcher || e.disp == nil {
		return
	}
	if err := fn(); err != nil {
		e.logger.Warn("pdp: dispatcher notification failed", zap.Error(err))
	}
}

func (e *Enforcer) notifyWatcher() {
	if !e.cfg.EnableAutoNotifyWatcher || e.watch == nil {
		return
	}
	if err := e.watch.Update(); err != nil {
		e.logger.Warn("pdp: watcher notification failed", zap.Error(err))
	}
}

// notifyWatcherFine prefers the fine-grained update variant when the
// attached watcher implements it, so peers can apply the precise change
// instead of a full reload; otherwise it falls back to the coarse Update
// signal.
func (e *Enforcer) notifyWatcherFine(fn func(watcher.FineGrainedWatcher) error) {
	if !e.cfg.EnableAutoNotifyWatcher || e.watch == nil {
		return
	}
	var err error
	if fg, ok := e.watch.(watcher.FineGrainedWatcher); ok {
		err = fn(fg)
	} else {
		err = e.watch.Update()
	}
	if err != nil {
		e.logger.Warn("pdp: watcher notification failed", zap.Error(err))
	}
}

// rebuildRoleLinks applies a grouping mutation to the role graph
// (spec §4.8 step 3). Incremental by construction -- AddLink/DeleteLink
// touch exactly the one edge in question.
func (e *Enforcer) rebuildRoleLinks(ptype string, op rbac.Operation, rule []string) {
	if !e.cfg.EnableAutoBuildRoleLinks {
		return
	}
	rm, ok := e.roleManagers[ptype]
	if !ok {
		return
	}
	start := time.Now()
	rm.ApplyIncremental(op, [][]string{rule})
	e.metrics.RecordRoleGraphRebuild("incremental", time.Since(start))
}

// --- Single mutation operations (spec §4.8) ---

// AddPolicy adds a rule to the default policy type "p".
func (e *Enforcer) AddPolicy(rule []string) error { return e.AddNamedPolicy("p", rule) }

// RemovePolicy removes a rule from the default policy type "p".
func (e *Enforcer) RemovePolicy(rule []string) error { return e.RemoveNamedPolicy("p", rule) }

// HasPolicy reports membership in the default policy type "p".
func (e *Enforcer) HasPolicy(rule []string) bool { return e.policies.Has("p", rule) }

// GetPolicy returns every rule of the default policy type "p".
func (e *Enforcer) GetPolicy() [][]string { return e.policies.Get("p") }

// AddNamedPolicy adds rule to ptype, persisting and notifying per the
// transactional sequence of spec §4.8. The precondition (invariant 2:
// no duplicate rule) is checked by pstore.Store.Add itself.
func (e *Enforcer) AddNamedPolicy(ptype string, rule []string) error {
	return e.addNamedPolicy(ptype, rule, true)
}

// AddNamedPolicySelf is AddNamedPolicy without watcher/dispatcher
// notification -- used when applying a remotely-received change, to
// avoid re-broadcasting an echo of what a peer already sent (spec §4.8
// "self-* variants").
func (e *Enforcer) AddNamedPolicySelf(ptype string, rule []string) error {
	return e.addNamedPolicy(ptype, rule, false)
}

func (e *Enforcer) addNamedPolicy(ptype string, rule []string, notify bool) error {
	store := e.storeFor(ptype)
	if err := store.Add(ptype, rule); err != nil {
		return err
	}
	if e.isGroupingType(ptype) {
		e.rebuildRoleLinks(ptype, rbac.OpAdd, rule)
	}
	e.invalidateCache()
	if err := e.persist(persistOp{kind: "add", sec: sectionOf(ptype), ptype: ptype, rule: rule}); err != nil {
		// Roll back the in-memory mutation: the caller must observe a
		// consistent state (spec §7 persistence errors).
		_ = store.Remove(ptype, rule)
		if e.isGroupingType(ptype) {
			e.rebuildRoleLinks(ptype, rbac.OpRemove, rule)
		}
		return fmt.Errorf("pdp: persisting add to %s: %w", ptype, err)
	}
	e.recordChange()
	e.metrics.RecordMutation("add")
	if notify {
		e.notifyDispatcher(func() error { return e.disp.AddPolicies(sectionOf(ptype), ptype, [][]string{rule}) })
		e.notifyWatcherFine(func(fg watcher.FineGrainedWatcher) error {
			return fg.UpdateForAddPolicy(sectionOf(ptype), ptype, rule)
		})
	}
	return nil
}

// RemoveNamedPolicy removes rule from ptype.
func (e *Enforcer) RemoveNamedPolicy(ptype string, rule []string) error {
	return e.removeNamedPolicy(ptype, rule, true)
}

// RemoveNamedPolicySelf mirrors AddNamedPolicySelf for removal.
func (e *Enforcer) RemoveNamedPolicySelf(ptype string, rule []string) error {
	return e.removeNamedPolicy(ptype, rule, false)
}

func (e *Enforcer) removeNamedPolicy(ptype string, rule []string, notify bool) error {
	store := e.storeFor(ptype)
	if err := store.Remove(ptype, rule); err != nil {
		return err
	}
	if e.isGroupingType(ptype) {
		e.rebuildRoleLinks(ptype, rbac.OpRemove, rule)
	}
	e.invalidateCache()
	if err := e.persist(persistOp{kind: "remove", sec: sectionOf(ptype), ptype: ptype, rule: rule}); err != nil {
		_ = store.Add(ptype, rule)
		if e.isGroupingType(ptype) {
			e.rebuildRoleLinks(ptype, rbac.OpAdd, rule)
		}
		return fmt.Errorf("pdp: persisting remove from %s: %w", ptype, err)
	}
	e.recordChange()
	e.metrics.RecordMutation("remove")
	if notify {
		e.notifyDispatcher(func() error { return e.disp.RemovePolicies(sectionOf(ptype), ptype, [][]string{rule}) })
		e.notifyWatcherFine(func(fg watcher.FineGrainedWatcher) error {
			return fg.UpdateForRemovePolicy(sectionOf(ptype), ptype, rule)
		})
	}
	return nil
}

// UpdatePolicy replaces oldRule with newRule in ptype, atomically: if
// newRule already exists, the whole operation fails and nothing changes
// (spec §4.8 "Update semantics").
func (e *Enforcer) UpdatePolicy(ptype string, oldRule, newRule []string) error {
	store := e.storeFor(ptype)
	if store.Has(ptype, newRule) {
		return fmt.Errorf("pdp: update target already exists in %s: %v", ptype, newRule)
	}
	if err := e.removeNamedPolicy(ptype, oldRule, false); err != nil {
		return err
	}
	if err := e.addNamedPolicy(ptype, newRule, false); err != nil {
		// Roll the removal back too, so a failed update leaves the
		// original rule in place rather than just vanishing it.
		_ = store.Add(ptype, oldRule)
		if e.isGroupingType(ptype) {
			e.rebuildRoleLinks(ptype, rbac.OpAdd, oldRule)
		}
		return err
	}
	e.notifyDispatcher(func() error { return e.disp.UpdatePolicy(sectionOf(ptype), ptype, oldRule, newRule) })
	e.notifyWatcherFine(func(fg watcher.FineGrainedWatcher) error {
		return fg.UpdateForUpdatePolicy(sectionOf(ptype), ptype, oldRule, newRule)
	})
	return nil
}

// --- Bulk operations ---

// AddPolicies adds every rule in rules to ptype. All-or-nothing: if any
// rule is already present, no rule is added.
func (e *Enforcer) AddPolicies(ptype string, rules [][]string) error {
	store := e.storeFor(ptype)
	for _, r := range rules {
		if store.Has(ptype, r) {
			return fmt.Errorf("pdp: AddPolicies: duplicate rule %v in %s", r, ptype)
		}
	}
	for i, r := range rules {
		if err := e.addNamedPolicy(ptype, r, false); err != nil {
			for j := 0; j < i; j++ {
				_ = e.removeNamedPolicy(ptype, rules[j], false)
			}
			return err
		}
	}
	e.notifyDispatcher(func() error { return e.disp.AddPolicies(sectionOf(ptype), ptype, rules) })
	e.notifyWatcher()
	return nil
}

// AddPoliciesEx adds every rule in rules that is not already present,
// skipping duplicates instead of failing the whole batch.
func (e *Enforcer) AddPoliciesEx(ptype string, rules [][]string) ([][]string, error) {
	store := e.storeFor(ptype)
	var added [][]string
	for _, r := range rules {
		if store.Has(ptype, r) {
			continue
		}
		if err := e.addNamedPolicy(ptype, r, false); err != nil {
			return added, err
		}
		added = append(added, r)
	}
	if len(added) > 0 {
		e.notifyDispatcher(func() error { return e.disp.AddPolicies(sectionOf(ptype), ptype, added) })
		e.notifyWatcher()
	}
	return added, nil
}

// RemovePolicies removes every rule in rules from ptype.
func (e *Enforcer) RemovePolicies(ptype string, rules [][]string) error {
	for i, r := range rules {
		if err := e.removeNamedPolicy(ptype, r, false); err != nil {
			for j := 0; j < i; j++ {
				_ = e.addNamedPolicy(ptype, rules[j], false)
			}
			return err
		}
	}
	e.notifyDispatcher(func() error { return e.disp.RemovePolicies(sectionOf(ptype), ptype, rules) })
	e.notifyWatcher()
	return nil
}

// UpdatePolicies replaces oldRules[i] with newRules[i] pairwise. Requires
// equal-length input lists (spec §4.8).
func (e *Enforcer) UpdatePolicies(ptype string, oldRules, newRules [][]string) error {
	if len(oldRules) != len(newRules) {
		return fmt.Errorf("pdp: UpdatePolicies: mismatched list lengths (%d old, %d new)", len(oldRules), len(newRules))
	}
	for i := range oldRules {
		if err := e.UpdatePolicy(ptype, oldRules[i], newRules[i]); err != nil {
			for j := 0; j < i; j++ {
				_ = e.UpdatePolicy(ptype, newRules[j], oldRules[j])
			}
			return err
		}
	}
	return nil
}

// --- Filtered operations ---

// GetFilteredPolicy returns the rules of ptype whose fields starting at
// fieldIndex equal values positionally (empty string = wildcard).
func (e *Enforcer) GetFilteredPolicy(ptype string, fieldIndex int, values ...string) [][]string {
	return e.storeFor(ptype).Filter(ptype, fieldIndex, values)
}

// RemoveFilteredPolicy removes every rule of ptype matching the filter.
func (e *Enforcer) RemoveFilteredPolicy(ptype string, fieldIndex int, values ...string) error {
	store := e.storeFor(ptype)
	removed := store.RemoveFiltered(ptype, fieldIndex, values)
	if len(removed) == 0 {
		return nil
	}
	if e.isGroupingType(ptype) {
		for _, r := range removed {
			e.rebuildRoleLinks(ptype, rbac.OpRemove, r)
		}
	}
	e.invalidateCache()
	if err := e.persist(persistOp{kind: "remove_filtered", sec: sectionOf(ptype), ptype: ptype, fieldIndex: fieldIndex, fieldVals: values}); err != nil {
		for _, r := range removed {
			_ = store.Add(ptype, r)
		}
		return fmt.Errorf("pdp: persisting filtered remove from %s: %w", ptype, err)
	}
	e.recordChange()
	e.metrics.RecordMutation("remove_filtered")
	e.notifyDispatcher(func() error {
		return e.disp.RemoveFilteredPolicy(sectionOf(ptype), ptype, fieldIndex, values)
	})
	e.notifyWatcherFine(func(fg watcher.FineGrainedWatcher) error {
		return fg.UpdateForRemoveFilteredPolicy(sectionOf(ptype), ptype, fieldIndex, values)
	})
	return nil
}

// UpdateFilteredPolicies replaces every rule matching the filter with
// newRules.
func (e *Enforcer) UpdateFilteredPolicies(ptype string, newRules [][]string, fieldIndex int, values ...string) error {
	if err := e.RemoveFilteredPolicy(ptype, fieldIndex, values...); err != nil {
		return err
	}
	if err := e.AddPolicies(ptype, newRules); err != nil {
		return err
	}
	e.notifyDispatcher(func() error {
		return e.disp.UpdateFilteredPolicies(sectionOf(ptype), ptype, newRules, fieldIndex, values)
	})
	return nil
}

// --- Lifecycle ---

// LoadPolicy performs a full reload from the configured adapter,
// replacing the in-memory policy and grouping stores atomically and
// rebuilding every role graph from scratch (spec §4.8/§9).
func (e *Enforcer) LoadPolicy() error {
	if e.adapter == nil {
		return fmt.Errorf("pdp: LoadPolicy: no adapter configured")
	}
	a, ok := e.adapter.(adapter.Loader)
	if !ok {
		return adapter.ErrUnsupported
	}
	set, err := a.LoadPolicy(e.model)
	if err != nil {
		return fmt.Errorf("pdp: loading policy: %w", err)
	}
	e.applyLoadedSet(set, false)
	return nil
}

// LoadFilteredPolicy performs a partial load; the resulting store is
// marked filtered (spec invariant 5) and a subsequent full Save is
// refused until ClearPolicy or a new full LoadPolicy.
func (e *Enforcer) LoadFilteredPolicy(filter adapter.Filter) error {
	a, ok := e.adapter.(adapter.FilteredLoader)
	if !ok {
		return adapter.ErrUnsupported
	}
	set, err := a.LoadFilteredPolicy(e.model, filter)
	if err != nil {
		return fmt.Errorf("pdp: loading filtered policy: %w", err)
	}
	e.applyLoadedSet(set, true)
	return nil
}

// LoadIncrementalFilteredPolicy augments the already-loaded set with the
// rules matching filter, without discarding what is loaded. The store
// stays (or becomes) filtered.
func (e *Enforcer) LoadIncrementalFilteredPolicy(filter adapter.Filter) error {
	a, ok := e.adapter.(adapter.IncrementalFilteredLoader)
	if !ok {
		return adapter.ErrUnsupported
	}
	set, err := a.LoadIncrementalFilteredPolicy(e.model, filter)
	if err != nil {
		return fmt.Errorf("pdp: loading incremental filtered policy: %w", err)
	}
	for ptype, rules := range set {
		store := e.storeFor(ptype)
		for _, rule := range rules {
			if store.Has(ptype, rule) {
				continue
			}
			if err := store.Add(ptype, rule); err != nil {
				return err
			}
			if e.isGroupingType(ptype) {
				e.rebuildRoleLinks(ptype, rbac.OpAdd, rule)
			}
		}
	}
	e.policies.MarkFiltered(true)
	e.grouping.MarkFiltered(true)
	e.invalidateCache()
	e.recordChange()
	return nil
}

// LoadModel replaces the model with a freshly parsed one, atomically from
// the perspective of enforce: the expression engine and role managers are
// rebuilt against the new model, role graphs are reconstructed from the
// grouping store, and the decision cache is dropped. Policies themselves
// are untouched -- callers wanting a full refresh follow with LoadPolicy.
func (e *Enforcer) LoadModel(modelText string) error {
	m, err := model.ParseString(modelText)
	if err != nil {
		return fmt.Errorf("pdp: parsing model: %w", err)
	}
	return e.swapModel(m)
}

// LoadModelFromFile is LoadModel reading the model from a file path.
func (e *Enforcer) LoadModelFromFile(modelPath string) error {
	m, err := model.ParseFile(modelPath)
	if err != nil {
		return fmt.Errorf("pdp: parsing model file: %w", err)
	}
	return e.swapModel(m)
}

func (e *Enforcer) swapModel(m *model.Model) error {
	old := e.model
	oldManagers := e.roleManagers

	e.model = m
	e.roleManagers = make(map[string]*rbac.Manager, len(m.RoleNames()))
	for _, name := range m.RoleNames() {
		arity, _ := m.RoleArity(name)
		e.roleManagers[name] = rbac.New(rbac.Config{
			SupportsDomain:    arity == 3,
			SupportsCondition: true,
			SupportsContext:   true,
		})
		e.roleManagers[name].BuildFromRules(e.grouping.Get(name))
	}
	if err := e.rebuildExprEngine(); err != nil {
		e.model = old
		e.roleManagers = oldManagers
		return err
	}
	e.invalidateCache()
	return nil
}

// IsFiltered reports whether the policy store's contents came from a
// filtered load and have not since been cleared or fully reloaded.
func (e *Enforcer) IsFiltered() bool {
	return e.policies.IsFiltered() || e.grouping.IsFiltered()
}

func (e *Enforcer) applyLoadedSet(set adapter.PolicySet, filtered bool) {
	policies := make(map[string][][]string)
	grouping := make(map[string][][]string)
	for ptype, rules := range set {
		if e.isGroupingType(ptype) {
			grouping[ptype] = rules
		} else {
			policies[ptype] = rules
		}
	}
	e.policies.ReplaceAll(policies)
	e.policies.MarkFiltered(filtered)
	e.grouping.ReplaceAll(grouping)
	e.grouping.MarkFiltered(filtered)

	start := time.Now()
	for ptype, rm := range e.roleManagers {
		rm.BuildFromRules(grouping[ptype])
	}
	e.metrics.RecordRoleGraphRebuild("full", time.Since(start))
	e.invalidateCache()
	e.recordChange()
}

// SavePolicy persists the current in-memory state wholesale. Refused
// while the store holds a filtered load (spec invariant 5).
func (e *Enforcer) SavePolicy() error { return e.fullSave() }

// ClearPolicy empties both stores and every role graph, and clears the
// filtered flag so a subsequent SavePolicy is permitted again.
func (e *Enforcer) ClearPolicy() {
	e.policies.Clear()
	e.grouping.Clear()
	for _, rm := range e.roleManagers {
		rm.Clear()
	}
	e.invalidateCache()
	e.recordChange()
	e.metrics.RecordMutation("clear")
}

func sectionOf(ptype string) string {
	if len(ptype) == 0 {
		return ptype
	}
	switch ptype[0] {
	case 'g':
		return "g"
	default:
		return "p"
	}
}
