// Package concurrency wraps a *pkg/pdp.Enforcer with the synchronisation
// disciplines spec §4.11 requires: Unsynchronised (a direct pass-through
// for callers who already serialise access externally), Synchronised (a
// single sync.RWMutex boundary -- readers share, one writer at a time,
// the discipline this module picks and documents per spec's "choose and
// document one"), and Distributed (Synchronised plus periodic
// cross-node reconciliation).
package concurrency

import (
	"context"
	"sync"

	"github.com/authz-engine/pdp/pkg/pdp"
)

// Unsynchronised is a thin, lock-free pass-through: it exists so calling
// code can depend on one of these three wrapper types uniformly,
// regardless of which discipline an instance actually needs.
type Unsynchronised struct {
	*pdp.Enforcer
}

// NewUnsynchronised wraps e without adding any locking.
func NewUnsynchronised(e *pdp.Enforcer) *Unsynchronised { return &Unsynchronised{e} }

// Synchronised guards every operation on the wrapped Enforcer with a
// single sync.RWMutex: Enforce (and other read-only queries) take the
// read lock and may run concurrently with each other; every mutation
// takes the write lock and excludes all readers and writers.
//
// Embedding *pdp.Enforcer would let callers bypass the lock by calling
// its methods directly, so Synchronised instead holds it unexported and
// forwards only the methods below explicitly. Operations not forwarded
// here are reachable via WithLock/WithRLock, which hand the caller the
// underlying Enforcer for the duration of the held lock.
type Synchronised struct {
	mu sync.RWMutex
	e  *pdp.Enforcer
}

func NewSynchronised(e *pdp.Enforcer) *Synchronised {
	return &Synchronised{e: e}
}

// WithRLock runs fn with the read lock held, for read-only operations
// this wrapper does not forward explicitly.
func (s *Synchronised) WithRLock(fn func(e *pdp.Enforcer)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.e)
}

// WithLock runs fn with the write lock held, for mutating operations
// this wrapper does not forward explicitly.
func (s *Synchronised) WithLock(fn func(e *pdp.Enforcer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.e)
}

func (s *Synchronised) Enforce(ctx context.Context, fields ...string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.Enforce(ctx, fields...)
}

func (s *Synchronised) EnforceEx(ctx context.Context, fields ...string) (pdp.EnforceResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.EnforceEx(ctx, fields...)
}

func (s *Synchronised) BatchEnforce(ctx context.Context, requests [][]string) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.BatchEnforce(ctx, requests)
}

func (s *Synchronised) AddPolicy(rule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.AddPolicy(rule)
}

func (s *Synchronised) RemovePolicy(rule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.RemovePolicy(rule)
}

func (s *Synchronised) AddNamedPolicy(ptype string, rule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.AddNamedPolicy(ptype, rule)
}

func (s *Synchronised) RemoveNamedPolicy(ptype string, rule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.RemoveNamedPolicy(ptype, rule)
}

func (s *Synchronised) UpdatePolicy(ptype string, oldRule, newRule []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.UpdatePolicy(ptype, oldRule, newRule)
}

func (s *Synchronised) HasPolicy(rule []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.HasPolicy(rule)
}

func (s *Synchronised) GetPolicy() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.GetPolicy()
}

func (s *Synchronised) AddRoleForUser(user, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.AddRoleForUser(user, role)
}

func (s *Synchronised) DeleteRoleForUser(user, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.DeleteRoleForUser(user, role)
}

func (s *Synchronised) HasRoleForUser(ctx context.Context, user, role string, domain ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.HasRoleForUser(ctx, user, role, domain...)
}

func (s *Synchronised) LoadPolicy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.LoadPolicy()
}

func (s *Synchronised) SavePolicy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.SavePolicy()
}

func (s *Synchronised) ClearPolicy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.e.ClearPolicy()
}

// snapshot, exportPolicySet and replaceState are used by Distributed's reconciliation
// loop; they take their own locks rather than going through WithLock so
// reconciliation can hold the read lock only while comparing snapshots.
func (s *Synchronised) snapshot() pdp.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.Snapshot()
}

func (s *Synchronised) exportPolicySet() map[string][][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.e.ExportPolicySet()
}

func (s *Synchronised) replaceState(set map[string][][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.e.ReplaceState(set)
}
