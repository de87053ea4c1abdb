package concurrency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/pdp/pkg/pdp"
)

// enforcerPeer exposes a local enforcer through the PeerClient contract,
// standing in for whatever transport a deployment actually uses.
type enforcerPeer struct {
	name string
	e    *pdp.Enforcer
}

func (p *enforcerPeer) Name() string { return p.name }

func (p *enforcerPeer) Snapshot(ctx context.Context) (PeerSnapshot, error) {
	s := p.e.Snapshot()
	return PeerSnapshot{PolicyCount: s.PolicyCount, LastChangedAt: s.LastChangedAt}, nil
}

func (p *enforcerPeer) ExportPolicySet(ctx context.Context) (map[string][][]string, error) {
	return p.e.ExportPolicySet(), nil
}

// unreachablePeer always fails, standing in for a partitioned node.
type unreachablePeer struct{}

func (unreachablePeer) Name() string { return "unreachable" }
func (unreachablePeer) Snapshot(ctx context.Context) (PeerSnapshot, error) {
	return PeerSnapshot{}, fmt.Errorf("connection refused")
}
func (unreachablePeer) ExportPolicySet(ctx context.Context) (map[string][][]string, error) {
	return nil, fmt.Errorf("connection refused")
}

func seedPolicies(t *testing.T, e *pdp.Enforcer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.AddPolicy([]string{fmt.Sprintf("user%d", i), "data", "read"}))
	}
}

func TestDistributed_ReconcilesFromLargerPeer(t *testing.T) {
	local := newEnforcer(t)
	seedPolicies(t, local, 10)

	remote := newEnforcer(t)
	seedPolicies(t, remote, 12)

	d := NewDistributed(NewSynchronised(local), "node-a", 20*time.Millisecond,
		func() []PeerClient { return []PeerClient{&enforcerPeer{name: "node-b", e: remote}} }, nil)
	defer d.Stop()

	require.Eventually(t, func() bool {
		return len(d.GetPolicy()) == 12
	}, 2*time.Second, 10*time.Millisecond,
		"the instance with fewer policies must adopt the larger peer's set")
}

func TestDistributed_LocalWinsWhenAhead(t *testing.T) {
	local := newEnforcer(t)
	seedPolicies(t, local, 12)

	remote := newEnforcer(t)
	seedPolicies(t, remote, 10)

	d := NewDistributed(NewSynchronised(local), "node-a", 20*time.Millisecond,
		func() []PeerClient { return []PeerClient{&enforcerPeer{name: "node-b", e: remote}} }, nil)
	defer d.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, d.GetPolicy(), 12, "the larger local set must not be replaced")
}

func TestDistributed_UnreachablePeerIsSkipped(t *testing.T) {
	local := newEnforcer(t)
	seedPolicies(t, local, 3)

	d := NewDistributed(NewSynchronised(local), "node-a", 20*time.Millisecond,
		func() []PeerClient { return []PeerClient{unreachablePeer{}} }, nil)
	defer d.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, d.GetPolicy(), 3, "a partitioned peer must not disturb local state")
}

func TestDistributed_PeerJoinTriggersImmediateReconciliation(t *testing.T) {
	local := newEnforcer(t)
	remote := newEnforcer(t)
	seedPolicies(t, remote, 5)

	// A long interval so only the join signal can explain a prompt sync.
	d := NewDistributed(NewSynchronised(local), "node-a", time.Hour,
		func() []PeerClient { return []PeerClient{&enforcerPeer{name: "node-b", e: remote}} }, nil)
	defer d.Stop()

	d.NotifyPeerJoined()
	require.Eventually(t, func() bool {
		return len(d.GetPolicy()) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIsGreater_Ordering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := reconcileCandidate{name: "a", count: 10, at: base}
	b := reconcileCandidate{name: "b", count: 12, at: base}
	assert.True(t, isGreater(b, a), "higher policy count wins")

	c := reconcileCandidate{name: "c", count: 10, at: base.Add(time.Minute)}
	assert.True(t, isGreater(c, a), "newer change wins at equal count")

	d := reconcileCandidate{name: "d", count: 10, at: base}
	assert.True(t, isGreater(d, a), "node name breaks exact ties deterministically")
	assert.False(t, isGreater(a, d))
}
