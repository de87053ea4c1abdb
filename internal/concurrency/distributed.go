package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PeerClient is the external collaborator a Distributed instance talks
// to for reconciliation: spec §1 explicitly mandates no network protocol,
// so this package only defines the contract, never a transport.
type PeerClient interface {
	// Name is the peer's node name, used as the tie-break when two
	// peers report an identical (policy_count, last_changed_at) pair.
	Name() string
	// Snapshot returns the peer's current (policy_count, last_changed_at).
	Snapshot(ctx context.Context) (PeerSnapshot, error)
	// ExportPolicySet pulls the peer's full policy+grouping rule set,
	// called only on the peer chosen as source of truth.
	ExportPolicySet(ctx context.Context) (map[string][][]string, error)
}

// PeerSnapshot is a peer's answer to Snapshot.
type PeerSnapshot struct {
	PolicyCount   int
	LastChangedAt time.Time
}

// Distributed wraps Synchronised with periodic reconciliation against a
// set of peers (spec §4.11): every sync interval, compare this
// instance's (policy_count, last_changed_at) against every reachable
// peer's, adopt the lexicographically-greatest as source of truth (ties
// broken by node name), and if a peer wins, replace the local store
// with its full policy set, rebuild role links, and invalidate the
// cache -- all already implied by Synchronised.replaceState ->
// Enforcer.ReplaceState.
type Distributed struct {
	*Synchronised

	nodeName     string
	peers        func() []PeerClient
	syncInterval time.Duration
	logger       *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// joined receives a signal (capacity 1, never closed) to trigger an immediate out-of-band
	// reconciliation when a peer joins or rejoins (spec §4.11).
	joined chan struct{}
}

// NewDistributed starts periodic reconciliation on top of a
// Synchronised enforcer. peers is called fresh on every reconciliation
// tick so the peer set can grow or shrink between runs; nodeName breaks
// ties deterministically against peers reporting an identical snapshot.
func NewDistributed(s *Synchronised, nodeName string, syncInterval time.Duration, peers func() []PeerClient, logger *zap.Logger) *Distributed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	if nodeName == "" {
		nodeName = uuid.NewString()
	}
	d := &Distributed{
		Synchronised: s,
		nodeName:     nodeName,
		peers:        peers,
		syncInterval: syncInterval,
		logger:       logger,
		stop:         make(chan struct{}),
		joined:       make(chan struct{}, 1),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// NotifyPeerJoined triggers an immediate reconciliation pass instead of
// waiting for the next tick, per spec §4.11 "A peer joining or
// rejoining triggers an immediate reconciliation."
func (d *Distributed) NotifyPeerJoined() {
	select {
	case d.joined <- struct{}{}:
	default:
	}
}

// ExportPolicySet returns this node's full policy+grouping rule set,
// for a transport layer serving a peer's reconciliation pull.
func (d *Distributed) ExportPolicySet() map[string][][]string {
	return d.exportPolicySet()
}

// Stop ends the reconciliation loop.
func (d *Distributed) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Distributed) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.reconcile()
		case <-d.joined:
			d.reconcile()
		case <-d.stop:
			return
		}
	}
}

func (d *Distributed) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), d.syncInterval)
	defer cancel()

	peers := d.peers()
	local := d.snapshot()

	best := reconcileCandidate{name: d.nodeName, count: local.PolicyCount, at: local.LastChangedAt}

	for _, p := range peers {
		snap, err := p.Snapshot(ctx)
		if err != nil {
			d.logger.Warn("concurrency: peer snapshot failed", zap.String("peer", p.Name()), zap.Error(err))
			continue
		}
		c := reconcileCandidate{name: p.Name(), count: snap.PolicyCount, at: snap.LastChangedAt, peer: p}
		if isGreater(c, best) {
			best = c
		}
	}

	if best.peer == nil {
		return // this instance is already the source of truth
	}

	set, err := best.peer.ExportPolicySet(ctx)
	if err != nil {
		d.logger.Warn("concurrency: pulling peer policy set failed", zap.String("peer", best.name), zap.Error(err))
		return
	}
	d.replaceState(set)
	d.logger.Info("concurrency: reconciled from peer", zap.String("peer", best.name), zap.Int("policy_count", best.count))
}

// reconcileCandidate is one peer's (or this instance's) standing in a
// reconciliation pass.
type reconcileCandidate struct {
	name  string
	count int
	at    time.Time
	peer  PeerClient // nil means "this instance"
}

// isGreater orders candidates by (policy_count, last_changed_at) then
// by name, matching spec §4.11's lexicographic tie-break exactly.
func isGreater(a, b reconcileCandidate) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	if !a.at.Equal(b.at) {
		return a.at.After(b.at)
	}
	return a.name > b.name
}
