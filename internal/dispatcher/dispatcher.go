// Package dispatcher defines the outbound change-broadcast contract
// (spec component C10) and a default in-process publish/subscribe
// implementation. A true cross-process transport is an external
// collaborator (spec §1); PubSub is the in-scope, single-binary
// default for fanning a change out to multiple local subscribers
// (e.g. several enforcer instances sharing one process).
package dispatcher

import (
	"sync"
	"time"
)

// Dispatcher mirrors the Management API for outbound broadcast.
// Implementations may be synchronous or asynchronous; the engine does
// not require ordering guarantees beyond per-operation durability.
type Dispatcher interface {
	AddPolicies(sec, ptype string, rules [][]string) error
	RemovePolicies(sec, ptype string, rules [][]string) error
	RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error
	ClearPolicy() error
	UpdatePolicy(sec, ptype string, oldRule, newRule []string) error
	UpdatePolicies(sec, ptype string, oldRules, newRules [][]string) error
	UpdateFilteredPolicies(sec, ptype string, newRules [][]string, fieldIndex int, fieldValues []string) error
}

// NoOp is the default dispatcher for single-node deployments: every
// operation succeeds and broadcasts to nobody.
type NoOp struct{}

var _ Dispatcher = NoOp{}

func (NoOp) AddPolicies(string, string, [][]string) error                               { return nil }
func (NoOp) RemovePolicies(string, string, [][]string) error                            { return nil }
func (NoOp) RemoveFilteredPolicy(string, string, int, []string) error                    { return nil }
func (NoOp) ClearPolicy() error                                                         { return nil }
func (NoOp) UpdatePolicy(string, string, []string, []string) error                      { return nil }
func (NoOp) UpdatePolicies(string, string, [][]string, [][]string) error                { return nil }
func (NoOp) UpdateFilteredPolicies(string, string, [][]string, int, []string) error      { return nil }

// Event is the payload handed to a PubSub subscriber.
type Event struct {
	Kind       string // "add", "remove", "remove_filtered", "clear", "update", "update_filtered"
	Sec, Ptype string
	Rules      [][]string
	OldRules   [][]string
	FieldIndex int
	FieldValues []string
	Timestamp  time.Time
}

// Handler receives broadcast events.
type Handler func(Event)

// PubSub is an in-process publish/subscribe broadcaster: every mutation
// it is asked to dispatch is queued and delivered to every subscribed
// Handler asynchronously, so a slow subscriber never blocks the
// Management API call that triggered the broadcast.
type PubSub struct {
	mu       sync.RWMutex
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
}

var _ Dispatcher = (*PubSub)(nil)

// NewPubSub starts a PubSub dispatcher with a bounded event queue.
func NewPubSub(queueSize int) *PubSub {
	if queueSize <= 0 {
		queueSize = 100
	}
	p := &PubSub{
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Subscribe registers a handler that receives every future event.
func (p *PubSub) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Close stops the dispatch loop. Queued events are dropped.
func (p *PubSub) Close() {
	close(p.done)
	p.wg.Wait()
}

func (p *PubSub) loop() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.mu.RLock()
			handlers := append([]Handler(nil), p.handlers...)
			p.mu.RUnlock()
			for _, h := range handlers {
				h(ev)
			}
		case <-p.done:
			return
		}
	}
}

func (p *PubSub) publish(ev Event) error {
	ev.Timestamp = time.Now()
	select {
	case p.queue <- ev:
		return nil
	default:
		// Queue full: drop rather than block the caller. Dispatcher
		// failures are logged by the caller and never fail the
		// mutation (spec §4.8 step 6).
		return errQueueFull
	}
}

var errQueueFull = &queueFullError{}

type queueFullError struct{}

func (*queueFullError) Error() string { return "dispatcher: event queue full, event dropped" }

func (p *PubSub) AddPolicies(sec, ptype string, rules [][]string) error {
	return p.publish(Event{Kind: "add", Sec: sec, Ptype: ptype, Rules: rules})
}

func (p *PubSub) RemovePolicies(sec, ptype string, rules [][]string) error {
	return p.publish(Event{Kind: "remove", Sec: sec, Ptype: ptype, Rules: rules})
}

func (p *PubSub) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error {
	return p.publish(Event{Kind: "remove_filtered", Sec: sec, Ptype: ptype, FieldIndex: fieldIndex, FieldValues: fieldValues})
}

func (p *PubSub) ClearPolicy() error {
	return p.publish(Event{Kind: "clear"})
}

func (p *PubSub) UpdatePolicy(sec, ptype string, oldRule, newRule []string) error {
	return p.publish(Event{Kind: "update", Sec: sec, Ptype: ptype, OldRules: [][]string{oldRule}, Rules: [][]string{newRule}})
}

func (p *PubSub) UpdatePolicies(sec, ptype string, oldRules, newRules [][]string) error {
	return p.publish(Event{Kind: "update", Sec: sec, Ptype: ptype, OldRules: oldRules, Rules: newRules})
}

func (p *PubSub) UpdateFilteredPolicies(sec, ptype string, newRules [][]string, fieldIndex int, fieldValues []string) error {
	return p.publish(Event{Kind: "update_filtered", Sec: sec, Ptype: ptype, Rules: newRules, FieldIndex: fieldIndex, FieldValues: fieldValues})
}
