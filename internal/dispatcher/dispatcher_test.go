package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOp_AllOperationsSucceed(t *testing.T) {
	var d Dispatcher = NoOp{}
	assert.NoError(t, d.AddPolicies("p", "p", [][]string{{"alice", "data1", "read"}}))
	assert.NoError(t, d.RemovePolicies("p", "p", nil))
	assert.NoError(t, d.RemoveFilteredPolicy("p", "p", 0, []string{"alice"}))
	assert.NoError(t, d.ClearPolicy())
	assert.NoError(t, d.UpdatePolicy("p", "p", nil, nil))
	assert.NoError(t, d.UpdatePolicies("p", "p", nil, nil))
	assert.NoError(t, d.UpdateFilteredPolicies("p", "p", nil, 0, nil))
}

func collect(t *testing.T, p *PubSub) (<-chan Event, func() []Event) {
	t.Helper()
	ch := make(chan Event, 64)
	var mu sync.Mutex
	var events []Event
	p.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		ch <- ev
	})
	return ch, func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
}

func TestPubSub_DeliversToSubscriber(t *testing.T) {
	p := NewPubSub(16)
	defer p.Close()
	ch, _ := collect(t, p)

	require.NoError(t, p.AddPolicies("p", "p", [][]string{{"alice", "data1", "read"}}))

	select {
	case ev := <-ch:
		assert.Equal(t, "add", ev.Kind)
		assert.Equal(t, "p", ev.Ptype)
		require.Len(t, ev.Rules, 1)
		assert.Equal(t, []string{"alice", "data1", "read"}, ev.Rules[0])
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPubSub_FansOutToEverySubscriber(t *testing.T) {
	p := NewPubSub(16)
	defer p.Close()
	ch1, _ := collect(t, p)
	ch2, _ := collect(t, p)

	require.NoError(t, p.ClearPolicy())

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "clear", ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("a subscriber missed the broadcast")
		}
	}
}

func TestPubSub_EventKindsCarryTheirPayloads(t *testing.T) {
	p := NewPubSub(16)
	defer p.Close()
	ch, _ := collect(t, p)

	require.NoError(t, p.RemoveFilteredPolicy("p", "p2", 1, []string{"data1"}))
	require.NoError(t, p.UpdatePolicy("p", "p", []string{"old"}, []string{"new"}))

	ev := <-ch
	assert.Equal(t, "remove_filtered", ev.Kind)
	assert.Equal(t, "p2", ev.Ptype)
	assert.Equal(t, 1, ev.FieldIndex)
	assert.Equal(t, []string{"data1"}, ev.FieldValues)

	ev = <-ch
	assert.Equal(t, "update", ev.Kind)
	assert.Equal(t, [][]string{{"old"}}, ev.OldRules)
	assert.Equal(t, [][]string{{"new"}}, ev.Rules)
}

func TestPubSub_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	p := NewPubSub(1)
	// No subscriber and no drain: the second publish may find the queue
	// full. Either way the call must return promptly, never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = p.ClearPolicy()
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	p.Close()
}
