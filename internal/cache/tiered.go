package cache

// Tiered layers a small in-process LRU (L1) over a Redis backend (L2).
// Reads hit L1 first and promote L2 hits into it; writes and
// invalidations go to both tiers. L1 absorbs the hot working set so the
// common repeated request never leaves the process, while L2 keeps the
// long tail across restarts.
type Tiered struct {
	l1 *LRU
	l2 Cache
}

var _ Cache = (*Tiered)(nil)

// NewTiered combines l1 and l2. Both must be non-nil; a caller with only
// one tier should use it directly.
func NewTiered(l1 *LRU, l2 Cache) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

func (t *Tiered) Get(key string) (bool, bool) {
	if allowed, ok := t.l1.Get(key); ok {
		return allowed, true
	}
	allowed, ok := t.l2.Get(key)
	if ok {
		t.l1.Set(key, allowed)
	}
	return allowed, ok
}

func (t *Tiered) Set(key string, allowed bool) {
	t.l1.Set(key, allowed)
	t.l2.Set(key, allowed)
}

func (t *Tiered) Delete(key string) {
	t.l1.Delete(key)
	t.l2.Delete(key)
}

func (t *Tiered) Clear() {
	t.l1.Clear()
	t.l2.Clear()
}
