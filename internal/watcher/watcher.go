// Package watcher defines the inbound change-notification contract
// (spec component C9) plus one concrete, in-scope implementation backed
// by fsnotify over the CSV policy-file grammar (spec §6).
package watcher

// UpdateCallback is invoked when a watcher learns that policy changed,
// locally or on a peer. It takes no arguments: the receiver reacts by
// reloading through whatever adapter it already holds, exactly as an
// explicit reload would.
type UpdateCallback func()

// Watcher is the structural contract a caller may attach to an enforcer.
// Implementations may support only a subset of the fine-grained
// UpdateFor* variants; callers fall back to Update() (a full reload
// signal) when a variant isn't needed.
type Watcher interface {
	// SetUpdateCallback registers the callback invoked on any change
	// notification. Only one callback is held at a time; a second call
	// replaces the first.
	SetUpdateCallback(fn UpdateCallback)

	// Update notifies peers that this instance changed policy.
	Update() error
}

// FineGrainedWatcher is an optional extension a Watcher may also
// implement, letting a peer apply a precise incremental change instead
// of a full reload.
type FineGrainedWatcher interface {
	UpdateForAddPolicy(sec, ptype string, rule []string) error
	UpdateForRemovePolicy(sec, ptype string, rule []string) error
	UpdateForRemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error
	UpdateForSavePolicy() error
	UpdateForUpdatePolicy(sec, ptype string, oldRule, newRule []string) error
}
