package memadapter

import (
	"testing"

	"github.com/authz-engine/pdp/internal/adapter"
)

func TestMemAdapter_AdvertisesFullCapabilitySet(t *testing.T) {
	c := adapter.Probe(New())
	if !c.Loader || !c.Saver || !c.IncrementalAdder || !c.IncrementalRemover ||
		!c.FilteredRemover || !c.FilteredLoader || !c.IncrementalFilteredLoader {
		t.Fatalf("expected memadapter to advertise every capability, got %+v", c)
	}
}

func TestMemAdapter_SaveThenLoadRoundTrips(t *testing.T) {
	a := New()
	if err := a.SavePolicy(adapter.PolicySet{
		"p": {{"alice", "data1", "read"}},
	}); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}
	loaded, err := a.LoadPolicy(nil)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if len(loaded["p"]) != 1 || loaded["p"][0][0] != "alice" {
		t.Fatalf("unexpected loaded policy set: %v", loaded)
	}
}

func TestMemAdapter_AddRemovePolicy(t *testing.T) {
	a := New()
	_ = a.AddPolicy("p", "p", []string{"alice", "data1", "read"})
	_ = a.AddPolicy("p", "p", []string{"bob", "data1", "read"})

	loaded, _ := a.LoadPolicy(nil)
	if len(loaded["p"]) != 2 {
		t.Fatalf("expected 2 rules after AddPolicy, got %d", len(loaded["p"]))
	}

	_ = a.RemovePolicy("p", "p", []string{"alice", "data1", "read"})
	loaded, _ = a.LoadPolicy(nil)
	if len(loaded["p"]) != 1 || loaded["p"][0][0] != "bob" {
		t.Fatalf("unexpected rules after RemovePolicy: %v", loaded["p"])
	}
}

func TestMemAdapter_RemoveFilteredPolicy(t *testing.T) {
	a := New()
	_ = a.AddPolicy("p", "p", []string{"alice", "data1", "read"})
	_ = a.AddPolicy("p", "p", []string{"bob", "data1", "read"})
	_ = a.AddPolicy("p", "p", []string{"carol", "data2", "write"})

	_ = a.RemoveFilteredPolicy("p", "p", 1, []string{"data1"})

	loaded, _ := a.LoadPolicy(nil)
	if len(loaded["p"]) != 1 || loaded["p"][0][0] != "carol" {
		t.Fatalf("unexpected rules after RemoveFilteredPolicy: %v", loaded["p"])
	}
}

func TestMemAdapter_LoadFilteredPolicyMarksFiltered(t *testing.T) {
	a := New()
	_ = a.AddPolicy("p", "p", []string{"alice", "data1", "read"})
	_ = a.AddPolicy("p", "p", []string{"bob", "data2", "read"})

	loaded, err := a.LoadFilteredPolicy(nil, FieldFilter{PType: "p", FieldIndex: 0, FieldValues: []string{"alice"}})
	if err != nil {
		t.Fatalf("LoadFilteredPolicy failed: %v", err)
	}
	if len(loaded["p"]) != 1 || loaded["p"][0][0] != "alice" {
		t.Fatalf("unexpected filtered result: %v", loaded["p"])
	}
	if !a.IsFiltered() {
		t.Errorf("expected adapter to report filtered state after a partial load")
	}

	_ = a.SavePolicy(adapter.PolicySet{})
	if a.IsFiltered() {
		t.Errorf("expected a full save to clear the filtered flag")
	}
}
