package pstore

import (
	"testing"

	"github.com/authz-engine/pdp/pkg/model"
)

func buildTestModel() (*model.Model, error) {
	return model.ParseString(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`)
}

func TestStore_AddGetHas(t *testing.T) {
	s := New()
	if err := s.Add("p", []string{"alice", "data1", "read"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !s.Has("p", []string{"alice", "data1", "read"}) {
		t.Errorf("expected rule to be present")
	}
	rules := s.Get("p")
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
}

func TestStore_AddDuplicateRejected(t *testing.T) {
	s := New()
	_ = s.Add("p", []string{"alice", "data1", "read"})
	if err := s.Add("p", []string{"alice", "data1", "read"}); err == nil {
		t.Errorf("expected duplicate add to fail")
	}
	if len(s.Get("p")) != 1 {
		t.Errorf("expected store to remain unchanged after rejected duplicate")
	}
}

func TestStore_RemoveMissingRejected(t *testing.T) {
	s := New()
	if err := s.Remove("p", []string{"alice", "data1", "read"}); err == nil {
		t.Errorf("expected remove of missing rule to fail")
	}
}

func TestStore_RemovePreservesOrder(t *testing.T) {
	s := New()
	_ = s.Add("p", []string{"a", "x", "read"})
	_ = s.Add("p", []string{"b", "x", "read"})
	_ = s.Add("p", []string{"c", "x", "read"})

	_ = s.Remove("p", []string{"b", "x", "read"})

	rules := s.Get("p")
	if len(rules) != 2 || rules[0][0] != "a" || rules[1][0] != "c" {
		t.Fatalf("unexpected rule order after remove: %v", rules)
	}
}

func TestStore_Filter(t *testing.T) {
	s := New()
	_ = s.Add("p", []string{"alice", "data1", "read"})
	_ = s.Add("p", []string{"bob", "data2", "write"})
	_ = s.Add("p", []string{"alice", "data2", "write"})

	matched := s.Filter("p", 0, []string{"alice"})
	if len(matched) != 2 {
		t.Fatalf("expected 2 rules for alice, got %d", len(matched))
	}

	matched = s.Filter("p", 1, []string{"data2", "write"})
	if len(matched) != 2 {
		t.Fatalf("expected 2 rules matching data2/write, got %d", len(matched))
	}

	matched = s.Filter("p", 0, []string{"", "data2"})
	if len(matched) != 2 {
		t.Fatalf("expected empty-string field to match anything, got %d", len(matched))
	}
}

func TestStore_RemoveFiltered(t *testing.T) {
	s := New()
	_ = s.Add("p", []string{"alice", "data1", "read"})
	_ = s.Add("p", []string{"bob", "data1", "read"})

	removed := s.RemoveFiltered("p", 1, []string{"data1", "read"})
	if len(removed) != 2 {
		t.Fatalf("expected both rules removed, got %d", len(removed))
	}
	if len(s.Get("p")) != 0 {
		t.Errorf("expected store to be empty after filtered removal")
	}
}

func TestStore_ClearResetsFilteredFlag(t *testing.T) {
	s := New()
	s.MarkFiltered(true)
	if !s.IsFiltered() {
		t.Fatalf("expected filtered flag to be set")
	}
	s.Clear()
	if s.IsFiltered() {
		t.Errorf("expected Clear to reset the filtered flag")
	}
}

func TestStore_ReplaceAll(t *testing.T) {
	s := New()
	_ = s.Add("p", []string{"alice", "data1", "read"})
	s.ReplaceAll(map[string][][]string{
		"p": {{"bob", "data2", "write"}},
		"g": {{"alice", "admin"}},
	})
	if s.Has("p", []string{"alice", "data1", "read"}) {
		t.Errorf("expected old rule to be gone after ReplaceAll")
	}
	if !s.Has("p", []string{"bob", "data2", "write"}) {
		t.Errorf("expected new rule to be present after ReplaceAll")
	}
	if !s.Has("g", []string{"alice", "admin"}) {
		t.Errorf("expected grouping rule to be present after ReplaceAll")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	_ = s.Add("p", []string{"alice", "data1", "read"})
	rules := s.Get("p")
	rules[0][0] = "mutated"
	if s.Get("p")[0][0] != "alice" {
		t.Errorf("expected Get to return a defensive copy")
	}
}

func TestBuildFieldIndex(t *testing.T) {
	m, err := buildTestModel()
	if err != nil {
		t.Fatalf("buildTestModel failed: %v", err)
	}
	idx := BuildFieldIndex(m, "p")
	if idx["sub"] != 0 || idx["obj"] != 1 || idx["act"] != 2 || idx["eft"] != 3 {
		t.Fatalf("unexpected field index: %v", idx)
	}
}

func TestValidateRuleLength(t *testing.T) {
	m, err := buildTestModel()
	if err != nil {
		t.Fatalf("buildTestModel failed: %v", err)
	}
	if err := ValidateRuleLength(m, "p", []string{"alice", "data1", "read", "allow"}); err != nil {
		t.Errorf("expected matching rule length to validate, got %v", err)
	}
	if err := ValidateRuleLength(m, "p", []string{"alice", "data1"}); err == nil {
		t.Errorf("expected short rule to fail validation")
	}
}
