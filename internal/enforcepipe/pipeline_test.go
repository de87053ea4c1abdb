package enforcepipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/pdp/internal/expr"
	"github.com/authz-engine/pdp/pkg/model"
)

func buildFixture(t *testing.T, modelText string) (*model.Model, *expr.Engine) {
	t.Helper()
	m, err := model.ParseString(modelText)
	require.NoError(t, err)
	eng, err := expr.NewEngine(m, nil, nil)
	require.NoError(t, err)
	return m, eng
}

const eftModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

func run(t *testing.T, m *model.Model, eng *expr.Engine, fields []string, candidates [][]string) Result {
	t.Helper()
	res, err := Run(m, eng, Request{
		RequestDef: "r", PolicyDef: "p", MatcherDef: "m", EffectDef: "e",
		Fields: fields,
	}, candidates)
	require.NoError(t, err)
	return res
}

func TestRun_SomeAllow(t *testing.T) {
	m, eng := buildFixture(t, `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`)
	res := run(t, m, eng, []string{"alice", "data1", "read"}, [][]string{
		{"alice", "data1", "read"},
		{"bob", "data2", "write"},
	})
	assert.True(t, res.Allowed)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, EffectAllow, res.Matched[0].Effect)
}

func TestRun_DenyOverridesAllow(t *testing.T) {
	m, eng := buildFixture(t, eftModel)
	res := run(t, m, eng, []string{"alice", "data1", "read"}, [][]string{
		{"alice", "data1", "read", "allow"},
		{"alice", "data1", "read", "deny"},
	})
	assert.False(t, res.Allowed)
	assert.Len(t, res.Matched, 2)
}

func TestRun_AllowAndNoDenyRequiresAnAllow(t *testing.T) {
	m, eng := buildFixture(t, eftModel)
	res := run(t, m, eng, []string{"alice", "data1", "read"}, nil)
	assert.False(t, res.Allowed, "no matching rule means no allow, so the conjunction fails")
}

func TestRun_EmptyEftDefaultsToAllow(t *testing.T) {
	m, eng := buildFixture(t, eftModel)
	res := run(t, m, eng, []string{"alice", "data1", "read"}, [][]string{
		{"alice", "data1", "read", ""},
	})
	assert.True(t, res.Allowed)
}

func TestRun_MalformedRuleSkippedWithExplanation(t *testing.T) {
	m, eng := buildFixture(t, eftModel)
	res := run(t, m, eng, []string{"alice", "data1", "read"}, [][]string{
		{"alice", "data1"}, // wrong arity for the definition
		{"alice", "data1", "read", "allow"},
	})
	assert.True(t, res.Allowed)
	require.Len(t, res.Explanation, 1)
	assert.Contains(t, res.Explanation[0], "malformed")
}

func TestRun_RequestArityMismatchIsError(t *testing.T) {
	m, eng := buildFixture(t, eftModel)
	_, err := Run(m, eng, Request{
		RequestDef: "r", PolicyDef: "p", MatcherDef: "m", EffectDef: "e",
		Fields: []string{"alice", "data1"},
	}, nil)
	assert.Error(t, err)
}

func TestRun_UnknownDefinitionsAreErrors(t *testing.T) {
	m, eng := buildFixture(t, eftModel)
	_, err := Run(m, eng, Request{
		RequestDef: "r9", PolicyDef: "p", MatcherDef: "m", EffectDef: "e",
		Fields: []string{"alice", "data1", "read"},
	}, nil)
	assert.Error(t, err)

	_, err = Run(m, eng, Request{
		RequestDef: "r", PolicyDef: "p9", MatcherDef: "m", EffectDef: "e",
		Fields: []string{"alice", "data1", "read"},
	}, nil)
	assert.Error(t, err)
}

func TestAggregate_Priority(t *testing.T) {
	deny := MatchedRule{Effect: EffectDeny}
	allow := MatchedRule{Effect: EffectAllow}
	indet := MatchedRule{Effect: EffectIndeterminate}

	assert.False(t, Aggregate(model.EffectModePriority, []MatchedRule{deny, allow}),
		"first matching rule wins")
	assert.True(t, Aggregate(model.EffectModePriority, []MatchedRule{allow, deny}))
	assert.False(t, Aggregate(model.EffectModePriority, nil), "default deny")
	assert.True(t, Aggregate(model.EffectModePriority, []MatchedRule{indet, allow}),
		"indeterminate effects are passed over")
}

func TestAggregate_NoDeny(t *testing.T) {
	deny := MatchedRule{Effect: EffectDeny}
	allow := MatchedRule{Effect: EffectAllow}

	assert.True(t, Aggregate(model.EffectModeNoDeny, nil),
		"no matching rule means nothing denied")
	assert.True(t, Aggregate(model.EffectModeNoDeny, []MatchedRule{allow}))
	assert.False(t, Aggregate(model.EffectModeNoDeny, []MatchedRule{allow, deny}))
}
