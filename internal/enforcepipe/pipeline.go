// Package enforcepipe implements the synchronous, non-blocking request
// evaluation pipeline (spec component C7): bind the request tuple, iterate
// the candidate policy rules, evaluate the matcher against each, and
// aggregate the resulting per-rule effects into a single decision.
//
// The pipeline performs no I/O and takes no lock of its own -- callers
// (pkg/pdp.Enforcer, wrapped by internal/concurrency where needed) own
// synchronisation of the policy store and role graph it reads.
package enforcepipe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/authz-engine/pdp/internal/expr"
	"github.com/authz-engine/pdp/pkg/model"
)

// Effect is the per-rule verdict the aggregator consumes.
type Effect int

const (
	// EffectIndeterminate marks a rule whose eft field was missing or
	// unrecognised; an indeterminate effect never contributes to either
	// side of an aggregation.
	EffectIndeterminate Effect = iota
	EffectAllow
	EffectDeny
)

func effectOf(field string) Effect {
	switch field {
	case "", "allow":
		return EffectAllow
	case "deny":
		return EffectDeny
	default:
		return EffectIndeterminate
	}
}

// MatchedRule records one candidate rule that satisfied the matcher,
// in store order, for explanation output.
type MatchedRule struct {
	PolicyType string
	Rule       []string
	Effect     Effect
}

// Request is the input to one evaluation: the bound request fields plus
// which named definitions to evaluate against, so a Model with multiple
// request/policy/matcher/effect definitions (r2, p2, m2, e2, ...) is fully
// supported, not just the conventional "r"/"p"/"m"/"e" quartet.
type Request struct {
	RequestDef string   // e.g. "r"
	PolicyDef  string   // e.g. "p"
	MatcherDef string   // e.g. "m"; "" means look up the matcher by MatcherExpr only
	EffectDef  string   // e.g. "e"; selects the aggregator via model.DefaultEffect/Effect
	Fields     []string // positional request fields, matching RequestDef's token count

	// MatcherExpr overrides the model's declared matcher for MatcherDef
	// when non-empty (the enforcer's "override matcher" entry point).
	MatcherExpr string

	// AcceptJSON binds request fields that carry a JSON object as
	// structured maps instead of opaque strings, so matchers can reach
	// into them ("r.obj.owner == r.sub"). A field that fails to decode
	// stays a plain string.
	AcceptJSON bool
}

// Candidates supplies the rule set a Request is evaluated against,
// already snapshotted by the caller (spec invariant 6: one logical
// snapshot per enforce call).
type Candidates [][]string

// Result is the outcome of one pipeline run.
type Result struct {
	Allowed bool
	Matched []MatchedRule
	// Explanation carries human-readable notes, including evaluation
	// failures that were swallowed per spec §7 (evaluation errors deny
	// and log, never raise to the enforce caller).
	Explanation []string
}

// Run evaluates req against candidates using m and eng. Run takes no role
// managers: role functions are already bound into eng at construction
// time, keeping the pipeline free of role-graph locking concerns beyond
// what eng's bound resolvers already guard internally.
func Run(m *model.Model, eng *expr.Engine, req Request, candidates Candidates) (Result, error) {
	reqTokens, ok := m.RequestTokens(req.RequestDef)
	if !ok {
		return Result{}, fmt.Errorf("enforcepipe: unknown request definition %q", req.RequestDef)
	}
	if len(reqTokens) != len(req.Fields) {
		return Result{}, fmt.Errorf("enforcepipe: request %q expects %d fields, got %d",
			req.RequestDef, len(reqTokens), len(req.Fields))
	}
	policyTokens, ok := m.PolicyTokens(req.PolicyDef)
	if !ok {
		return Result{}, fmt.Errorf("enforcepipe: unknown policy definition %q", req.PolicyDef)
	}

	matcherExpr := req.MatcherExpr
	if matcherExpr == "" {
		var found bool
		matcherExpr, found = m.Matcher(req.MatcherDef)
		if !found {
			return Result{}, fmt.Errorf("enforcepipe: unknown matcher definition %q", req.MatcherDef)
		}
	}
	prog, err := eng.Compile(matcherExpr)
	if err != nil {
		return Result{}, err
	}

	rScope := make(map[string]interface{}, len(reqTokens))
	for i, tok := range reqTokens {
		rScope[tok] = bindField(req.Fields[i], req.AcceptJSON)
	}

	var result Result
	hasEftField := false
	eftIdx := -1
	for i, tok := range policyTokens {
		if tok == "eft" {
			hasEftField = true
			eftIdx = i
			break
		}
	}

	for _, rule := range candidates {
		if len(rule) != len(policyTokens) {
			result.Explanation = append(result.Explanation,
				fmt.Sprintf("enforcepipe: skipped malformed rule %v (expected %d fields)", rule, len(policyTokens)))
			continue
		}
		pScope := make(map[string]interface{}, len(policyTokens))
		for i, tok := range policyTokens {
			pScope[tok] = rule[i]
		}

		matched, evalErr := eng.Eval(prog, map[string]map[string]interface{}{
			req.RequestDef: rScope,
			req.PolicyDef:  pScope,
		})
		if evalErr != nil {
			// Evaluation errors deny and are logged via the explanation,
			// never raised to the caller of enforce (spec §7).
			result.Explanation = append(result.Explanation,
				fmt.Sprintf("enforcepipe: matcher error on rule %v: %v", rule, evalErr))
			continue
		}
		if !matched {
			continue
		}

		eft := EffectAllow
		if hasEftField {
			eft = effectOf(rule[eftIdx])
		}
		result.Matched = append(result.Matched, MatchedRule{
			PolicyType: req.PolicyDef,
			Rule:       rule,
			Effect:     eft,
		})
	}

	result.Allowed = Aggregate(model.ModeOf(mustEffectExpr(m, req.EffectDef)), result.Matched)
	return result, nil
}

func bindField(field string, acceptJSON bool) interface{} {
	if acceptJSON && strings.HasPrefix(strings.TrimSpace(field), "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(field), &obj); err == nil {
			return obj
		}
	}
	return field
}

func mustEffectExpr(m *model.Model, name string) string {
	if expr, ok := m.Effect(name); ok {
		return expr
	}
	expr, _ := m.DefaultEffect()
	return expr
}

// Aggregate implements the four fixed effect-aggregator forms over a
// sequence of matched rules in store order (spec §4.7 step 6).
func Aggregate(mode model.EffectMode, matched []MatchedRule) bool {
	switch mode {
	case model.EffectModeSomeAllow:
		for _, mr := range matched {
			if mr.Effect == EffectAllow {
				return true
			}
		}
		return false
	case model.EffectModeNoDeny:
		for _, mr := range matched {
			if mr.Effect == EffectDeny {
				return false
			}
		}
		return true
	case model.EffectModeAllowAndNoDeny:
		sawAllow := false
		for _, mr := range matched {
			switch mr.Effect {
			case EffectDeny:
				return false
			case EffectAllow:
				sawAllow = true
			}
		}
		return sawAllow
	case model.EffectModePriority:
		for _, mr := range matched {
			if mr.Effect == EffectAllow {
				return true
			}
			if mr.Effect == EffectDeny {
				return false
			}
		}
		return false
	default:
		return false
	}
}
