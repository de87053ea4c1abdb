// Package model parses and represents the declarative authorization model:
// the request/policy/role definitions, effect aggregator, and matcher
// expressions that together describe how an enforcer evaluates a request.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// Section names recognised by the parser.
const (
	SectionRequestDefinition = "request_definition"
	SectionPolicyDefinition  = "policy_definition"
	SectionRoleDefinition    = "role_definition"
	SectionPolicyEffect      = "policy_effect"
	SectionMatchers          = "matchers"
)

var requiredSections = []string{
	SectionRequestDefinition,
	SectionPolicyDefinition,
	SectionPolicyEffect,
	SectionMatchers,
}

// Model is the parsed, immutable representation of a model configuration.
// Re-loading produces a brand new Model; callers swap the pointer to get
// atomic replacement semantics.
type Model struct {
	requestDefs map[string][]string
	policyDefs  map[string][]string
	roleDefs    map[string][]string
	effects     map[string]string
	matchers    map[string]string

	// order records the assignment order of keys within each section; the
	// parser writes it and nothing in this package reads it back.
	order map[string][]string
}

func newModel() *Model {
	return &Model{
		requestDefs: make(map[string][]string),
		policyDefs:  make(map[string][]string),
		roleDefs:    make(map[string][]string),
		effects:     make(map[string]string),
		matchers:    make(map[string]string),
		order:       make(map[string][]string),
	}
}

// RequestTokens returns the ordered token list for a request definition
// (e.g. "r" -> ["sub", "obj", "act"]). ok is false when name is undefined.
func (m *Model) RequestTokens(name string) (tokens []string, ok bool) {
	tokens, ok = m.requestDefs[name]
	return
}

// PolicyTokens returns the ordered token list for a policy definition,
// including a trailing "eft" token when the definition declares one.
func (m *Model) PolicyTokens(name string) (tokens []string, ok bool) {
	tokens, ok = m.policyDefs[name]
	return
}

// RoleArity returns the arity of a role (grouping) definition: 2 for a
// plain user/role edge, 3 for a domain-scoped edge. ok is false when name
// is undefined.
func (m *Model) RoleArity(name string) (arity int, ok bool) {
	tokens, found := m.roleDefs[name]
	if !found {
		return 0, false
	}
	return len(tokens), true
}

// RoleNames returns the names of every declared role (grouping) definition,
// sorted for deterministic iteration (e.g. "g", "g2").
func (m *Model) RoleNames() []string {
	names := make([]string, 0, len(m.roleDefs))
	for name := range m.roleDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestNames returns the names of every declared request definition.
func (m *Model) RequestNames() []string {
	names := make([]string, 0, len(m.requestDefs))
	for name := range m.requestDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PolicyNames returns the names of every declared policy definition.
func (m *Model) PolicyNames() []string {
	names := make([]string, 0, len(m.policyDefs))
	for name := range m.policyDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Effect returns the aggregator expression for the named effect section
// (conventionally "e"). It is a plain lookup by name; see DefaultEffect
// for the single-effect fallback.
func (m *Model) Effect(name string) (expr string, ok bool) {
	expr, ok = m.effects[name]
	return
}

// DefaultEffect returns the sole effect expression when exactly one is
// declared, which is the overwhelmingly common case.
func (m *Model) DefaultEffect() (expr string, ok bool) {
	if len(m.effects) == 1 {
		for _, v := range m.effects {
			return v, true
		}
	}
	expr, ok = m.effects["e"]
	return
}

// EffectMode classifies an effect-aggregator expression into one of the
// four fixed forms §3 allows, so the enforcement pipeline can switch on a
// comparable value instead of re-parsing the expression on every request.
type EffectMode int

const (
	// EffectModeUnknown marks an unrecognised expression; parsing rejects
	// these before a Model is ever returned, so callers should not see it.
	EffectModeUnknown EffectMode = iota
	// EffectModeSomeAllow is "some(where (p.eft == allow))".
	EffectModeSomeAllow
	// EffectModeNoDeny is "!some(where (p.eft == deny))".
	EffectModeNoDeny
	// EffectModeAllowAndNoDeny is the conjunction of the two above.
	EffectModeAllowAndNoDeny
	// EffectModePriority is "priority(p.eft) || deny".
	EffectModePriority
)

// ModeOf classifies an effect expression. Parsing guarantees the string is
// one of the four recognised forms, so this never returns EffectModeUnknown
// for a Model obtained through ParseFile/ParseString.
func ModeOf(expr string) EffectMode {
	switch strings.TrimSpace(expr) {
	case "some(where (p.eft == allow))":
		return EffectModeSomeAllow
	case "!some(where (p.eft == deny))":
		return EffectModeNoDeny
	case "some(where (p.eft == allow)) && !some(where (p.eft == deny))":
		return EffectModeAllowAndNoDeny
	case "priority(p.eft) || deny":
		return EffectModePriority
	default:
		return EffectModeUnknown
	}
}

// Matcher returns the matcher expression for the named matcher section
// (conventionally "m").
func (m *Model) Matcher(name string) (expr string, ok bool) {
	expr, ok = m.matchers[name]
	return
}

// DefaultMatcher returns the sole matcher expression when exactly one is
// declared.
func (m *Model) DefaultMatcher() (expr string, ok bool) {
	if len(m.matchers) == 1 {
		for _, v := range m.matchers {
			return v, true
		}
	}
	expr, ok = m.matchers["m"]
	return
}

// HasRoles reports whether the model declares any role_definition section.
func (m *Model) HasRoles() bool {
	return len(m.roleDefs) > 0
}

// ParseError describes a malformed model configuration.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("model: line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("model: %s", e.Reason)
}

func splitTokens(value string) []string {
	parts := strings.Split(value, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		tokens = append(tokens, strings.TrimSpace(p))
	}
	return tokens
}
