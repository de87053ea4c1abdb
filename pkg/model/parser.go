package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFile parses a model configuration from disk.
func ParseFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

// ParseString parses a model configuration held in memory. File and string
// forms share the same grammar and are semantically interchangeable.
func ParseString(text string) (*Model, error) {
	return parse(strings.NewReader(text))
}

// parse implements the shared INI-like grammar described by the model
// configuration format: "[section]" headers, "key = value" assignments,
// "#" comments, blank lines ignored, surrounding whitespace trimmed.
func parse(r io.Reader) (*Model, error) {
	m := newModel()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	section := ""
	lineNo := 0
	sectionSeen := map[string]bool{}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if !isKnownSection(name) {
				return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("unknown section %q", name)}
			}
			section = name
			sectionSeen[name] = true
			continue
		}

		if section == "" {
			return nil, &ParseError{Line: lineNo, Reason: "assignment outside of any section"}
		}

		key, value, ok := splitAssignment(line)
		if !ok {
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("malformed assignment %q", line)}
		}

		if err := m.assign(section, key, value); err != nil {
			return nil, &ParseError{Line: lineNo, Reason: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("model: scan: %w", err)
	}

	for _, required := range requiredSections {
		if !sectionSeen[required] {
			return nil, &ParseError{Reason: fmt.Sprintf("missing required section [%s]", required)}
		}
	}
	if len(m.matchers) == 0 {
		return nil, &ParseError{Reason: "matchers section has no entries"}
	}
	if len(m.effects) == 0 {
		return nil, &ParseError{Reason: "policy_effect section has no entries"}
	}
	if len(m.requestDefs) == 0 {
		return nil, &ParseError{Reason: "request_definition section has no entries"}
	}
	if len(m.policyDefs) == 0 {
		return nil, &ParseError{Reason: "policy_definition section has no entries"}
	}

	return m, nil
}

func isKnownSection(name string) bool {
	switch name {
	case SectionRequestDefinition, SectionPolicyDefinition, SectionRoleDefinition,
		SectionPolicyEffect, SectionMatchers:
		return true
	default:
		return false
	}
}

// splitAssignment splits "key = value" on the first '=', trimming
// whitespace around both sides. Values are stored verbatim beyond that
// trim -- no escape processing is performed.
func splitAssignment(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// assign stores a key/value pair under the given section. Duplicate keys
// within a section take the last assignment, which is what makes hot
// reload deterministic.
func (m *Model) assign(section, key, value string) error {
	switch section {
	case SectionRequestDefinition:
		m.requestDefs[key] = splitTokens(value)
	case SectionPolicyDefinition:
		m.policyDefs[key] = splitTokens(value)
	case SectionRoleDefinition:
		m.roleDefs[key] = splitTokens(value)
	case SectionPolicyEffect:
		if err := validateEffectExpr(value); err != nil {
			return err
		}
		m.effects[key] = value
	case SectionMatchers:
		m.matchers[key] = value
	default:
		return fmt.Errorf("unknown section %q", section)
	}
	order := m.order[section]
	found := false
	for _, k := range order {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		m.order[section] = append(order, key)
	}
	return nil
}

func validateEffectExpr(expr string) error {
	switch strings.TrimSpace(expr) {
	case "some(where (p.eft == allow))",
		"!some(where (p.eft == deny))",
		"some(where (p.eft == allow)) && !some(where (p.eft == deny))",
		"priority(p.eft) || deny":
		return nil
	default:
		return fmt.Errorf("unrecognised policy_effect expression %q", expr)
	}
}
