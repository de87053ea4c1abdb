// Package fileadapter persists policies as a CSV-like text file: one
// rule per line, comma-separated, the first field naming the policy
// type ("p", "g", "p2", ...). It implements adapter.Loader and
// adapter.Saver only -- a plain file has no efficient incremental or
// filtered story, so the engine falls back to full load/save around it.
package fileadapter

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/authz-engine/pdp/internal/adapter"
	"github.com/authz-engine/pdp/pkg/model"
)

// Adapter reads and writes a single policy file at Path.
type Adapter struct {
	Path   string
	logger *zap.Logger
}

// New returns a file Adapter rooted at path. A nil logger is replaced
// with a no-op one.
func New(path string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{Path: path, logger: logger}
}

var _ adapter.Loader = (*Adapter)(nil)
var _ adapter.Saver = (*Adapter)(nil)

// LoadPolicy reads every rule line from Path. m is unused (the file
// format carries no type information beyond the leading ptype field)
// but is accepted to satisfy adapter.Loader.
func (a *Adapter) LoadPolicy(m *model.Model) (adapter.PolicySet, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("fileadapter: opening %s: %w", a.Path, err)
	}
	defer f.Close()

	policies := make(adapter.PolicySet)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitCSVLine(line)
		if len(fields) < 2 {
			a.logger.Warn("fileadapter: skipping malformed line",
				zap.String("path", a.Path), zap.Int("line", lineNo))
			continue
		}
		ptype := fields[0]
		rule := fields[1:]
		policies[ptype] = append(policies[ptype], rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fileadapter: reading %s: %w", a.Path, err)
	}
	return policies, nil
}

// SavePolicy overwrites Path with policies, one rule per line, policy
// types in sorted order for a deterministic diff-friendly file.
func (a *Adapter) SavePolicy(policies adapter.PolicySet) error {
	f, err := os.Create(a.Path)
	if err != nil {
		return fmt.Errorf("fileadapter: creating %s: %w", a.Path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	ptypes := make([]string, 0, len(policies))
	for ptype := range policies {
		ptypes = append(ptypes, ptype)
	}
	sort.Strings(ptypes)

	for _, ptype := range ptypes {
		for _, rule := range policies[ptype] {
			line := append([]string{ptype}, rule...)
			if _, err := fmt.Fprintln(w, strings.Join(line, ", ")); err != nil {
				return fmt.Errorf("fileadapter: writing %s: %w", a.Path, err)
			}
		}
	}
	return w.Flush()
}

func splitCSVLine(line string) []string {
	parts := strings.Split(line, ",")
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = strings.TrimSpace(p)
	}
	return fields
}
