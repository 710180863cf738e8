package detect

import (
	"path/filepath"
	"strings"

	"quacwatch/internal/config"
	"quacwatch/internal/ledger"
)

// Target is a resolved watch target.
type Target struct {
	ID       string
	Input    string
	Output   string
	Pattern  string
	Patterns []string
}

// NewTarget resolves a configured watch target.
func NewTarget(cfg config.WatchTarget) Target {
	return Target{
		ID:       cfg.ID(),
		Input:    cfg.Input,
		Output:   cfg.Output,
		Pattern:  cfg.Pattern,
		Patterns: SplitPatterns(cfg.Pattern),
	}
}

// LedgerPath returns the location of the target's ledger file.
func (t Target) LedgerPath() string {
	return filepath.Join(t.Output, ledger.FileName)
}

// SplitPatterns splits a pattern string on ',', ';' and '|', trims and
// deduplicates the parts, and adds the ".d" sibling of every ".raw" pattern.
func SplitPatterns(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	patterns := make([]string, 0, len(parts)*2)
	seen := make(map[string]struct{}, len(parts)*2)
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		patterns = append(patterns, p)
	}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		add(part)
		if strings.HasSuffix(part, ".raw") {
			add(strings.TrimSuffix(part, ".raw") + ".d")
		}
	}
	return patterns
}

// matches reports whether name matches any of the patterns. Malformed
// patterns never match.
func matches(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// isAcquisitionDir reports whether a directory name denotes a ".d" acquisition.
func isAcquisitionDir(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".d")
}
