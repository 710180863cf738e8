package jobs

import (
	"sort"
	"strings"
)

// Template tokens.
const (
	TokenInput  = "%%%INPUT%%%"
	TokenOutput = "%%%OUTPUT%%%"
	TokenFasta  = "%%%FASTA%%%"
	TokenSpike  = "%%%SPIKE%%%"
)

// legacyTokens are historical spellings with a trailing extra percent sign.
// They are replaced before the canonical tokens so no stray '%' remains.
var legacyTokens = map[string]string{
	"%%%FASTA%%%%": TokenFasta,
	"%%%SPIKE%%%%": TokenSpike,
}

// TemplateValues carries the substitution values. Empty values are unavailable.
type TemplateValues struct {
	Input  string
	Output string
	Fasta  string
	Spike  string
}

func (v TemplateValues) byToken() map[string]string {
	return map[string]string{
		TokenInput:  v.Input,
		TokenOutput: v.Output,
		TokenFasta:  v.Fasta,
		TokenSpike:  v.Spike,
	}
}

// Render substitutes the closed token set into tmpl by literal replacement.
// Tokens whose value is unavailable are left in place and reported.
func Render(tmpl string, values TemplateValues) (string, []string) {
	byToken := values.byToken()
	out := tmpl

	legacy := make([]string, 0, len(legacyTokens))
	for token := range legacyTokens {
		legacy = append(legacy, token)
	}
	sort.Strings(legacy)
	for _, token := range legacy {
		if value := byToken[legacyTokens[token]]; value != "" {
			out = strings.ReplaceAll(out, token, value)
		}
	}

	var unresolved []string
	for _, token := range []string{TokenInput, TokenOutput, TokenFasta, TokenSpike} {
		value := byToken[token]
		if value == "" {
			if strings.Contains(out, token) {
				unresolved = append(unresolved, token)
			}
			continue
		}
		out = strings.ReplaceAll(out, token, value)
	}
	return out, unresolved
}
