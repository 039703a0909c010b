package graph

import "strings"

// legalSuffixes are corporate-form tokens stripped from the end of a
// party name during normalization. Stripping is repeated so stacked
// suffixes ("Proprietary Limited") collapse fully.
var legalSuffixes = map[string]bool{
	"ltd": true, "limited": true,
	"pty": true, "proprietary": true,
	"inc": true, "incorporated": true,
	"llc": true, "llp": true, "lp": true,
	"plc": true, "pllc": true,
	"gmbh": true, "ag": true, "kg": true,
	"bv": true, "nv": true, "sa": true, "sarl": true, "srl": true,
	"corp": true, "corporation": true,
	"co": true, "company": true,
}

// NormalizeName canonicalizes a party name for identity matching:
// case-folded, punctuation removed, trailing legal-form suffixes
// stripped. "Acme (Pty) Ltd" and "Acme Proprietary Limited" both
// normalize to "acme".
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '-', r == '_':
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
