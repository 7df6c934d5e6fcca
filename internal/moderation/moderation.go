// Package moderation masks denylisted terms in post text.
package moderation

import (
	"bytes"
	"strings"
)

// DefaultDenylist is the built-in list of masked terms.
var DefaultDenylist = []string{"bad", "stupid", "hate", "spam"}

// DefaultMask is the character each masked byte is replaced with.
const DefaultMask = '*'

// Filter masks denylisted terms in text.
//
// Matching is plain substring search, case-insensitive, with no word
// boundary check: "badge" is masked to "***ge". Masking preserves the
// length of the text, and a second pass over filtered text finds nothing
// as long as the mask character is not part of a denylisted term.
type Filter struct {
	terms [][]byte
	mask  byte
}

// NewFilter builds a filter for the given terms. Terms are matched
// case-insensitively; empty terms are ignored.
func NewFilter(terms []string, mask byte) *Filter {
	f := &Filter{mask: mask}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		f.terms = append(f.terms, lowerASCII([]byte(t)))
	}
	return f
}

// Apply returns text with every denylisted occurrence masked and whether
// anything changed.
func (f *Filter) Apply(text string) (string, bool) {
	if len(f.terms) == 0 || text == "" {
		return text, false
	}

	// Lower-casing ASCII only keeps byte offsets aligned between the
	// folded copy used for matching and the original.
	folded := lowerASCII([]byte(text))
	out := []byte(text)
	changed := false

	for _, term := range f.terms {
		for start := 0; start <= len(folded)-len(term); {
			i := bytes.Index(folded[start:], term)
			if i < 0 {
				break
			}
			pos := start + i
			for j := pos; j < pos+len(term); j++ {
				out[j] = f.mask
			}
			changed = true
			start = pos + len(term)
		}
	}

	if !changed {
		return text, false
	}
	return string(out), true
}

// Terms returns the configured terms in lower case.
func (f *Filter) Terms() []string {
	out := make([]string, len(f.terms))
	for i, t := range f.terms {
		out[i] = string(t)
	}
	return out
}

func lowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
