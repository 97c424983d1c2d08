// Package moderation is the content policy hook applied to message text before it is stored.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Policy rewrites or rejects message content.
type Policy interface {
	Apply(content string) (string, error)
}

// Filter censors blocked words with a replacement rune. Matching ignores case,
// punctuation, spacing and common leet substitutions ("b.4.d" matches "bad").
type Filter struct {
	matcher *goahocorasick.Machine
	mask    rune
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

// NewFilter builds the automaton over the normalised blocked words.
// With no usable words the filter passes content through unchanged.
func NewFilter(blocked []string, mask rune) (*Filter, error) {
	patterns := make([][]rune, 0, len(blocked))
	for _, w := range blocked {
		if p := normalizeRunes([]rune(w)); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	f := &Filter{mask: mask}
	if len(patterns) == 0 {
		return f, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	f.matcher = m
	return f, nil
}

func (f *Filter) Apply(content string) (string, error) {
	return f.Censor(content), nil
}

// Censor replaces every rune of a matched word, including the noise between its letters.
func (f *Filter) Censor(original string) string {
	if f.matcher == nil {
		return original
	}
	mapping := normalize(original)
	if len(mapping.normalized) == 0 {
		return original
	}
	spans := f.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return original
	}

	out := []rune(original)
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(mapping.origIdx) {
			continue
		}
		for i := mapping.origIdx[start]; i <= mapping.origIdx[end-1]; i++ {
			out[i] = f.mask
		}
	}
	return string(out)
}

func normalize(input string) textMapping {
	orig := []rune(input)
	tm := textMapping{
		normalized: make([]rune, 0, len(orig)),
		origIdx:    make([]int, 0, len(orig)),
	}
	for i, r := range orig {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		tm.normalized = append(tm.normalized, unicode.ToLower(clean))
		tm.origIdx = append(tm.origIdx, i)
	}
	return tm
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps leet characters back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	}
	return r
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}

// Nop passes content through.
type Nop struct{}

func (Nop) Apply(content string) (string, error) { return content, nil }
