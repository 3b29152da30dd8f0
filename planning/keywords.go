package planning

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/GoCodeAlone/agentcore/core"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true,
	"from": true, "that": true, "this": true,
}

// Fold case-folds s for keyword comparisons. Casers are stateful, so each
// call builds its own.
func Fold(s string) string { return cases.Fold().String(s) }

// Keywords returns the case-folded words of text longer than three
// characters, with surrounding punctuation and stopwords removed.
func Keywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(Fold(text)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(w)) <= 3 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Relevance counts keyword pairs where either word contains the other.
func Relevance(goalText, capText string) int {
	capKw := Keywords(capText)
	score := 0
	for _, g := range Keywords(goalText) {
		for _, c := range capKw {
			if strings.Contains(c, g) || strings.Contains(g, c) {
				score++
			}
		}
	}
	return score
}

// overlaps reports whether any goal keyword occurs inside a capability keyword.
func overlaps(goalKw, capKw []string) bool {
	for _, g := range goalKw {
		for _, c := range capKw {
			if strings.Contains(c, g) {
				return true
			}
		}
	}
	return false
}

// Relevant returns the capabilities whose name or description shares a
// keyword with text, most relevant first. Ties keep declaration order.
func Relevant(text string, caps []core.Capability) []core.Capability {
	goalKw := Keywords(text)
	type ranked struct {
		c     core.Capability
		score int
	}
	var hits []ranked
	for _, c := range caps {
		capText := c.Name + " " + c.Description
		if !overlaps(goalKw, Keywords(capText)) {
			continue
		}
		hits = append(hits, ranked{c: c, score: Relevance(text, capText)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]core.Capability, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out
}
