package signature

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/expscope/internal/textmatch"
)

// Validator decides whether a text blob carries enough evidence for a
// signature. Implementations are pure functions of the text.
type Validator interface {
	Validate(text string) bool
}

// AnyOf is the binary validator: the text must contain at least one of
// the literals verbatim.
type AnyOf []string

// Validate implements Validator.
func (a AnyOf) Validate(text string) bool {
	for _, lit := range a {
		if strings.Contains(text, lit) {
			return true
		}
	}
	return false
}

// Indicator is one weighted check of a Scored validator. Exactly one of
// Literal and Pattern is set.
type Indicator struct {
	Literal string
	Pattern *regexp.Regexp
	Weight  float64
}

// Lit builds a literal indicator.
func Lit(s string, weight float64) Indicator { return Indicator{Literal: s, Weight: weight} }

// Re builds a pattern indicator.
func Re(expr string, weight float64) Indicator {
	return Indicator{Pattern: regexp.MustCompile(expr), Weight: weight}
}

// Matches reports whether the indicator is present in text.
func (i Indicator) Matches(text string) bool {
	if i.Pattern != nil {
		return textmatch.Contains(i.Pattern, text)
	}
	return i.Literal != "" && strings.Contains(text, i.Literal)
}

// String returns the literal or the pattern source.
func (i Indicator) String() string {
	if i.Pattern != nil {
		return i.Pattern.String()
	}
	return i.Literal
}

// Scored is the weighted validator. The text is accepted when the summed
// weight of present indicators reaches Threshold, or when any Strong
// indicator is present on its own.
type Scored struct {
	Indicators []Indicator
	Threshold  float64
	Strong     []Indicator
}

// Score sums the weights of the indicators present in text. Weights are
// non-negative so adding text never lowers the score.
func (s Scored) Score(text string) float64 {
	var total float64
	for _, ind := range s.Indicators {
		if ind.Matches(text) {
			total += ind.Weight
		}
	}
	return total
}

// StrongHit returns the first strong indicator present in text.
func (s Scored) StrongHit(text string) (Indicator, bool) {
	for _, ind := range s.Strong {
		if ind.Matches(text) {
			return ind, true
		}
	}
	return Indicator{}, false
}

// Validate implements Validator.
func (s Scored) Validate(text string) bool {
	if s.Score(text) >= s.Threshold {
		return true
	}
	_, ok := s.StrongHit(text)
	return ok
}
