package scan

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/internal/jsonlit"
	"github.com/hazyhaar/expscope/internal/textmatch"
	"github.com/hazyhaar/expscope/signature"
)

// extraction runs the inline-script extractors of one scan.
type extraction struct {
	reg *signature.Registry
	acc *finding.Accumulator
}

var (
	variationField = regexp.MustCompile(`(?i)["'](?:variation(?:Name|Key|Id)?|variant(?:Name|Key|Id)?|group|treatment|value)["']\s*:\s*["']([^"']+)["']`)
	eppoDefault    = regexp.MustCompile(`default_?value["']\s*:\s*([^,}\s]+)`)
	eppoProps      = regexp.MustCompile(`user_?properties["']\s*:\s*(\{[^}]+\})`)
)

// script runs every accepting platform extractor over body, then the
// generic field patterns. Running it twice over the same body adds
// nothing the second time.
func (x *extraction) script(body string) error {
	var errs []error
	for _, ex := range x.reg.Extractors() {
		if !textmatch.Contains(ex.Pattern, body) {
			continue
		}
		if ex.Validate != nil && !ex.Validate.Validate(body) {
			continue
		}
		if err := x.extract(ex, body); err != nil {
			errs = append(errs, err)
		}
	}
	for _, gp := range x.reg.GenericPatterns() {
		for _, m := range textmatch.Find(gp.Pattern, body) {
			x.generic(gp.Type, m, body)
		}
	}
	return errors.Join(errs...)
}

func (x *extraction) generic(typ finding.ExperimentType, m textmatch.Match, body string) {
	id := m.Group(1)
	if id == "" || x.acc.HasExperiment(id) {
		return
	}
	variation := associatedVariation(body, id, m)

	platform, key := "Unknown", ""
	for _, p := range x.reg.Platforms() {
		if textmatch.HasGenuine(body, p.Key) {
			platform, key = p.Display, p.Key
			break
		}
	}
	if key == "eppo" {
		variation = eppoVariation(body, variation)
	}

	x.acc.AddExperiment(finding.ExperimentRecord{
		Platform:              platform,
		ID:                    id,
		Name:                  finding.Humanize(id, "_-"),
		Variation:             variation,
		Type:                  typ,
		IdentificationMethods: x.methodsOf(key),
	})
}

// associatedVariation finds the variation of a generic hit: a value keyed
// by the identifier itself, else the nearest variation field inside the
// same object literal, else "Active".
func associatedVariation(body, id string, m textmatch.Match) string {
	keyed := regexp.MustCompile(`(?i)["']` + regexp.QuoteMeta(id) + `["']\s*:\s*["']([^"']+)["']`)
	if v, ok := textmatch.First(keyed, body); ok {
		return v.Group(1)
	}
	if obj, off, ok := enclosingObject(body, m.Start); ok {
		best, bestDist := "", -1
		for _, f := range textmatch.Find(variationField, obj) {
			start, end := f.Start+off, f.End+off
			if start < m.End && end > m.Start {
				continue // the hit itself
			}
			dist := start - m.End
			if end <= m.Start {
				dist = m.Start - end
			}
			if bestDist < 0 || dist < bestDist {
				best, bestDist = f.Group(1), dist
			}
		}
		if best != "" {
			return best
		}
	}
	return finding.VariationActive
}

// enclosingObject returns the innermost object literal of body that
// contains pos, with its offset.
func enclosingObject(body string, pos int) (string, int, bool) {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch body[i] {
		case '}':
			depth++
		case '{':
			if depth > 0 {
				depth--
				continue
			}
			lit, ok := jsonlit.Cut(body, i)
			if !ok || i+len(lit) < pos {
				return "", 0, false
			}
			return lit, i, true
		}
	}
	return "", 0, false
}

// eppoVariation enriches a generic Eppo hit with the assignment default
// and the names of the subject properties.
func eppoVariation(body, variation string) string {
	if m, ok := textmatch.First(eppoDefault, body); ok {
		variation = "Default: " + m.Group(1)
	}
	if m, ok := textmatch.First(eppoProps, body); ok {
		if props, err := jsonlit.Object(m.Group(1)); err == nil {
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			variation += ", Properties: " + strings.Join(keys, ", ")
		}
	}
	return variation
}

// methodsOf returns the identification methods already attached to the
// detected platform key.
func (x *extraction) methodsOf(key string) []finding.IdentificationMethod {
	if key == "" {
		return nil
	}
	p, ok := x.acc.Platform(key)
	if !ok {
		return nil
	}
	return p.IdentificationMethods
}
