package scan

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/internal/jsonlit"
	"github.com/hazyhaar/expscope/internal/textmatch"
	"github.com/hazyhaar/expscope/signature"
)

// extract runs one platform extractor over a script body that its
// pattern and validator already accepted.
func (x *extraction) extract(ex signature.Extractor, body string) error {
	switch ex.Kind {
	case signature.ExtractRegexGroups:
		x.regexGroups(ex, body)
		return nil
	case signature.ExtractDelimited:
		x.delimited(ex, body)
		return nil
	case signature.ExtractJSONAssignment:
		return x.jsonAssignment(ex, body)
	}
	return fmt.Errorf("%s: unknown extractor kind %d", ex.Platform, ex.Kind)
}

func (x *extraction) regexGroups(ex signature.Extractor, body string) {
	for _, m := range textmatch.Find(ex.Pattern, body) {
		id := ""
		for _, g := range ex.IDGroups {
			if id = m.Group(g); id != "" {
				break
			}
		}
		if id == "" {
			continue
		}
		variation := ""
		if ex.VariationGroup > 0 {
			variation = m.Group(ex.VariationGroup)
		}
		x.add(ex, id, "", variation, ex.Type)
	}
}

// Statsig pattern groups.
const (
	statsigName = 1 + iota
	statsigPercent
	statsigVersion
	statsigGate
	statsigExperiment
)

func (x *extraction) delimited(ex signature.Extractor, body string) {
	for _, m := range textmatch.Find(ex.Pattern, body) {
		switch {
		case m.Group(statsigName) != "":
			name := m.Group(statsigName)
			variation := fmt.Sprintf("%s%% Rollout (v%s)", m.Group(statsigPercent), m.Group(statsigVersion))
			x.add(ex, name, finding.SplitCamel(name), variation, ex.Type)
		case m.Group(statsigGate) != "":
			x.add(ex, m.Group(statsigGate), "", "", finding.TypeFeatureGate)
		case m.Group(statsigExperiment) != "":
			x.add(ex, m.Group(statsigExperiment), "", "", finding.TypeExperiment)
		}
	}
}

func (x *extraction) jsonAssignment(ex signature.Extractor, body string) error {
	if ex.Assignment == nil {
		return nil
	}
	var errs []error
	for _, loc := range ex.Assignment.FindAllStringIndex(body, -1) {
		lit, ok := jsonlit.After(body, loc[1])
		if !ok {
			continue
		}
		obj, err := jsonlit.Object(lit)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ex.Platform, err))
			continue
		}
		entries := obj
		if ex.Container != "" {
			entries, _ = obj[ex.Container].(map[string]any)
		}
		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			entry, _ := entries[id].(map[string]any)
			name, _ := entry[ex.NameField].(string)
			variation := finding.Stringify(entry[ex.VariationField])
			x.add(ex, id, name, variation, ex.Type)
		}
	}
	return errors.Join(errs...)
}

// add records one extractor hit. name falls back to NameFormat, then to
// the humanized identifier.
func (x *extraction) add(ex signature.Extractor, id, name, variation string, typ finding.ExperimentType) {
	if name == "" && ex.NameFormat != "" {
		name = fmt.Sprintf(ex.NameFormat, id)
	}
	x.acc.AddExperiment(finding.ExperimentRecord{
		Platform:              ex.Display,
		ID:                    id,
		Name:                  name,
		Variation:             variation,
		Type:                  typ,
		IdentificationMethods: x.methodsOf(ex.Platform),
	})
}
