package probe

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/expscope/finding"
)

// Split probes the Split.io SDK, its persisted treatments and its loader
// script.
type Split struct{}

func (Split) Name() string { return "split" }

func isSplitScript(src string) bool {
	return strings.Contains(src, "split.io") || strings.Contains(src, "chunk-split")
}

func (Split) Probe(ctx context.Context, env *Env) {
	present := false
	env.check("split/window", func() error {
		if env.exists(ctx, "splitio") || env.exists(ctx, "split") {
			present = true
			env.platform("split", finding.EvidenceWindowObject, "Split.io SDK", nil)
			return nil
		}
		for _, s := range env.Doc.Scripts() {
			if isSplitScript(s.Src) {
				present = true
				env.platform("split", finding.EvidenceScriptTag, "Split.io SDK", nil)
				return nil
			}
		}
		return nil
	})
	if !present {
		return
	}

	env.check("split/sdk", func() error {
		var treatments map[string]any
		if ok, err := env.call(ctx, "splitio.factory.client().getTreatments", &treatments); !ok || err != nil {
			return err
		}
		for _, key := range sortedKeys(treatments) {
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:              "Split.io",
				ID:                    key,
				Variation:             finding.Stringify(treatments[key]),
				Type:                  finding.TypeExperiment,
				IdentificationMethods: methods("sdk"),
			})
		}
		return nil
	})

	env.check("split/storage", func() error {
		keys, err := env.storageKeys(ctx, func(k string) bool {
			return strings.Contains(k, "split") || strings.Contains(k, "SPLITIO")
		})
		if err != nil {
			return err
		}
		var errs []error
		for _, key := range keys {
			data, ok, err := env.storageObject(ctx, key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			treatments, _ := data["treatments"].(map[string]any)
			if treatments == nil {
				treatments, _ = data["splits"].(map[string]any)
			}
			for _, flag := range sortedKeys(treatments) {
				variation := finding.Stringify(treatments[flag])
				if m, isObj := treatments[flag].(map[string]any); isObj {
					variation = firstField(m, "treatment", "variant")
				}
				env.Acc.AddExperiment(finding.ExperimentRecord{
					Platform:              "Split.io",
					ID:                    flag,
					Variation:             variation,
					Type:                  finding.TypeFeatureFlag,
					IdentificationMethods: methods("localStorage"),
				})
			}
		}
		return errors.Join(errs...)
	})

	env.check("split/script", func() error {
		for _, s := range env.Doc.Scripts() {
			if !isSplitScript(s.Src) {
				continue
			}
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:  "Split.io",
				ID:        "split_configuration",
				Name:      "Split.io Configuration",
				Variation: finding.VariationActive,
				Type:      finding.TypeConfiguration,
				Details:   map[string]any{"scriptSource": s.Src},
			})
			break
		}
		return nil
	})
}
