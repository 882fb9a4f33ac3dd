package probe

import (
	"context"

	"github.com/hazyhaar/expscope/finding"
)

// Convert probes Convert.com: its globals, the currentData object and the
// data-conv-* attributes it stamps on varied elements.
type Convert struct{}

func (Convert) Name() string { return "convert" }

func (Convert) Probe(ctx context.Context, env *Env) {
	env.check("convert/window", func() error {
		if !env.exists(ctx, "_conv_q") && !env.exists(ctx, "convert") {
			return nil
		}
		env.platform("convert", finding.EvidenceWindowObject, "window._conv_q or window.convert", nil)

		var exps map[string]map[string]any
		if ok, err := env.decode(ctx, "convert.currentData.experiments", &exps); !ok || err != nil {
			return err
		}
		for _, id := range sortedKeys(exps) {
			env.Acc.AddExperiment(convertRecord(id, exps[id]))
		}
		return nil
	})

	env.check("convert/dom", func() error {
		for _, el := range env.Doc.WithAttr("data-conv-variation") {
			id, _ := el.Attr("data-conv-experiment")
			if id == "" {
				continue
			}
			variation, _ := el.Attr("data-conv-variation")
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:  "Convert.com",
				ID:        id,
				Name:      "Experiment " + id,
				Variation: variation,
				Type:      finding.TypeExperiment,
			})
		}
		return nil
	})
}

func convertRecord(id string, exp map[string]any) finding.ExperimentRecord {
	return finding.ExperimentRecord{
		Platform:  "Convert.com",
		ID:        id,
		Name:      orDefault(field(exp, "name"), "Experiment "+id),
		Variation: field(exp, "variation_name"),
		Type:      finding.TypeExperiment,
	}
}

// ABTasty probes the AB Tasty tag.
type ABTasty struct{}

func (ABTasty) Name() string { return "abtasty" }

func (ABTasty) Probe(ctx context.Context, env *Env) {
	env.check("abtasty/window", func() error {
		if !env.exists(ctx, "_abtasty") && !env.exists(ctx, "ABTasty") {
			return nil
		}
		env.platform("abtasty", finding.EvidenceWindowObject, "window._abtasty or window.ABTasty", nil)

		var tests map[string]map[string]any
		if ok, err := env.call(ctx, "ABTasty.getTestsOnPage", &tests); !ok || err != nil {
			return err
		}
		for _, id := range sortedKeys(tests) {
			t := tests[id]
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:              "AB Tasty",
				ID:                    id,
				Name:                  orDefault(field(t, "name"), "Test "+id),
				Variation:             firstField(t, "variationName"),
				Type:                  finding.TypeExperiment,
				IdentificationMethods: methods("sdk"),
			})
		}
		return nil
	})
}
