package probe

import (
	"context"
	"regexp"
	"strings"

	"github.com/hazyhaar/expscope/finding"
)

// Optimizely probes, in order, a site-level tracking configuration, the
// SDK datafile, the SDK state, the GTM dataLayer and loader script tags.
type Optimizely struct{}

func (Optimizely) Name() string { return "optimizely" }

var projectIDRe = regexp.MustCompile(`/(\d+)\.js$`)

func (Optimizely) Probe(ctx context.Context, env *Env) {
	env.check("optimizely/config", func() error {
		var cfg map[string]any
		if ok, err := env.decode(ctx, "ICEBERG.trackingConfig.OPTIMIZELY", &cfg); !ok || err != nil {
			return err
		}
		src, _ := cfg["optimizelySrc"].(string)
		if !isTruthy(cfg["active"]) || src == "" {
			return nil
		}
		env.platform("optimizely", finding.EvidenceConfiguration, "ICEBERG configuration", map[string]any{
			"src":            src,
			"enabled":        cfg["optimizelyEnabled"],
			"navigationTest": cfg["optimizelyNavigationTestActive"],
		})
		if m := projectIDRe.FindStringSubmatch(src); m != nil {
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:  "Optimizely",
				ID:        m[1],
				Name:      "Optimizely Project",
				Variation: finding.VariationActive,
				Type:      finding.TypeConfiguration,
				Details: map[string]any{
					"navigationTestActive": cfg["optimizelyNavigationTestActive"],
					"contentPageEnabled":   cfg["optimizelyContentPageEnabled"],
					"eventPageEnabled":     cfg["optimizelyEventPageEnabled"],
				},
			})
		}
		return nil
	})

	// The snippet finishes initialising asynchronously.
	sleep(ctx, env.InitDelay)

	env.check("optimizely/datafile", func() error {
		var data struct {
			Experiments map[string]map[string]any `json:"experiments"`
		}
		if ok, err := env.call(ctx, "optimizely.get", &data, "data"); !ok || err != nil {
			return err
		}
		for _, id := range sortedKeys(data.Experiments) {
			exp := data.Experiments[id]
			variations, _ := exp["variations"].(map[string]any)
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:  "Optimizely",
				ID:        id,
				Name:      orDefault(field(exp, "name"), "Experiment "+id),
				Variation: finding.VariationConfigured,
				Type:      finding.TypeExperiment,
				Details: map[string]any{
					"status":      exp["status"],
					"audienceIds": exp["audienceIds"],
					"variations":  sortedKeys(variations),
				},
			})
		}
		return nil
	})

	env.check("optimizely/window", func() error {
		if !env.exists(ctx, "optimizely") {
			return nil
		}
		env.platform("optimizely", finding.EvidenceWindowObject, "window.optimizely", nil)

		var states map[string]map[string]any
		if ok, err := env.call(ctx, `optimizely.get("state").getExperimentStates`, &states); !ok || err != nil {
			return err
		}
		for _, id := range sortedKeys(states) {
			st := states[id]
			variation := field(st, "variation")
			if v, isObj := st["variation"].(map[string]any); isObj {
				variation = firstField(v, "name", "id")
			}
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:  "Optimizely",
				ID:        id,
				Name:      orDefault(field(st, "experimentName"), "Experiment "+id),
				Variation: variation,
				Type:      finding.TypeExperiment,
			})
		}
		return nil
	})

	env.check("optimizely/datalayer", func() error {
		var raw any
		if ok, err := env.decode(ctx, "dataLayer", &raw); !ok || err != nil {
			return err
		}
		layer, _ := raw.([]any)
		var events []map[string]any
		for _, item := range layer {
			ev, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := ev["event"].(string)
			if isTruthy(ev["optimizely_experiment_id"]) || isTruthy(ev["optimizely_variation_id"]) ||
				strings.Contains(name, "optimizely") {
				events = append(events, ev)
			}
		}
		if len(events) == 0 {
			return nil
		}
		env.platform("optimizely", finding.EvidenceEventStream, "GTM dataLayer", nil)
		for _, ev := range events {
			id := field(ev, "optimizely_experiment_id")
			if id == "" {
				continue
			}
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:  "Optimizely",
				ID:        id,
				Name:      orDefault(field(ev, "optimizely_experiment_name"), "Experiment "+id),
				Variation: field(ev, "optimizely_variation_name"),
				Type:      finding.TypeExperiment,
			})
		}
		return nil
	})

	env.check("optimizely/script", func() error {
		for _, s := range env.Doc.Scripts() {
			if strings.Contains(s.Src, "optimizely") {
				env.platform("optimizely", finding.EvidenceScriptTag, "script tag", map[string]any{"src": s.Src})
				break
			}
		}
		return nil
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// isTruthy applies JavaScript truthiness to a decoded JSON value.
func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}
