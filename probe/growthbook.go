package probe

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/expscope/finding"
)

// GrowthBook probes the GrowthBook SDK and its persisted assignments.
type GrowthBook struct{}

func (GrowthBook) Name() string { return "growthbook" }

func (GrowthBook) Probe(ctx context.Context, env *Env) {
	present := false
	env.check("growthbook/window", func() error {
		for _, g := range []string{"growthbook", "GrowthBook", "growthbookHelpers"} {
			if env.exists(ctx, g) {
				present = true
				env.platform("growthbook", finding.EvidenceWindowObject, "GrowthBook SDK", nil)
				return nil
			}
		}
		if env.Doc.HasID("growthbook-helpers") {
			present = true
			env.platform("growthbook", finding.EvidenceDOMElement, "GrowthBook SDK", nil)
		}
		return nil
	})
	if !present {
		return
	}

	env.check("growthbook/sdk", func() error {
		var active []map[string]any
		if ok, err := env.call(ctx, "growthbook.getActiveExperiments", &active); !ok || err != nil {
			return err
		}
		for _, exp := range active {
			id := field(exp, "key")
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:              "GrowthBook",
				ID:                    id,
				Name:                  id,
				Variation:             field(exp, "variation"),
				Type:                  finding.TypeExperiment,
				IdentificationMethods: methods("sdk"),
			})
		}
		return nil
	})

	env.check("growthbook/storage", func() error {
		keys, err := env.storageKeys(ctx, func(k string) bool {
			return strings.Contains(k, "growthbook") || strings.Contains(k, "gb-")
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
			for _, id := range sortedKeys(data) {
				variation := finding.Stringify(data[id])
				if m, isObj := data[id].(map[string]any); isObj {
					variation = field(m, "variation")
				}
				env.Acc.AddExperiment(finding.ExperimentRecord{
					Platform:              "GrowthBook",
					ID:                    id,
					Name:                  id,
					Variation:             variation,
					Type:                  finding.TypeExperiment,
					IdentificationMethods: methods("localStorage"),
				})
			}
		}
		return errors.Join(errs...)
	})
}
