package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/expscope/finding"
)

// Statsig probes the Statsig client: gates through checkGate, experiments
// through getExperiment, and the bootstrap metadata object.
type Statsig struct{}

func (Statsig) Name() string { return "statsig" }

func (Statsig) Probe(ctx context.Context, env *Env) {
	present := false
	env.check("statsig/presence", func() error {
		if env.exists(ctx, "statsig") || env.exists(ctx, "__STATSIG_METADATA__") {
			present = true
			env.platform("statsig", finding.EvidenceWindowObject, "window.statsig", nil)
			return nil
		}
		for _, key := range []string{"statsig_id", "statsig_stable_id"} {
			_, ok, err := env.Page.Storage().Item(ctx, key)
			if err != nil {
				return fmt.Errorf("storage %s: %w", key, err)
			}
			if ok {
				present = true
				env.platform("statsig", finding.EvidenceStorageKey, "localStorage", nil)
				return nil
			}
		}
		return nil
	})
	if !present {
		return
	}

	env.check("statsig/gates", func() error {
		if !env.exists(ctx, "statsig.checkGate") {
			return nil
		}
		var gates map[string]any
		if _, err := env.decode(ctx, "statsig._gates", &gates); err != nil {
			return err
		}
		var errs []error
		for _, name := range sortedKeys(gates) {
			if env.Acc.HasExperiment(name) {
				continue
			}
			raw, err := env.Page.Runtime().Call(ctx, "statsig.checkGate", name)
			if err != nil {
				errs = append(errs, fmt.Errorf("checkGate %s: %w", name, err))
				continue
			}
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:              "Statsig",
				ID:                    name,
				Variation:             fmt.Sprint(truthy(raw)),
				Type:                  finding.TypeFeatureGate,
				IdentificationMethods: methods("sdk"),
			})
		}
		return errors.Join(errs...)
	})

	env.check("statsig/experiments", func() error {
		if !env.exists(ctx, "statsig.getExperiment") {
			return nil
		}
		var exps map[string]any
		if _, err := env.decode(ctx, "statsig._experiments", &exps); err != nil {
			return err
		}
		var errs []error
		for _, name := range sortedKeys(exps) {
			if env.Acc.HasExperiment(name) {
				continue
			}
			var exp map[string]any
			if _, err := env.call(ctx, "statsig.getExperiment", &exp, name); err != nil {
				errs = append(errs, err)
				continue
			}
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:              "Statsig",
				ID:                    name,
				Variation:             field(exp, "value"),
				Type:                  finding.TypeExperiment,
				IdentificationMethods: methods("sdk"),
			})
		}
		return errors.Join(errs...)
	})

	env.check("statsig/metadata", func() error {
		var meta map[string]any
		if ok, err := env.decode(ctx, "__STATSIG_METADATA__", &meta); !ok || err != nil {
			return err
		}
		for _, key := range sortedKeys(meta) {
			switch meta[key].(type) {
			case map[string]any, []any:
			default:
				continue
			}
			env.Acc.AddExperiment(finding.ExperimentRecord{
				Platform:              "Statsig",
				ID:                    key,
				Variation:             finding.Stringify(meta[key]),
				Type:                  finding.TypeConfiguration,
				IdentificationMethods: methods("metadata"),
			})
		}
		return nil
	})
}
