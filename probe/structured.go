package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/expscope/finding"
)

// StructuredData reads experiment assignments that pages embed as JSON
// data blocks. The shape ({"test": ..., "group": ...}) is typical of
// server-side Eppo integrations but carries no vendor marker.
type StructuredData struct{}

func (StructuredData) Name() string { return "structured-data" }

const structuredPlatform = "Unknown (Possible Eppo)"

var structuredMarkers = []string{`"test"`, `"experiment"`, `"group"`, `"variant"`}

func (StructuredData) Probe(ctx context.Context, env *Env) {
	env.check("structured-data/json", func() error {
		added := 0
		var errs []error
		for i, s := range env.Doc.Scripts() {
			if s.Type != "application/json" || !containsAny(s.Body, structuredMarkers) {
				continue
			}
			var items []any
			if err := json.Unmarshal([]byte(s.Body), &items); err != nil {
				// Objects are not experiment lists; only broken arrays are errors.
				if strings.HasPrefix(strings.TrimSpace(s.Body), "[") {
					errs = append(errs, fmt.Errorf("script %d: %w", i, err))
				}
				continue
			}
			for _, it := range items {
				item, ok := it.(map[string]any)
				if !ok {
					continue
				}
				id := firstField(item, "test", "experiment")
				rec := finding.ExperimentRecord{
					Platform:  structuredPlatform,
					ID:        id,
					Name:      finding.Humanize(id, "_-"),
					Variation: firstField(item, "group", "variant", "variation"),
					Type:      finding.TypeExperiment,
				}
				if f, ok := item["forced"].(bool); ok {
					rec.Forced = &f
				}
				if id != "" && env.Acc.AddExperiment(rec) {
					added++
				}
			}
		}
		if added > 0 {
			env.Acc.AddPlatform(finding.DetectionRecord{
				Name:           "unknown",
				EvidenceKind:   finding.EvidenceStructuredData,
				EvidenceSource: "Experiment data structure detected",
				Note:           "Found structured experiment data. Possibly Eppo or similar platform.",
			})
		}
		return errors.Join(errs...)
	})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
