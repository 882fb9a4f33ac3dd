package finding

import (
	"strings"
	"time"
)

// Accumulator is the scan-scoped mutable state shared by scanners and
// probers. It is not safe for concurrent use; a scan touches it from one
// goroutine only.
//
// Detection records are unique per name within their category and
// experiment records are unique per ID. The first record wins; later ones
// are dropped, never merged.
type Accumulator struct {
	platforms   []DetectionRecord
	tagManagers []DetectionRecord
	analytics   []DetectionRecord
	experiments []ExperimentRecord
	steps       []StepOutcome

	names map[Category]map[string]struct{}
	ids   map[string]struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		names: map[Category]map[string]struct{}{
			CategoryPlatform:   {},
			CategoryTagManager: {},
			CategoryAnalytics:  {},
		},
		ids: make(map[string]struct{}),
	}
}

// AddDetection stores rec in the list for its category. It returns false
// when a record with the same name already exists there.
func (a *Accumulator) AddDetection(rec DetectionRecord) bool {
	if rec.Name == "" {
		return false
	}
	seen, ok := a.names[rec.Category]
	if !ok {
		rec.Category = CategoryPlatform
		seen = a.names[CategoryPlatform]
	}
	if _, dup := seen[rec.Name]; dup {
		return false
	}
	seen[rec.Name] = struct{}{}
	switch rec.Category {
	case CategoryTagManager:
		a.tagManagers = append(a.tagManagers, rec)
	case CategoryAnalytics:
		a.analytics = append(a.analytics, rec)
	default:
		a.platforms = append(a.platforms, rec)
	}
	return true
}

// AddPlatform stores a platform detection.
func (a *Accumulator) AddPlatform(rec DetectionRecord) bool {
	rec.Category = CategoryPlatform
	return a.AddDetection(rec)
}

// AddTagManager stores a tag manager detection.
func (a *Accumulator) AddTagManager(rec DetectionRecord) bool {
	rec.Category = CategoryTagManager
	return a.AddDetection(rec)
}

// AddAnalytics stores an analytics tool detection.
func (a *Accumulator) AddAnalytics(rec DetectionRecord) bool {
	rec.Category = CategoryAnalytics
	return a.AddDetection(rec)
}

// HasPlatform reports whether a platform with this name was detected.
func (a *Accumulator) HasPlatform(name string) bool {
	_, ok := a.names[CategoryPlatform][name]
	return ok
}

// Platform looks up a detected platform by name, case-insensitively.
func (a *Accumulator) Platform(name string) (DetectionRecord, bool) {
	for _, p := range a.platforms {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return DetectionRecord{}, false
}

// PlatformNames returns the names of detected platforms in detection order.
func (a *Accumulator) PlatformNames() []string {
	out := make([]string, len(a.platforms))
	for i, p := range a.platforms {
		out[i] = p.Name
	}
	return out
}

// AnnotatePlatforms fills IdentificationMethods on platform records that
// have none, using identify. A nil result leaves the record untouched.
func (a *Accumulator) AnnotatePlatforms(identify func(name string) []IdentificationMethod) {
	for i := range a.platforms {
		if len(a.platforms[i].IdentificationMethods) > 0 {
			continue
		}
		if m := identify(a.platforms[i].Name); len(m) > 0 {
			a.platforms[i].IdentificationMethods = m
		}
	}
}

// AddExperiment stores rec unless its ID is empty or already present.
// A missing Name is derived from the ID and a missing Variation becomes
// "Unknown".
func (a *Accumulator) AddExperiment(rec ExperimentRecord) bool {
	if rec.ID == "" {
		return false
	}
	if _, dup := a.ids[rec.ID]; dup {
		return false
	}
	if rec.Name == "" {
		rec.Name = Humanize(rec.ID, "._-")
	}
	if rec.Variation == "" {
		rec.Variation = VariationUnknown
	}
	if rec.Type == "" {
		rec.Type = TypeExperiment
	}
	a.ids[rec.ID] = struct{}{}
	a.experiments = append(a.experiments, rec)
	return true
}

// HasExperiment reports whether an experiment with this ID was recorded.
func (a *Accumulator) HasExperiment(id string) bool {
	_, ok := a.ids[id]
	return ok
}

// Counts returns the number of detection and experiment records so far.
func (a *Accumulator) Counts() (detections, experiments int) {
	return len(a.platforms) + len(a.tagManagers) + len(a.analytics), len(a.experiments)
}

// Step runs fn, records its outcome and returns fn's error. The counts in
// the outcome are the records fn added.
func (a *Accumulator) Step(name string, fn func() error) error {
	d0, e0 := a.Counts()
	err := fn()
	d1, e1 := a.Counts()
	out := StepOutcome{Step: name, Detections: d1 - d0, Experiments: e1 - e0}
	if err != nil {
		out.Err = err.Error()
	}
	a.steps = append(a.steps, out)
	return err
}

// Report freezes the accumulated state. The returned report shares no
// slices with the accumulator.
func (a *Accumulator) Report(url string, at time.Time, keywords bool) *ScanReport {
	r := &ScanReport{
		URL:                   url,
		Timestamp:             at,
		Platforms:             append([]DetectionRecord{}, a.platforms...),
		TagManagers:           append([]DetectionRecord{}, a.tagManagers...),
		AnalyticsTools:        append([]DetectionRecord{}, a.analytics...),
		Experiments:           append([]ExperimentRecord{}, a.experiments...),
		HasExperimentKeywords: keywords,
		Diagnostics:           append([]StepOutcome{}, a.steps...),
	}
	if keywords && len(r.Platforms) == 0 {
		r.Note = AdvisoryNote
	}
	return r
}
