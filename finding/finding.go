// Package finding defines the value types produced by a scan: detection
// records, experiment records, per-step diagnostics and the final report.
//
// Every scan owns exactly one Accumulator. Scanners and probers write into it
// under the deduplication rules below and the pipeline freezes it into a
// ScanReport once the synchronous part of the scan is done.
package finding

import "time"

// Category groups detection records in the report.
type Category string

const (
	CategoryPlatform   Category = "platform"
	CategoryTagManager Category = "tag_manager"
	CategoryAnalytics  Category = "analytics"
)

// EvidenceKind says what kind of evidence produced a detection record.
type EvidenceKind string

const (
	EvidenceScriptPattern  EvidenceKind = "script-pattern"
	EvidencePattern        EvidenceKind = "pattern"
	EvidenceWindowObject   EvidenceKind = "window-object"
	EvidenceStorageKey     EvidenceKind = "storage-key"
	EvidenceDOMElement     EvidenceKind = "dom-element"
	EvidenceConfiguration  EvidenceKind = "configuration"
	EvidenceEventStream    EvidenceKind = "event-stream"
	EvidenceScriptTag      EvidenceKind = "script-tag"
	EvidenceStructuredData EvidenceKind = "structured-data"
	EvidenceDynamicScript  EvidenceKind = "dynamic-script"
)

// ExperimentType classifies an experiment record.
type ExperimentType string

const (
	TypeExperiment    ExperimentType = "experiment"
	TypeFeatureFlag   ExperimentType = "feature_flag"
	TypeFeatureGate   ExperimentType = "feature_gate"
	TypeTreatment     ExperimentType = "treatment"
	TypeConfiguration ExperimentType = "configuration"
	TypeVariant       ExperimentType = "variant"
)

// Default variation values used when a source carries no assignment.
const (
	VariationActive     = "Active"
	VariationUnknown    = "Unknown"
	VariationConfigured = "Configured"
)

// IdentificationMethod records that a randomization or user-identification
// strategy was observed. Identifier values are never captured; only the
// hash method name may be kept.
type IdentificationMethod struct {
	Type       string `json:"type"`
	Present    bool   `json:"present,omitempty"`
	HashMethod string `json:"hash_method,omitempty"`
}

// DetectionRecord is evidence that a named platform or tool is present.
type DetectionRecord struct {
	Name                  string                 `json:"name"`
	Category              Category               `json:"category"`
	EvidenceKind          EvidenceKind           `json:"evidence_kind"`
	EvidenceSource        string                 `json:"evidence_source"`
	Details               map[string]any         `json:"details,omitempty"`
	Note                  string                 `json:"note,omitempty"`
	IdentificationMethods []IdentificationMethod `json:"identification_methods,omitempty"`
}

// ExperimentRecord is one experiment, feature gate, flag or configuration
// entry together with its assigned variation.
type ExperimentRecord struct {
	Platform              string                 `json:"platform"`
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	Variation             string                 `json:"variation"`
	Type                  ExperimentType         `json:"type"`
	IdentificationMethods []IdentificationMethod `json:"identification_methods,omitempty"`
	Details               map[string]any         `json:"details,omitempty"`
	Forced                *bool                  `json:"forced,omitempty"`
}

// StepOutcome is the diagnostic trace of one pipeline step or probe check.
// Detections and Experiments count the records the step added.
type StepOutcome struct {
	Step        string `json:"step"`
	Detections  int    `json:"detections"`
	Experiments int    `json:"experiments"`
	Err         string `json:"error,omitempty"`
}

// OK reports whether the step completed without error.
func (s StepOutcome) OK() bool { return s.Err == "" }

// ScanReport is the immutable result of one scan.
type ScanReport struct {
	URL                   string             `json:"url"`
	Timestamp             time.Time          `json:"timestamp"`
	Platforms             []DetectionRecord  `json:"platforms"`
	TagManagers           []DetectionRecord  `json:"tag_managers"`
	AnalyticsTools        []DetectionRecord  `json:"analytics_tools"`
	Experiments           []ExperimentRecord `json:"experiments"`
	HasExperimentKeywords bool               `json:"has_experiment_keywords"`
	Note                  string             `json:"note,omitempty"`
	Diagnostics           []StepOutcome      `json:"diagnostics,omitempty"`
	LateDetections        []DetectionRecord  `json:"late_detections,omitempty"`
}

// AdvisoryNote is attached when experimentation vocabulary is present but
// no platform was identified.
const AdvisoryNote = "Experimentation keywords detected but no specific platform identified. " +
	"The site might be using a custom or client-side experimentation solution."

// Failed returns the diagnostics of steps that ended in error.
func (r *ScanReport) Failed() []StepOutcome {
	var out []StepOutcome
	for _, s := range r.Diagnostics {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// Experiment returns the experiment record with the given id.
func (r *ScanReport) Experiment(id string) (ExperimentRecord, bool) {
	for _, e := range r.Experiments {
		if e.ID == id {
			return e, true
		}
	}
	return ExperimentRecord{}, false
}

// Platform returns the platform detection record with the given name.
func (r *ScanReport) Platform(name string) (DetectionRecord, bool) {
	for _, p := range r.Platforms {
		if p.Name == name {
			return p, true
		}
	}
	return DetectionRecord{}, false
}
