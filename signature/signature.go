// Package signature holds the detection tables: platform name patterns,
// tag manager and analytics signatures, per-platform inline-script
// extractors, user-identification patterns and the generic experiment
// field patterns.
//
// A Registry is built once and never mutated. Every table is ordered; the
// order is part of the detection contract because the first record for a
// name or identifier wins.
package signature

import (
	"regexp"

	"github.com/hazyhaar/expscope/finding"
)

// Tool is a tag manager or analytics signature. A detection needs one
// surviving match of any pattern and a page-level Validate.
type Tool struct {
	Name     string
	Category finding.Category
	Patterns []*regexp.Regexp
	Validate Validator
}

// Platform is a word-boundary name pattern for one experimentation
// platform. Key is the detection record name; Display is the name used
// on experiment records.
type Platform struct {
	Key     string
	Display string
	Pattern *regexp.Regexp
}

// ExtractorKind selects how an extractor turns a script into records.
type ExtractorKind int

const (
	// ExtractRegexGroups reads identifier and variation straight from
	// capture groups.
	ExtractRegexGroups ExtractorKind = iota
	// ExtractDelimited reads "name:percentage:version" strings and SDK
	// call sites.
	ExtractDelimited
	// ExtractJSONAssignment decodes an object literal assigned to a
	// known name.
	ExtractJSONAssignment
)

func (k ExtractorKind) String() string {
	switch k {
	case ExtractRegexGroups:
		return "regex-groups"
	case ExtractDelimited:
		return "delimited"
	case ExtractJSONAssignment:
		return "json-assignment"
	}
	return "unknown"
}

// Extractor is the script-scoped signature of one platform. Pattern must
// match and Validate must accept the script body before Kind runs.
type Extractor struct {
	Platform string
	Display  string
	Kind     ExtractorKind
	Pattern  *regexp.Regexp
	Validate Validator
	Type     finding.ExperimentType

	// ExtractRegexGroups: the first non-empty group among IDGroups is the
	// identifier, VariationGroup (when > 0) the variation.
	IDGroups       []int
	VariationGroup int

	// ExtractJSONAssignment: Assignment matches up to the opening brace of
	// the literal. Container names the field holding the entries; empty
	// means the literal itself.
	Assignment     *regexp.Regexp
	Container      string
	NameField      string
	VariationField string

	// NameFormat builds the display name from the identifier when the
	// source carries none. Empty means finding.Humanize.
	NameFormat string
}

// UserIDPattern is one identification method of a platform. Only the
// hash method may keep its capture; every other match only records
// presence.
type UserIDPattern struct {
	Method  string
	Pattern *regexp.Regexp
}

// HashMethod is the identification method whose value may be captured.
const HashMethod = "hashMethod"

// GenericPattern is a quoted-key pattern whose first group is an
// identifier.
type GenericPattern struct {
	Type    finding.ExperimentType
	Pattern *regexp.Regexp
}

// Loader is a script URL fragment that betrays a platform loaded after
// the initial scan.
type Loader struct {
	Platform  string
	Fragments []string
	Source    string
}
