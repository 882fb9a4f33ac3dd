package scan

import (
	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/internal/textmatch"
	"github.com/hazyhaar/expscope/signature"
)

// scanTool applies a tag manager or analytics signature to the page
// source. The first pattern with a non-incidental match wins, provided
// the page-level validator accepts the source. Matches in a <script src>
// are the tool's own loader and count.
func scanTool(t signature.Tool, src string) (finding.DetectionRecord, bool) {
	validated, valid := false, false
	for _, re := range t.Patterns {
		if !genuineLoader(textmatch.Find(re, src), src) {
			continue
		}
		if !validated {
			valid = t.Validate == nil || t.Validate.Validate(src)
			validated = true
		}
		if !valid {
			return finding.DetectionRecord{}, false
		}
		return finding.DetectionRecord{
			Name:           t.Name,
			Category:       t.Category,
			EvidenceKind:   finding.EvidenceScriptPattern,
			EvidenceSource: re.String(),
		}, true
	}
	return finding.DetectionRecord{}, false
}

// scanPlatform applies a platform name pattern to the rendered text, then
// to the source. Platform patterns are narrow enough to need no validator.
func scanPlatform(p signature.Platform, text, src string) (finding.DetectionRecord, bool) {
	for _, in := range []struct{ where, s string }{{"text", text}, {"source", src}} {
		if !genuine(textmatch.Find(p.Pattern, in.s), in.s) {
			continue
		}
		return finding.DetectionRecord{
			Name:           p.Key,
			EvidenceKind:   finding.EvidencePattern,
			EvidenceSource: p.Pattern.String(),
			Details:        map[string]any{"matchedIn": in.where},
		}, true
	}
	return finding.DetectionRecord{}, false
}

func genuine(ms []textmatch.Match, text string) bool {
	for _, m := range ms {
		if !textmatch.IsIncidental(text, m.Start, m.End) {
			return true
		}
	}
	return false
}

func genuineLoader(ms []textmatch.Match, text string) bool {
	for _, m := range ms {
		if !textmatch.IsIncidentalLoader(text, m.Start, m.End) {
			return true
		}
	}
	return false
}
