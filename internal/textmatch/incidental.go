package textmatch

import (
	"regexp"
	"strings"
)

// marketingWindow is how far around an occurrence marketing vocabulary
// is looked for.
const marketingWindow = 50

// maxTagSpan bounds how far back a '<' may sit for an occurrence to count
// as being inside a tag. Inline scripts contain '<' comparisons.
const maxTagSpan = 2048

var marketingTerms = []string{
	"pricing",
	"competitor",
	"alternative",
	"comparison",
	"versus",
	"integrate",
}

var (
	vsWord  = regexp.MustCompile(`(?i)\bvs\b`)
	urlAttr = regexp.MustCompile(`(?i)([a-z_:-]*(?:src|href|url|source|path|asset))\s*=\s*("[^"]*"|'[^']*')`)
)

// IsIncidental reports whether the occurrence text[start:end] is an
// artifact rather than evidence of instrumentation: it sits inside a
// URL-bearing attribute value, inside an <img> tag, or within 50 bytes of
// marketing or comparison vocabulary.
func IsIncidental(text string, start, end int) bool {
	return incidental(text, start, end, false)
}

// IsIncidentalLoader is IsIncidental for tool signatures whose patterns
// name a loader URL: an occurrence inside the attributes of a <script>
// tag is the loader itself and stays genuine unless marketing vocabulary
// surrounds it.
func IsIncidentalLoader(text string, start, end int) bool {
	return incidental(text, start, end, true)
}

func incidental(text string, start, end int, loaders bool) bool {
	if start < 0 || end > len(text) || start > end {
		return false
	}
	if tag, off, ok := enclosingTag(text, start); ok {
		name := strings.ToLower(tag)
		switch {
		case strings.HasPrefix(name, "<img"):
			return true
		case loaders && isScriptTag(name):
			// The loader URL itself.
		default:
			for _, loc := range urlAttr.FindAllStringSubmatchIndex(tag, -1) {
				vs, ve := loc[4]+off, loc[5]+off
				if start >= vs && end <= ve {
					return true
				}
			}
		}
	}
	return nearMarketing(text, start, end)
}

func isScriptTag(lowerTag string) bool {
	if !strings.HasPrefix(lowerTag, "<script") {
		return false
	}
	rest := lowerTag[len("<script"):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r' || rest[0] == '>' || rest[0] == '/'
}

// HasGenuine reports whether term occurs in text, case-insensitively, at
// least once outside an incidental context.
func HasGenuine(text, term string) bool {
	if term == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(term))
	if err != nil {
		return false
	}
	for _, m := range Find(re, text) {
		if !IsIncidental(text, m.Start, m.End) {
			return true
		}
	}
	return false
}

// IsIncidentalIn is the text-level form of IsIncidental: it reports whether
// match occurs in context and every occurrence is incidental.
func IsIncidentalIn(match, context string) bool {
	if !strings.Contains(strings.ToLower(context), strings.ToLower(match)) {
		return false
	}
	return !HasGenuine(context, match)
}

// enclosingTag returns the markup tag that contains pos, with its offset
// in text.
func enclosingTag(text string, pos int) (string, int, bool) {
	head := text[:pos]
	lt := strings.LastIndexByte(head, '<')
	if lt < 0 || pos-lt > maxTagSpan {
		return "", 0, false
	}
	if gt := strings.LastIndexByte(head, '>'); gt > lt {
		return "", 0, false
	}
	if lt+1 >= len(text) || !isTagStart(text[lt+1]) {
		return "", 0, false
	}
	end := len(text)
	if i := strings.IndexByte(text[pos:], '>'); i >= 0 {
		end = pos + i + 1
	}
	return text[lt:end], lt, true
}

func isTagStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func nearMarketing(text string, start, end int) bool {
	lo := max(0, start-marketingWindow)
	hi := min(len(text), end+marketingWindow)
	near := strings.ToLower(text[lo:hi])
	for _, term := range marketingTerms {
		if strings.Contains(near, term) {
			return true
		}
	}
	return vsWord.MatchString(near)
}
