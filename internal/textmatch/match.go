// Package textmatch holds the fault-tolerant pattern primitives used by the
// scanners, and the context filter that rejects incidental matches.
//
// Nothing in this package returns an error or panics to the caller: page
// content is third-party input and a failing pattern only yields no match.
package textmatch

import (
	"fmt"
	"log/slog"
	"regexp"
	"unicode/utf8"
)

// Match is one pattern occurrence. Groups[0] is the whole match; missing
// optional groups are empty strings.
type Match struct {
	Start  int
	End    int
	Groups []string
}

// Text returns the matched text.
func (m Match) Text() string {
	if len(m.Groups) == 0 {
		return ""
	}
	return m.Groups[0]
}

// Group returns submatch i, or "" when it does not exist.
func (m Match) Group(i int) string {
	if i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// FirstGroup returns the first non-empty capture group.
func (m Match) FirstGroup() string {
	if len(m.Groups) < 2 {
		return ""
	}
	for _, g := range m.Groups[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// Find returns every match of re in text, in order. A failure of the global
// scan falls back to an iterative single-match scan; if that fails as well
// the failure is logged and Find returns nil.
func Find(re *regexp.Regexp, text string) []Match {
	if re == nil || text == "" {
		return nil
	}
	ms, err := findAll(re, text)
	if err == nil {
		return ms
	}
	slog.Warn("textmatch: global scan failed, retrying iteratively",
		"pattern", re.String(), "error", err)

	ms, err = findIter(re, text)
	if err != nil {
		slog.Error("textmatch: iterative scan failed",
			"pattern", re.String(), "error", err)
		return nil
	}
	return ms
}

// First returns the first match of re in text.
func First(re *regexp.Regexp, text string) (Match, bool) {
	if re == nil || text == "" {
		return Match{}, false
	}
	var m Match
	var ok bool
	err := guard(func() {
		loc := re.FindStringSubmatchIndex(text)
		if loc != nil {
			m, ok = build(text, loc, 0), true
		}
	})
	if err != nil {
		slog.Error("textmatch: single match failed", "pattern", re.String(), "error", err)
		return Match{}, false
	}
	return m, ok
}

// Contains reports whether re matches anywhere in text.
func Contains(re *regexp.Regexp, text string) bool {
	_, ok := First(re, text)
	return ok
}

func findAll(re *regexp.Regexp, text string) (out []Match, err error) {
	err = guard(func() {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			out = append(out, build(text, loc, 0))
		}
	})
	return out, err
}

func findIter(re *regexp.Regexp, text string) (out []Match, err error) {
	err = guard(func() {
		pos := 0
		for pos <= len(text) {
			loc := re.FindStringSubmatchIndex(text[pos:])
			if loc == nil {
				return
			}
			out = append(out, build(text, loc, pos))
			next := pos + loc[1]
			if loc[1] == loc[0] {
				// Empty match: step over one rune.
				_, size := utf8.DecodeRuneInString(text[next:])
				if size == 0 {
					return
				}
				next += size
			}
			pos = next
		}
	})
	return out, err
}

func build(text string, loc []int, offset int) Match {
	m := Match{Start: loc[0] + offset, End: loc[1] + offset}
	m.Groups = make([]string, len(loc)/2)
	for i := range m.Groups {
		s, e := loc[2*i], loc[2*i+1]
		if s >= 0 && e >= 0 {
			m.Groups[i] = text[s+offset : e+offset]
		}
	}
	return m
}

func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("textmatch: %v", r)
		}
	}()
	fn()
	return nil
}
