package fetcher

import (
	"bytes"
	"io"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Assessment says whether a fetched document can be scanned without a
// browser.
type Assessment struct {
	Sufficient bool   `json:"sufficient"`
	Reason     string `json:"reason,omitempty"`
	TextBytes  int    `json:"text_bytes"`
	Markup     int    `json:"markup_bytes"`
	Scripts    int    `json:"scripts"`
}

// Shell markers of client-rendered apps whose server HTML is a stub.
var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// Assess measures visible text against markup. Pages below 10% text or
// 200 visible bytes, and known app shells, need a browser to show their
// experiments.
func Assess(body []byte) Assessment {
	var a Assessment
	if len(body) < 256 {
		a.Reason = "document too short"
		return a
	}
	a.TextBytes, a.Markup, a.Scripts = measure(body)

	lower := bytes.ToLower(body)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, m) {
			a.Reason = "client-rendered shell"
			return a
		}
	}
	total := a.TextBytes + a.Markup
	switch {
	case total == 0:
		a.Reason = "empty document"
	case float64(a.TextBytes)/float64(total) < 0.10:
		a.Reason = "text ratio below 10%"
	case a.TextBytes < 200:
		a.Reason = "less than 200 bytes of text"
	default:
		a.Sufficient = true
	}
	return a
}

// IsSufficient reports Assess(body).Sufficient.
func IsSufficient(body []byte) bool { return Assess(body).Sufficient }

// measure counts non-space text bytes outside script and style, and
// everything else as markup.
func measure(body []byte) (text, markup, scripts int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				markup += len(z.Raw())
			}
			return text, markup, scripts
		}
		raw := z.Raw()
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script:
				scripts++
				skip++
			case atom.Style:
				skip++
			}
			markup += len(raw)
		case html.EndTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
			}
			markup += len(raw)
		case html.TextToken:
			if skip > 0 {
				markup += len(raw)
				continue
			}
			for _, r := range string(raw) {
				if !unicode.IsSpace(r) {
					text += utf8.RuneLen(r)
				}
			}
		default:
			markup += len(raw)
		}
	}
}
