package page

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/expscope/internal/jsonlit"
)

// Snapshot is a frozen page. Calls holds the results of runtime calls,
// keyed by canonical call path such as `statsig.checkGate("signup_v2")`.
// Injected lists script sources reported by the watcher.
type Snapshot struct {
	PageURL  string                     `json:"url"`
	Rendered string                     `json:"text,omitempty"`
	Source   string                     `json:"html,omitempty"`
	Globals  map[string]any             `json:"globals,omitempty"`
	Calls    map[string]json.RawMessage `json:"calls,omitempty"`
	Items    map[string]string          `json:"storage,omitempty"`
	Injected []string                   `json:"injected,omitempty"`
}

var textPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// RenderText approximates the rendered text of an HTML source: markup,
// scripts and styles are dropped, entities decoded and whitespace
// collapsed.
func RenderText(src string) string {
	return strings.Join(strings.Fields(html.UnescapeString(textPolicy.Sanitize(src))), " ")
}

// FromHTML builds a snapshot of a static document. Globals declared by
// inline scripts are inferred; literal object and array values are
// decoded, anything else is recorded as an opaque empty object.
func FromHTML(url, src string) (*Snapshot, error) {
	s := &Snapshot{PageURL: url, Source: src}
	if err := s.fill(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSnapshot decodes a snapshot from JSON and fills in the rendered
// text and globals when only the HTML source was captured.
func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("page: decode snapshot: %w", err)
	}
	if err := s.fill(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Snapshot) fill() error {
	if s.Source == "" {
		return nil
	}
	if s.Rendered == "" {
		s.Rendered = RenderText(s.Source)
	}
	if s.Globals != nil {
		return nil
	}
	doc, err := ParseDocument(s.Source)
	if err != nil {
		return fmt.Errorf("page: parse %s: %w", s.PageURL, err)
	}
	s.Globals = InferGlobals(doc)
	return nil
}

// URL implements Page.
func (s *Snapshot) URL() string { return s.PageURL }

// Text implements Page.
func (s *Snapshot) Text(context.Context) (string, error) { return s.Rendered, nil }

// HTML implements Page.
func (s *Snapshot) HTML(context.Context) (string, error) { return s.Source, nil }

// Runtime implements Page.
func (s *Snapshot) Runtime() Runtime { return s }

// Storage implements Page.
func (s *Snapshot) Storage() Storage { return s }

// Watcher implements Page.
func (s *Snapshot) Watcher() ScriptWatcher { return s }

// Exists implements Runtime. A path is defined when it resolves to a
// non-null value or names a function with recorded calls.
func (s *Snapshot) Exists(_ context.Context, path string) bool {
	segs, err := ParsePath(path)
	if err != nil {
		return false
	}
	if v, ok := s.resolve(segs); ok && v != nil {
		return true
	}
	canon := Canonical(segs)
	for k := range s.Calls {
		if strings.HasPrefix(k, canon+"(") || strings.HasPrefix(k, canon+".") {
			return true
		}
	}
	return false
}

// Lookup implements Runtime.
func (s *Snapshot) Lookup(_ context.Context, path string) (json.RawMessage, bool) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	v, ok := s.resolve(segs)
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Call implements Runtime. A known function called with arguments that
// were not recorded returns null.
func (s *Snapshot) Call(_ context.Context, path string, args ...any) (json.RawMessage, error) {
	base, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	cp, err := CallPath(path, args...)
	if err != nil {
		return nil, err
	}
	segs, err := ParsePath(cp)
	if err != nil {
		return nil, err
	}
	if raw, ok := s.Calls[Canonical(segs)]; ok {
		return raw, nil
	}
	fn := Canonical(base)
	for k := range s.Calls {
		if strings.HasPrefix(k, fn+"(") {
			return json.RawMessage("null"), nil
		}
	}
	if _, ok := s.resolve(base); ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFunction)
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}

func (s *Snapshot) resolve(segs []Segment) (any, bool) {
	var cur any
	for i, seg := range segs {
		if seg.Call {
			raw, ok := s.Calls[Canonical(segs[:i+1])]
			if !ok {
				return nil, false
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, false
			}
			cur = v
			continue
		}
		var m map[string]any
		if i == 0 {
			m = s.Globals
		} else if mm, ok := cur.(map[string]any); ok {
			m = mm
		}
		v, ok := m[seg.Name]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, len(segs) > 0
}

// Keys implements Storage. Keys are returned sorted.
func (s *Snapshot) Keys(context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.Items))
	for k := range s.Items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Item implements Storage.
func (s *Snapshot) Item(_ context.Context, key string) (string, bool, error) {
	v, ok := s.Items[key]
	return v, ok, nil
}

// WatchScripts implements ScriptWatcher by replaying Injected.
func (s *Snapshot) WatchScripts(_ context.Context, _ time.Duration) (<-chan string, error) {
	ch := make(chan string, len(s.Injected))
	for _, src := range s.Injected {
		ch <- src
	}
	close(ch)
	return ch, nil
}

var (
	declRe   = regexp.MustCompile(`(?:\b(?:var|let|const)\s+|\bwindow\.)([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)\s*=`)
	indexRe  = regexp.MustCompile(`\bwindow\[\s*["']([A-Za-z_$][\w$]*)["']\s*\]\s*=`)
	memberRe = regexp.MustCompile(`(?:^|[;{}\s])([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)+)\s*=`)
	pushRe   = regexp.MustCompile(`(?:\bwindow\.)?([A-Za-z_$][\w$]*)\.push\(`)
)

// InferGlobals collects the globals that inline scripts of doc assign.
// Member assignments and push calls are only followed for roots that a
// declaration already introduced. The first decoded value wins.
func InferGlobals(doc *Document) map[string]any {
	g := make(map[string]any)
	for _, sc := range doc.Scripts() {
		if !sc.Inline() || !isJavaScript(sc.Type) {
			continue
		}
		body := sc.Body
		assign := func(loc []int, path string) {
			if loc[1] < len(body) && body[loc[1]] == '=' {
				return // comparison
			}
			setPath(g, strings.Split(path, "."), literal(body, loc[1]))
		}
		for _, loc := range declRe.FindAllStringSubmatchIndex(body, -1) {
			assign(loc, body[loc[2]:loc[3]])
		}
		for _, loc := range indexRe.FindAllStringSubmatchIndex(body, -1) {
			assign(loc, body[loc[2]:loc[3]])
		}
		for _, loc := range memberRe.FindAllStringSubmatchIndex(body, -1) {
			path := strings.TrimPrefix(body[loc[2]:loc[3]], "window.")
			root, _, _ := strings.Cut(path, ".")
			if _, ok := g[root]; ok {
				assign(loc, path)
			}
		}
		for _, loc := range pushRe.FindAllStringSubmatchIndex(body, -1) {
			name := body[loc[2]:loc[3]]
			if _, ok := g[name]; !ok {
				continue
			}
			lit, ok := jsonlit.After(body, loc[1])
			if !ok {
				continue
			}
			var v any
			if jsonlit.Decode(lit, &v) != nil {
				continue
			}
			arr, _ := g[name].([]any)
			g[name] = append(arr, v)
		}
	}
	return g
}

func isJavaScript(typ string) bool {
	switch typ {
	case "", "text/javascript", "application/javascript", "module", "text/ecmascript":
		return true
	}
	return false
}

// literal decodes the value assigned at body[at:]. Non-literal
// expressions become an empty object.
func literal(body string, at int) any {
	rest := strings.TrimLeft(body[at:], " \t\r\n")
	if rest == "" {
		return map[string]any{}
	}
	switch rest[0] {
	case '{', '[':
		lit, ok := jsonlit.Cut(rest, 0)
		if !ok {
			break
		}
		var v any
		if jsonlit.Decode(lit, &v) == nil {
			return v
		}
	case '"', '\'':
		if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
			return rest[1 : end+1]
		}
	}
	var v any
	tok, _, _ := strings.Cut(rest, ";")
	if json.Unmarshal([]byte(strings.TrimSpace(tok)), &v) == nil && v != nil {
		return v
	}
	// x = x || [] keeps the fallback's shape.
	if i := strings.LastIndex(tok, "||"); i >= 0 {
		if lit, ok := jsonlit.After(tok, i+2); ok && jsonlit.Decode(lit, &v) == nil && v != nil {
			return v
		}
	}
	return map[string]any{}
}

// setPath stores v at path. An existing empty value is replaced; any
// other existing value is kept.
func setPath(g map[string]any, path []string, v any) {
	m := g
	for i, name := range path {
		last := i == len(path)-1
		cur, ok := m[name]
		if last {
			if !ok || isEmpty(cur) {
				m[name] = v
			}
			return
		}
		next, isMap := cur.(map[string]any)
		if !ok || (!isMap && isEmpty(cur)) {
			next = make(map[string]any)
			m[name] = next
		} else if !isMap {
			return
		}
		m = next
	}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case nil:
		return true
	}
	return false
}
