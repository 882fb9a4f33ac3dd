package page

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Script is one script element in document order. Body is empty for
// external scripts.
type Script struct {
	Src  string
	Type string
	Body string
}

// Inline reports whether the script carries its own body.
func (s Script) Inline() bool { return s.Src == "" && strings.TrimSpace(s.Body) != "" }

// Element is an element with its attributes.
type Element struct {
	Tag   string
	Attrs map[string]string
}

// Attr returns the value of attribute name.
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// Document is a parsed HTML source. The parser never fails on malformed
// markup; it repairs it the way browsers do.
type Document struct {
	root *html.Node
}

// ParseDocument parses src.
func ParseDocument(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	return &Document{root: root}, nil
}

// Scripts returns every script element in document order.
func (d *Document) Scripts() []Script {
	var out []Script
	d.walk(func(n *html.Node) bool {
		if n.DataAtom != atom.Script {
			return true
		}
		s := Script{Src: attr(n, "src"), Type: strings.ToLower(strings.TrimSpace(attr(n, "type")))}
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		s.Body = b.String()
		out = append(out, s)
		return false
	})
	return out
}

// WithAttr returns the elements carrying attribute name, in document order.
func (d *Document) WithAttr(name string) []Element {
	var out []Element
	d.walk(func(n *html.Node) bool {
		if !hasAttr(n, name) {
			return true
		}
		e := Element{Tag: n.Data, Attrs: make(map[string]string, len(n.Attr))}
		for _, a := range n.Attr {
			if _, dup := e.Attrs[a.Key]; !dup {
				e.Attrs[a.Key] = a.Val
			}
		}
		out = append(out, e)
		return true
	})
	return out
}

// HasID reports whether an element with the given id exists.
func (d *Document) HasID(id string) bool {
	found := false
	d.walk(func(n *html.Node) bool {
		if attr(n, "id") == id {
			found = true
		}
		return !found
	})
	return found
}

// walk visits element nodes depth-first. fn returns false to skip the
// children of a node.
func (d *Document) walk(fn func(*html.Node) bool) {
	if d == nil || d.root == nil {
		return
	}
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode && !fn(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(d.root)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
