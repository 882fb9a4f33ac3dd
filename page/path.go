package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is one step of a runtime path.
type Segment struct {
	Name string
	Call bool
	Args []json.RawMessage
}

// ParsePath splits a runtime path into segments.
//
//	ParsePath(`optimizely.get("state").getExperimentStates()`)
//
// yields optimizely, get("state") and getExperimentStates().
func ParsePath(path string) ([]Segment, error) {
	var segs []Segment
	i := 0
	for {
		start := i
		for i < len(path) && isIdent(path[i], i == start) {
			i++
		}
		if i == start {
			return nil, fmt.Errorf("page: path %q: identifier expected at %d", path, i)
		}
		seg := Segment{Name: path[start:i]}
		if i < len(path) && path[i] == '(' {
			end, err := closeParen(path, i)
			if err != nil {
				return nil, err
			}
			var args []json.RawMessage
			if inner := strings.TrimSpace(path[i+1 : end]); inner != "" {
				if err := json.Unmarshal([]byte("["+inner+"]"), &args); err != nil {
					return nil, fmt.Errorf("page: path %q: arguments: %w", path, err)
				}
			}
			seg.Call, seg.Args = true, args
			i = end + 1
		}
		segs = append(segs, seg)
		if i == len(path) {
			return segs, nil
		}
		if path[i] != '.' {
			return nil, fmt.Errorf("page: path %q: unexpected %q at %d", path, path[i], i)
		}
		i++
	}
}

// CallPath appends a call with args to path.
func CallPath(path string, args ...any) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("page: call %s: argument %d: %w", path, i, err)
		}
		parts[i] = string(b)
	}
	return path + "(" + strings.Join(parts, ",") + ")", nil
}

// Canonical renders segments back into a path with compact arguments,
// so that equivalent paths compare equal.
func Canonical(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Name)
		if !s.Call {
			continue
		}
		b.WriteByte('(')
		for j, a := range s.Args {
			if j > 0 {
				b.WriteByte(',')
			}
			var buf bytes.Buffer
			if err := json.Compact(&buf, a); err != nil {
				b.Write(a)
				continue
			}
			b.Write(buf.Bytes())
		}
		b.WriteByte(')')
	}
	return b.String()
}

func isIdent(c byte, first bool) bool {
	switch {
	case c == '_' || c == '$':
		return true
	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func closeParen(path string, open int) (int, error) {
	depth := 0
	var quote byte
	for i := open; i < len(path); i++ {
		c := path[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("page: path %q: unclosed call", path)
}
