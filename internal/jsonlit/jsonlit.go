// Package jsonlit decodes object and array literals found in page
// scripts. Literals are cut out with a string-aware bracket scan, decoded
// as strict JSON and, when that fails, repaired first: script literals
// routinely carry single quotes, bare keys and trailing commas.
package jsonlit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Cut returns the bracketed literal that opens at s[at], which must be
// '{' or '['. Brackets inside string literals are ignored. ok is false
// when the literal is not closed.
func Cut(s string, at int) (lit string, ok bool) {
	if at < 0 || at >= len(s) || (s[at] != '{' && s[at] != '[') {
		return "", false
	}
	depth := 0
	var quote byte
	for i := at; i < len(s); i++ {
		c := s[i]
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
		case '"', '\'', '`':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[at : i+1], true
			}
		}
	}
	return "", false
}

// After returns the literal that starts at the first '{' or '[' at or
// after position at, skipping only whitespace.
func After(s string, at int) (string, bool) {
	i := at
	for i < len(s) && strings.ContainsRune(" \t\r\n", rune(s[i])) {
		i++
	}
	return Cut(s, i)
}

// Decode unmarshals lit into v, repairing it when strict decoding fails.
func Decode(lit string, v any) error {
	err := json.Unmarshal([]byte(lit), v)
	if err == nil {
		return nil
	}
	repaired, rerr := jsonrepair.JSONRepair(lit)
	if rerr != nil {
		return fmt.Errorf("jsonlit: decode: %w (repair: %v)", err, rerr)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("jsonlit: decode repaired literal: %w", err)
	}
	return nil
}

// Object decodes lit as a JSON object.
func Object(lit string) (map[string]any, error) {
	var m map[string]any
	if err := Decode(lit, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("jsonlit: not an object")
	}
	return m, nil
}
