package signature

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/expscope/finding"
)

// Extra is a set of signatures loaded from a file, appended to a registry
// with Registry.With.
type Extra struct {
	Platforms   []Platform
	TagManagers []Tool
	Analytics   []Tool
	Keywords    []string
	Loaders     []Loader
}

type fileTool struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	AnyOf    []string `yaml:"any_of"`
}

type filePlatform struct {
	Key     string `yaml:"key"`
	Display string `yaml:"display"`
	Pattern string `yaml:"pattern"`
}

type fileLoader struct {
	Platform  string   `yaml:"platform"`
	Fragments []string `yaml:"fragments"`
	Source    string   `yaml:"source"`
}

type file struct {
	Platforms   []filePlatform `yaml:"platforms"`
	TagManagers []fileTool     `yaml:"tag_managers"`
	Analytics   []fileTool     `yaml:"analytics"`
	Keywords    []string       `yaml:"keywords"`
	Loaders     []fileLoader   `yaml:"loaders"`
}

// LoadFile reads extra signatures from a YAML file.
//
//	platforms:
//	  - key: kameleoon
//	    display: Kameleoon
//	    pattern: 'kameleoon'
//	tag_managers:
//	  - name: Piwik PRO
//	    patterns: ['containers\.piwik\.pro']
//	    any_of: ['piwik']
//
// Platform patterns are wrapped in case-insensitive word boundaries like
// the built-in ones. Tool patterns are used as written.
func LoadFile(path string) (*Extra, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signature: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes extra signatures from YAML.
func Parse(data []byte) (*Extra, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("signature: parse: %w", err)
	}

	var x Extra
	for _, p := range f.Platforms {
		if p.Key == "" || p.Pattern == "" {
			return nil, fmt.Errorf("signature: platform %q: key and pattern are required", p.Key)
		}
		re, err := regexp.Compile(`(?i)\b(?:` + p.Pattern + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("signature: platform %s: %w", p.Key, err)
		}
		display := p.Display
		if display == "" {
			display = finding.Capitalize(p.Key)
		}
		x.Platforms = append(x.Platforms, Platform{Key: p.Key, Display: display, Pattern: re})
	}

	var err error
	if x.TagManagers, err = compileTools(f.TagManagers, finding.CategoryTagManager); err != nil {
		return nil, err
	}
	if x.Analytics, err = compileTools(f.Analytics, finding.CategoryAnalytics); err != nil {
		return nil, err
	}
	x.Keywords = f.Keywords
	for _, l := range f.Loaders {
		if l.Platform == "" || len(l.Fragments) == 0 {
			return nil, fmt.Errorf("signature: loader %q: platform and fragments are required", l.Platform)
		}
		src := l.Source
		if src == "" {
			src = "Dynamically loaded " + l.Platform
		}
		x.Loaders = append(x.Loaders, Loader{Platform: l.Platform, Fragments: l.Fragments, Source: src})
	}
	return &x, nil
}

func compileTools(in []fileTool, cat finding.Category) ([]Tool, error) {
	var out []Tool
	for _, t := range in {
		if t.Name == "" || len(t.Patterns) == 0 {
			return nil, fmt.Errorf("signature: %s %q: name and patterns are required", cat, t.Name)
		}
		tool := Tool{Name: t.Name, Category: cat}
		for _, p := range t.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("signature: %s %s: %w", cat, t.Name, err)
			}
			tool.Patterns = append(tool.Patterns, re)
		}
		// Without any_of the surviving match alone is enough.
		if len(t.AnyOf) > 0 {
			tool.Validate = AnyOf(t.AnyOf)
		}
		out = append(out, tool)
	}
	return out, nil
}
