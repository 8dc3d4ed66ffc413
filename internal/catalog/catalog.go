// Package catalog loads the project's category and collection definitions.
//
// A project declares its documentation in .docket/catalog.yaml:
//
//	project: my-service
//	categories:
//	  docs:
//	    local:
//	      dir: docs
//	      patterns: ["*.md"]
//	  review:
//	    local:
//	      dir: .docket/review
//	    client:
//	      checklist: CHECKLIST.md
//	    https:
//	      style: ["https://example.com/style.md"]
//	collections:
//	  guidelines: ["docs", "review/commit"]
//	policy:
//	  https:
//	    allowlist: ["example.com"]
//	  allowed_read_paths: ["."]
//
// Each category maps document names to locators per source: files under a
// local directory on the serving host, paths on the agent's filesystem,
// and lists of HTTPS URLs.
package catalog

import (
	"sort"
)

// DefaultLocalPatterns apply when a local source declares no patterns.
var DefaultLocalPatterns = []string{"*.md"}

// Catalog is the loaded, normalized catalog of one project.
type Catalog struct {
	Project     string              `yaml:"project,omitempty" json:"project,omitempty"`
	Root        string              `yaml:"-" json:"root"`
	Categories  map[string]Category `yaml:"categories" json:"categories"`
	Collections map[string][]string `yaml:"collections,omitempty" json:"collections,omitempty"`
	Policy      *PolicySpec         `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// Category groups document patterns by source.
type Category struct {
	Name        string              `yaml:"-" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Local       *LocalSource        `yaml:"local,omitempty" json:"local,omitempty"`
	Client      map[string]string   `yaml:"client,omitempty" json:"client,omitempty"`
	HTTPS       map[string][]string `yaml:"https,omitempty" json:"https,omitempty"`
}

// LocalSource is a directory on the serving host plus the glob patterns
// selecting its default documents.
type LocalSource struct {
	Dir      string   `yaml:"dir" json:"dir"`
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// PolicySpec is the project-level security policy. When present it
// replaces the global policy entirely.
type PolicySpec struct {
	HTTPS            *HTTPSPolicy `yaml:"https,omitempty" json:"https,omitempty"`
	AllowedReadPaths []string     `yaml:"allowed_read_paths,omitempty" json:"allowed_read_paths,omitempty"`
}

// HTTPSPolicy lists URL patterns allowed or blocked for remote documents.
type HTTPSPolicy struct {
	Allowlist []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Blocklist []string `yaml:"blocklist,omitempty" json:"blocklist,omitempty"`
}

// Category returns the named category.
func (c *Catalog) Category(name string) (Category, bool) {
	if c == nil {
		return Category{}, false
	}
	cat, ok := c.Categories[name]
	return cat, ok
}

// Collection returns the expressions of the named collection.
func (c *Catalog) Collection(name string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	exprs, ok := c.Collections[name]
	return exprs, ok
}

func (c *Catalog) CategoryNames() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.Categories)
}

func (c *Catalog) CollectionNames() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.Collections)
}

// PatternsOrDefault returns the local patterns, falling back to
// DefaultLocalPatterns.
func (l *LocalSource) PatternsOrDefault() []string {
	if l == nil {
		return nil
	}
	if len(l.Patterns) == 0 {
		return DefaultLocalPatterns
	}
	return l.Patterns
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
