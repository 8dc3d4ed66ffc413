package resolve

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/expr"
	"github.com/HendryAvila/docket/internal/match"
)

// MaxCollectionDepth bounds collection nesting.
const MaxCollectionDepth = 8

type matchedRef struct {
	ref  doc.Ref
	term string
}

// matcher evaluates an expression against one catalog snapshot. Groups
// are unioned, the terms of a group intersected. Results keep expression
// order and are deduplicated by ref identity.
type matcher struct {
	v        view
	opts     match.Options
	visiting map[string]bool
	failures []Failure
}

func newMatcher(v view, filename string) *matcher {
	return &matcher{
		v:        v,
		opts:     match.Options{Filename: filename, ClientCwd: v.clientCwd},
		visiting: make(map[string]bool),
	}
}

func (m *matcher) fail(term string, kind FailureKind, format string, args ...any) {
	m.failures = append(m.failures, Failure{Term: term, Kind: kind, Reason: fmt.Sprintf(format, args...)})
}

func (m *matcher) expression(e *expr.Expression, depth int) []matchedRef {
	var out []matchedRef
	for _, g := range e.Groups {
		out = union(out, m.group(g, depth))
	}
	return out
}

func (m *matcher) group(g expr.Group, depth int) []matchedRef {
	var acc []matchedRef
	for i, t := range g.Terms {
		refs := m.term(t, depth)
		if i == 0 {
			acc = refs
			continue
		}
		acc = intersect(acc, refs)
	}
	return acc
}

// term resolves one term. A bare name is a collection first, then a
// category. Unknown names yield nothing and are reported.
func (m *matcher) term(t expr.Term, depth int) []matchedRef {
	cat := m.v.catalog
	if !t.HasPattern {
		if exprs, ok := cat.Collection(t.Name); ok {
			return m.collection(t, exprs, depth)
		}
	}
	category, ok := cat.Category(t.Name)
	if !ok {
		if t.HasPattern {
			m.fail(t.Raw, FailureUnknown, "unknown category %q", t.Name)
		} else {
			m.fail(t.Raw, FailureUnknown, "no collection or category named %q", t.Name)
		}
		return nil
	}

	refs, err := match.Expand(category, t.Pattern, t.HasPattern, m.opts)
	if err != nil {
		m.fail(t.Raw, FailureExpand, "%v", err)
	}
	out := make([]matchedRef, 0, len(refs))
	for _, ref := range refs {
		out = append(out, matchedRef{ref: ref, term: t.Raw})
	}
	return out
}

func (m *matcher) collection(t expr.Term, exprs []string, depth int) []matchedRef {
	if depth >= MaxCollectionDepth {
		m.fail(t.Raw, FailureCollection, "collection %q nests deeper than %d levels", t.Name, MaxCollectionDepth)
		return nil
	}
	if m.visiting[t.Name] {
		m.fail(t.Raw, FailureCollection, "collection %q includes itself", t.Name)
		return nil
	}
	m.visiting[t.Name] = true
	defer delete(m.visiting, t.Name)

	var out []matchedRef
	for _, raw := range exprs {
		parsed, err := expr.Parse(raw)
		if err != nil {
			m.fail(t.Raw, FailureCollection, "collection %q entry %q: %v", t.Name, raw, err)
			continue
		}
		out = union(out, m.expression(parsed, depth+1))
	}
	return out
}

func union(a, b []matchedRef) []matchedRef {
	seen := make(map[string]bool, len(a)+len(b))
	for _, x := range a {
		seen[x.ref.Key()] = true
	}
	for _, x := range b {
		if seen[x.ref.Key()] {
			continue
		}
		seen[x.ref.Key()] = true
		a = append(a, x)
	}
	return a
}

func intersect(a, b []matchedRef) []matchedRef {
	in := make(map[string]string, len(b))
	for _, x := range b {
		in[x.ref.Key()] = x.term
	}
	var out []matchedRef
	for _, x := range a {
		if term, ok := in[x.ref.Key()]; ok {
			if term != x.term {
				x.term = strings.Join([]string{x.term, term}, "&")
			}
			out = append(out, x)
		}
	}
	return out
}
