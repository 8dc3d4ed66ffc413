// Package policy decides whether client paths and remote URLs may be
// fetched.
//
// Remote documents must use https. A non-empty allowlist restricts remote
// URLs to matching entries and a blocklist match always denies. Client
// paths must fall under one of the allowed read paths. Local documents are
// defined by the catalog itself and are always allowed.
//
// A project policy replaces the global policy outright; the two are never
// merged.
package policy

import (
	"sort"
	"strings"

	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/digest"
)

// Scope records where a policy came from.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Policy is a read-only snapshot of the security rules for one session.
//
// Allowlist and Blocklist entries are either URL globs (containing "://",
// e.g. "https://docs.example.com/**") or host patterns ("example.com",
// "*.example.com").
type Policy struct {
	Allowlist        []string `json:"allowlist"`
	Blocklist        []string `json:"blocklist"`
	AllowedReadPaths []string `json:"allowed_read_paths"`
	Scope            Scope    `json:"scope"`
}

// Epoch is a digest of the policy's rules. Any change to the rules yields
// a new epoch, which in turn yields new cache keys for gated documents.
func (p Policy) Epoch() string {
	canonical := Policy{
		Allowlist:        sortedCopy(p.Allowlist),
		Blocklist:        sortedCopy(p.Blocklist),
		AllowedReadPaths: sortedCopy(p.AllowedReadPaths),
		Scope:            p.Scope,
	}
	sum, err := digest.JSON(canonical)
	if err != nil {
		// A struct of strings always marshals.
		panic(err)
	}
	return sum[:16]
}

// Effective returns project when it is set, otherwise global.
func Effective(global Policy, project *Policy) Policy {
	if project != nil {
		p := *project
		p.Scope = ScopeProject
		return p
	}
	global.Scope = ScopeGlobal
	return global
}

// FromCatalog converts a catalog's policy section. It returns nil when the
// catalog defines no policy.
func FromCatalog(spec *catalog.PolicySpec) *Policy {
	if spec == nil {
		return nil
	}
	p := &Policy{
		AllowedReadPaths: cleanList(spec.AllowedReadPaths),
		Scope:            ScopeProject,
	}
	if spec.HTTPS != nil {
		p.Allowlist = cleanList(spec.HTTPS.Allowlist)
		p.Blocklist = cleanList(spec.HTTPS.Blocklist)
	}
	return p
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}
