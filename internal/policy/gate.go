package policy

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/match"
)

// Decision is the gate's verdict for one ref. Rule names the pattern that
// decided it, when one did.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

func allow(rule string) Decision { return Decision{Allowed: true, Rule: rule} }

func deny(rule, format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...), Rule: rule}
}

// Gate applies one policy snapshot. It is immutable and safe for concurrent
// use.
type Gate struct {
	policy    Policy
	clientCwd string
	readRoots []string
}

// NewGate builds a gate for p. Relative allowed read paths are anchored at
// clientCwd, the agent's reported working directory; without a cwd they
// can never match.
func NewGate(p Policy, clientCwd string) *Gate {
	g := &Gate{policy: p, clientCwd: clientCwd}
	for _, root := range p.AllowedReadPaths {
		if !filepath.IsAbs(root) {
			if clientCwd == "" {
				continue
			}
			root = filepath.Join(clientCwd, root)
		}
		g.readRoots = append(g.readRoots, filepath.Clean(root))
	}
	return g
}

func (g *Gate) Policy() Policy { return g.policy }

// Authorize decides whether ref may be fetched.
func (g *Gate) Authorize(ref doc.Ref) Decision {
	switch ref.Source {
	case doc.SourceLocal:
		return allow("")
	case doc.SourceClient:
		return g.authorizeClientPath(ref.Locator)
	case doc.SourceRemote:
		return g.AuthorizeURL(ref.Locator)
	default:
		return deny("", "unknown document source %q", ref.Source)
	}
}

// AuthorizeURL decides whether rawURL may be requested. It is also applied
// to every redirect target.
func (g *Gate) AuthorizeURL(rawURL string) Decision {
	canonical, err := doc.NormalizeURL(rawURL)
	if err != nil {
		return deny("", "invalid url: %v", err)
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return deny("", "invalid url: %v", err)
	}
	if u.Scheme != "https" {
		return deny("scheme", "scheme %q is not allowed; only https is fetched", u.Scheme)
	}

	host := u.Hostname()
	if rule, ok := mostSpecific(g.policy.Blocklist, canonical, host); ok {
		return deny(rule, "url is blocklisted by %q", rule)
	}
	if len(g.policy.Allowlist) == 0 {
		return allow("")
	}
	if rule, ok := mostSpecific(g.policy.Allowlist, canonical, host); ok {
		return allow(rule)
	}
	return deny("allowlist", "url does not match the %s allowlist", g.policy.Scope)
}

func (g *Gate) authorizeClientPath(p string) Decision {
	if !filepath.IsAbs(p) {
		return deny("", "client path %q is relative and the client working directory is unknown", p)
	}
	p = filepath.Clean(p)
	best := ""
	for _, root := range g.readRoots {
		if within(root, p) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return deny("allowed_read_paths", "client path %s is outside allowed_read_paths", p)
	}
	return allow(best)
}

// within reports whether p is root or below it, on a directory boundary.
func within(root, p string) bool {
	if p == root {
		return true
	}
	if root == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// mostSpecific returns the matching pattern with the most literal
// characters. Any match in a list decides that list; the specificity only
// picks which rule is reported.
func mostSpecific(patterns []string, canonicalURL, host string) (string, bool) {
	best, found := "", false
	for _, pat := range patterns {
		if !urlMatches(pat, canonicalURL, host) {
			continue
		}
		if !found || specificity(pat) > specificity(best) {
			best, found = pat, true
		}
	}
	return best, found
}

func urlMatches(pattern, canonicalURL, host string) bool {
	pattern = strings.TrimSpace(pattern)
	if strings.Contains(pattern, "://") {
		norm, err := doc.NormalizeURL(pattern)
		if err != nil {
			norm = strings.ToLower(pattern)
		}
		return match.Match(norm, canonicalURL) || match.Match(strings.TrimSuffix(norm, "/")+"/**", canonicalURL)
	}
	pattern = strings.ToLower(pattern)
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+rest)
	}
	return host == pattern
}

func specificity(pattern string) int {
	n := 0
	for _, r := range pattern {
		if r != '*' && r != '?' {
			n++
		}
	}
	return n
}
