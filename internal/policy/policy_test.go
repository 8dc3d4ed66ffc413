package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/doc"
)

func remote(t *testing.T, raw string) doc.Ref {
	t.Helper()
	ref, err := doc.NewRemoteRef("c", raw)
	require.NoError(t, err)
	return ref
}

func TestAuthorizeURL_HTTPAlwaysDenied(t *testing.T) {
	policies := []Policy{
		{},
		{Allowlist: []string{"example.com"}},
		{Allowlist: []string{"http://example.com/**"}},
		{Allowlist: []string{"*.example.com", "example.com"}},
	}
	for _, p := range policies {
		d := NewGate(p, "").Authorize(remote(t, "http://example.com/a.md"))
		assert.False(t, d.Allowed, "policy %+v allowed http", p)
		assert.Equal(t, "scheme", d.Rule)
	}
}

func TestAuthorizeURL_Lists(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		url      string
		allowed  bool
		wantRule string
	}{
		{"no lists allows https", Policy{}, "https://any.org/x", true, ""},
		{"host allowlist match", Policy{Allowlist: []string{"example.com"}}, "https://example.com/x", true, "example.com"},
		{"host allowlist is exact", Policy{Allowlist: []string{"example.com"}}, "https://docs.example.com/x", false, "allowlist"},
		{"wildcard host", Policy{Allowlist: []string{"*.example.com"}}, "https://docs.example.com/x", true, "*.example.com"},
		{"wildcard excludes apex", Policy{Allowlist: []string{"*.example.com"}}, "https://example.com/x", false, "allowlist"},
		{"url glob", Policy{Allowlist: []string{"https://example.com/docs/**"}}, "https://example.com/docs/a/b.md", true, "https://example.com/docs/**"},
		{"url prefix", Policy{Allowlist: []string{"https://example.com/docs"}}, "https://example.com/docs/a.md", true, "https://example.com/docs"},
		{"url glob miss", Policy{Allowlist: []string{"https://example.com/docs/**"}}, "https://example.com/blog/a.md", false, "allowlist"},
		{"blocklist without allowlist", Policy{Blocklist: []string{"evil.com"}}, "https://evil.com/x", false, "evil.com"},
		{"blocklist wins over allowlist", Policy{
			Allowlist: []string{"*.example.com"},
			Blocklist: []string{"https://private.example.com/**"},
		}, "https://private.example.com/a", false, "https://private.example.com/**"},
		{"case and port insensitive", Policy{Allowlist: []string{"Example.COM"}}, "https://EXAMPLE.com:443/x", true, "Example.COM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewGate(tt.policy, "").Authorize(remote(t, tt.url))
			assert.Equal(t, tt.allowed, d.Allowed, "reason: %s", d.Reason)
			assert.Equal(t, tt.wantRule, d.Rule)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestAuthorizeURL_DotSegmentsCannotEscapeURLGlob(t *testing.T) {
	g := NewGate(Policy{Allowlist: []string{"https://docs.example.com/public/**"}}, "")

	for _, u := range []string{
		"https://docs.example.com/private/secret.md",
		"https://docs.example.com/public/../private/secret.md",
		"https://docs.example.com/public/%2e%2e/private/secret.md",
	} {
		d := g.AuthorizeURL(u)
		assert.False(t, d.Allowed, "%s allowed by %s", u, d.Rule)
		assert.Equal(t, "allowlist", d.Rule)
	}

	d := g.AuthorizeURL("https://docs.example.com/public/./guide.md")
	assert.True(t, d.Allowed, d.Reason)
}

func TestAuthorize_DotSegmentRefsShareIdentity(t *testing.T) {
	a := remote(t, "https://docs.example.com/public/../private/secret.md")
	b := remote(t, "https://docs.example.com/private/secret.md")
	assert.Equal(t, b.Key(), a.Key())
}

func TestAuthorizeURL_MostSpecificRuleReported(t *testing.T) {
	p := Policy{Allowlist: []string{"*.example.com", "https://docs.example.com/guides/**"}}
	d := NewGate(p, "").AuthorizeURL("https://docs.example.com/guides/a.md")
	require.True(t, d.Allowed)
	assert.Equal(t, "https://docs.example.com/guides/**", d.Rule)
}

func TestAuthorize_ClientPaths(t *testing.T) {
	cwd := t.TempDir()
	other := t.TempDir()
	g := NewGate(Policy{AllowedReadPaths: []string{".", filepath.Join(other, "shared")}}, cwd)

	tests := []struct {
		name    string
		path    string
		allowed bool
	}{
		{"inside cwd", filepath.Join(cwd, "docs", "a.md"), true},
		{"cwd itself", cwd, true},
		{"absolute allowed root", filepath.Join(other, "shared", "x.md"), true},
		{"sibling prefix is not inside", filepath.Join(other, "shared-secrets", "x.md"), false},
		{"outside", filepath.Join(other, "x.md"), false},
		{"dotdot escape", filepath.Join(cwd, "..", "escape.md"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := doc.NewClientRef("c", tt.path, cwd)
			d := g.Authorize(ref)
			assert.Equal(t, tt.allowed, d.Allowed, "path %s reason %s", ref.Locator, d.Reason)
		})
	}
}

func TestAuthorize_RelativeClientPathResolvedAgainstCwd(t *testing.T) {
	cwd := t.TempDir()
	g := NewGate(Policy{AllowedReadPaths: []string{"docs"}}, cwd)
	assert.True(t, g.Authorize(doc.NewClientRef("c", "docs/a.md", cwd)).Allowed)
	assert.False(t, g.Authorize(doc.NewClientRef("c", "README.md", cwd)).Allowed)
}

func TestAuthorize_NoReadPathsDeniesClient(t *testing.T) {
	d := NewGate(Policy{}, "/work").Authorize(doc.NewClientRef("c", "/work/a.md", "/work"))
	assert.False(t, d.Allowed)
}

func TestAuthorize_UnknownCwdDeniesRelative(t *testing.T) {
	d := NewGate(Policy{AllowedReadPaths: []string{"."}}, "").Authorize(doc.NewClientRef("c", "a.md", ""))
	assert.False(t, d.Allowed)
}

func TestAuthorize_LocalAlwaysAllowed(t *testing.T) {
	ref, err := doc.NewLocalRef("docs", "/srv/docs/a.md")
	require.NoError(t, err)
	assert.True(t, NewGate(Policy{Allowlist: []string{"x"}}, "").Authorize(ref).Allowed)
}

func TestEffective_ProjectReplacesGlobal(t *testing.T) {
	global := Policy{Allowlist: []string{"global.com"}, AllowedReadPaths: []string{"/g"}}
	project := &Policy{Blocklist: []string{"bad.com"}}

	eff := Effective(global, project)
	assert.Equal(t, ScopeProject, eff.Scope)
	assert.Empty(t, eff.Allowlist, "project policy must not inherit the global allowlist")
	assert.Empty(t, eff.AllowedReadPaths)

	eff = Effective(global, nil)
	assert.Equal(t, ScopeGlobal, eff.Scope)
	assert.Equal(t, []string{"global.com"}, eff.Allowlist)
}

func TestEpoch(t *testing.T) {
	a := Policy{Allowlist: []string{"a.com", "b.com"}}
	b := Policy{Allowlist: []string{"b.com", "a.com"}}
	c := Policy{Allowlist: []string{"a.com"}}
	assert.Equal(t, a.Epoch(), b.Epoch(), "order must not change the epoch")
	assert.NotEqual(t, a.Epoch(), c.Epoch())
	assert.Len(t, a.Epoch(), 16)
}

func TestFromCatalog(t *testing.T) {
	assert.Nil(t, FromCatalog(nil))
	p := FromCatalog(&catalog.PolicySpec{
		HTTPS:            &catalog.HTTPSPolicy{Allowlist: []string{" example.com ", ""}},
		AllowedReadPaths: []string{"."},
	})
	require.NotNil(t, p)
	assert.Equal(t, []string{"example.com"}, p.Allowlist)
	assert.Equal(t, []string{"."}, p.AllowedReadPaths)
	assert.Equal(t, ScopeProject, p.Scope)
}
