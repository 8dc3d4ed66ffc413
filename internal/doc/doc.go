// Package doc holds the domain types shared by every stage of content
// resolution: where a document lives (Source), how it is identified (Ref)
// and what happened when it was fetched (Outcome).
package doc

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Source is the tagged origin of a document. It is decided once per term
// while matching and then drives fetcher dispatch.
type Source string

const (
	SourceUnspecified Source = ""
	SourceLocal       Source = "local"
	SourceClient      Source = "client"
	SourceRemote      Source = "remote"
)

// Sources lists the concrete sources in registration order. Matching and
// aggregation both rely on this order.
var Sources = []Source{SourceLocal, SourceClient, SourceRemote}

func (s Source) String() string {
	if s == SourceUnspecified {
		return "unspecified"
	}
	return string(s)
}

// Ref is a fully resolved, source-tagged document identifier. Locator is
// an absolute, cleaned path for local and client documents and a canonical
// URL for remote ones. Build refs with NewLocalRef, NewClientRef or
// NewRemoteRef so the locator is always normalized.
type Ref struct {
	Source   Source `json:"source"`
	Locator  string `json:"locator"`
	Category string `json:"category"`
}

// Key is the identity of the ref: source plus normalized locator. Two refs
// that only differ by category are the same document.
func (r Ref) Key() string {
	return string(r.Source) + "\x00" + r.Locator
}

func (r Ref) String() string {
	return r.Source.String() + ":" + r.Locator
}

// NewLocalRef builds a ref for a file on the serving host.
func NewLocalRef(category, path string) (Ref, error) {
	abs, err := NormalizeLocal(path)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Source: SourceLocal, Locator: abs, Category: category}, nil
}

// NewClientRef builds a ref for a file on the agent's filesystem. Relative
// paths are resolved against cwd, the client's reported working directory.
func NewClientRef(category, path, cwd string) Ref {
	return Ref{Source: SourceClient, Locator: NormalizeClient(path, cwd), Category: category}
}

// NewRemoteRef builds a ref for an HTTP(S) document.
func NewRemoteRef(category, rawURL string) (Ref, error) {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Source: SourceRemote, Locator: canonical, Category: category}, nil
}

// NormalizeLocal returns the absolute, cleaned form of path.
func NormalizeLocal(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty local path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// NormalizeClient cleans a client path, joining it onto cwd when relative.
// When cwd is unknown a relative path stays relative; the policy gate
// rejects it.
func NormalizeClient(path, cwd string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) && cwd != "" {
		path = filepath.Join(cwd, path)
	}
	return filepath.Clean(path)
}

// NormalizeURL canonicalizes rawURL: lower-case scheme and host, default
// ports dropped, dot segments removed, empty path replaced by "/",
// fragment removed. The scheme
// is preserved so the policy gate can reject plain http.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		// IPv6 literal
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	if cleaned := cleanURLPath(u.Path); cleaned != u.Path {
		u.Path = cleaned
		u.RawPath = ""
	}
	return u.String(), nil
}

// cleanURLPath removes "." and ".." segments (percent-encoded ones included,
// since p is the decoded path) and keeps a trailing slash.
func cleanURLPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
