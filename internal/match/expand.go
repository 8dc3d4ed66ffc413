package match

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/doc"
)

// Options tune expansion of one term.
type Options struct {
	// Filename replaces the category's default patterns for plain terms.
	// Terms with an explicit document pattern ignore it.
	Filename string
	// ClientCwd is the agent's working directory, used to anchor relative
	// client paths.
	ClientCwd string
}

// Expand turns a category plus an optional pattern into concrete refs.
// With explicit false the category's defaults apply: the local patterns
// and every client and https entry.
//
// Refs come back in canonical order: local, client, remote, each sorted by
// locator, with duplicates removed. Entries that cannot be normalized are
// skipped and reported through the returned error; the refs that could be
// built are still returned.
func Expand(cat catalog.Category, pattern string, explicit bool, opts Options) ([]doc.Ref, error) {
	want := pattern
	if !explicit {
		want = opts.Filename
	}

	var errs []error
	var out []doc.Ref

	local, err := expandLocal(cat, want)
	if err != nil {
		errs = append(errs, err)
	}
	out = append(out, local...)
	out = append(out, expandClient(cat, want, opts.ClientCwd)...)

	remote, err := expandRemote(cat, want)
	if err != nil {
		errs = append(errs, err)
	}
	out = append(out, remote...)

	return dedupe(out), errors.Join(errs...)
}

func expandLocal(cat catalog.Category, want string) ([]doc.Ref, error) {
	if cat.Local == nil || cat.Local.Dir == "" {
		return nil, nil
	}
	patterns := cat.Local.PatternsOrDefault()
	if want != "" {
		patterns = []string{want}
	}

	files, err := listFiles(cat.Local.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", cat.Local.Dir, err)
	}

	var refs []doc.Ref
	for _, rel := range files {
		if !matchesAny(patterns, rel) {
			continue
		}
		ref, err := doc.NewLocalRef(cat.Name, filepath.Join(cat.Local.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	sortByLocator(refs)
	return refs, nil
}

func expandClient(cat catalog.Category, want, cwd string) []doc.Ref {
	var refs []doc.Ref
	for _, name := range sortedNames(cat.Client) {
		p := cat.Client[name]
		if want != "" && !nameMatches(want, name) && !nameMatches(want, filepath.ToSlash(p)) {
			continue
		}
		refs = append(refs, doc.NewClientRef(cat.Name, p, cwd))
	}
	sortByLocator(refs)
	return refs
}

func expandRemote(cat catalog.Category, want string) ([]doc.Ref, error) {
	var refs []doc.Ref
	var errs []error
	for _, name := range sortedNames(cat.HTTPS) {
		if want != "" && !nameMatches(want, name) {
			continue
		}
		for _, raw := range cat.HTTPS[name] {
			ref, err := doc.NewRemoteRef(cat.Name, raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", cat.Name, name, err))
				continue
			}
			refs = append(refs, ref)
		}
	}
	sortByLocator(refs)
	return refs, errors.Join(errs...)
}

// matchesAny reports whether rel, or rel without its extension, matches one
// of patterns. The extension-less form lets "review/commit" select
// commit.md.
func matchesAny(patterns []string, rel string) bool {
	bare := strings.TrimSuffix(rel, path.Ext(rel))
	for _, p := range patterns {
		if Match(p, rel) || Match(p, bare) {
			return true
		}
	}
	return false
}

// nameMatches compares a requested pattern with a registered document name.
// Either side may carry glob syntax.
func nameMatches(requested, registered string) bool {
	if matchesAny([]string{requested}, registered) {
		return true
	}
	return HasMeta(registered) && Match(registered, requested)
}

// listFiles returns every regular file under dir as a slash-separated
// relative path. Hidden directories are skipped. A missing dir is empty.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sortByLocator(refs []doc.Ref) {
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Locator < refs[j].Locator })
}

func dedupe(refs []doc.Ref) []doc.Ref {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}
