package match

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/doc"
)

func touch(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func locators(refs []doc.Ref) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Source.String()+":"+r.Locator)
	}
	return out
}

func TestExpand_LocalDefaults(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.md", "a.md", "notes.txt", "sub/c.md", ".hidden/d.md")
	cat := catalog.Category{Name: "docs", Local: &catalog.LocalSource{Dir: dir}}

	refs, err := Expand(cat, "", false, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"local:" + filepath.Join(dir, "a.md"),
		"local:" + filepath.Join(dir, "b.md"),
	}
	if diff := cmp.Diff(want, locators(refs)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	for _, r := range refs {
		if r.Category != "docs" {
			t.Errorf("category = %q", r.Category)
		}
	}
}

func TestExpand_LocalExplicitPattern(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "commit.md", "commit-msg.md", "guides/commit.md", "guides/deep/x.md")
	cat := catalog.Category{Name: "review", Local: &catalog.LocalSource{Dir: dir}}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"commit", []string{filepath.Join(dir, "commit.md")}},
		{"commit.md", []string{filepath.Join(dir, "commit.md")}},
		{"commit*", []string{filepath.Join(dir, "commit-msg.md"), filepath.Join(dir, "commit.md")}},
		{"**/commit", []string{filepath.Join(dir, "commit.md"), filepath.Join(dir, "guides", "commit.md")}},
		{"guides/**", []string{filepath.Join(dir, "guides", "commit.md"), filepath.Join(dir, "guides", "deep", "x.md")}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			refs, err := Expand(cat, tt.pattern, true, Options{})
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, r := range refs {
				got = append(got, r.Locator)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExpand_FilenameOverridesPlainTermsOnly(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "README.md", "guide.md")
	cat := catalog.Category{Name: "docs", Local: &catalog.LocalSource{Dir: dir}}

	refs, err := Expand(cat, "", false, Options{Filename: "README*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || filepath.Base(refs[0].Locator) != "README.md" {
		t.Errorf("plain term with filename = %v", locators(refs))
	}

	refs, err = Expand(cat, "guide", true, Options{Filename: "README*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || filepath.Base(refs[0].Locator) != "guide.md" {
		t.Errorf("explicit term must ignore filename, got %v", locators(refs))
	}
}

func TestExpand_MissingLocalDirIsEmpty(t *testing.T) {
	cat := catalog.Category{Name: "docs", Local: &catalog.LocalSource{Dir: filepath.Join(t.TempDir(), "nope")}}
	refs, err := Expand(cat, "", false, Options{})
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("refs = %v", refs)
	}
}

func TestExpand_CanonicalOrderAcrossSources(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "commit.md")
	cwd := t.TempDir()
	cat := catalog.Category{
		Name:   "review",
		Local:  &catalog.LocalSource{Dir: dir},
		Client: map[string]string{"commit": "COMMIT.md", "other": "OTHER.md"},
		HTTPS: map[string][]string{
			"commit": {"https://b.example.com/commit.md", "https://a.example.com/commit.md"},
			"style":  {"https://example.com/style.md"},
		},
	}

	refs, err := Expand(cat, "commit", true, Options{ClientCwd: cwd})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"local:" + filepath.Join(dir, "commit.md"),
		"client:" + filepath.Join(cwd, "COMMIT.md"),
		"remote:https://a.example.com/commit.md",
		"remote:https://b.example.com/commit.md",
	}
	if diff := cmp.Diff(want, locators(refs)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	again, _ := Expand(cat, "commit", true, Options{ClientCwd: cwd})
	if diff := cmp.Diff(refs, again); diff != "" {
		t.Errorf("expansion is not stable:\n%s", diff)
	}
}

func TestExpand_PlainTermTakesAllEntries(t *testing.T) {
	cat := catalog.Category{
		Name:   "ext",
		Client: map[string]string{"a": "/abs/a.md", "b": "/abs/b.md"},
		HTTPS:  map[string][]string{"s": {"https://example.com/s.md"}},
	}
	refs, err := Expand(cat, "", false, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"client:/abs/a.md", "client:/abs/b.md", "remote:https://example.com/s.md"}
	if diff := cmp.Diff(want, locators(refs)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_RegisteredGlobMatchesLiteralRequest(t *testing.T) {
	cat := catalog.Category{
		Name:  "ext",
		HTTPS: map[string][]string{"guide-*": {"https://example.com/guides.md"}},
	}
	refs, err := Expand(cat, "guide-intro", true, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 {
		t.Errorf("refs = %v", locators(refs))
	}
}

func TestExpand_DedupesSameLocator(t *testing.T) {
	cat := catalog.Category{
		Name:  "ext",
		HTTPS: map[string][]string{"a": {"https://Example.com/x.md"}, "b": {"https://example.com:443/x.md"}},
	}
	refs, err := Expand(cat, "", false, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 {
		t.Errorf("want one deduplicated ref, got %v", locators(refs))
	}
}

func TestExpand_InvalidURLReportedButOthersKept(t *testing.T) {
	cat := catalog.Category{
		Name:  "ext",
		HTTPS: map[string][]string{"bad": {"not a url"}, "good": {"https://example.com/g.md"}},
	}
	refs, err := Expand(cat, "", false, Options{})
	if err == nil {
		t.Error("expected an error for the malformed url")
	}
	if len(refs) != 1 || refs[0].Locator != "https://example.com/g.md" {
		t.Errorf("refs = %v", locators(refs))
	}
}

func TestExpand_SameBasenameDifferentDirs(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "api/README.md", "cli/README.md")
	cat := catalog.Category{Name: "docs", Local: &catalog.LocalSource{Dir: dir, Patterns: []string{"**/README.md"}}}
	refs, err := Expand(cat, "", false, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("want both READMEs, got %v", locators(refs))
	}
}
