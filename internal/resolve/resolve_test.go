package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/expr"
	"github.com/HendryAvila/docket/internal/failure"
	"github.com/HendryAvila/docket/internal/fetch"
	"github.com/HendryAvila/docket/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeRemote struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, ref doc.Ref) doc.Outcome
}

func (f *fakeRemote) Source() doc.Source { return doc.SourceRemote }

func (f *fakeRemote) Fetch(ctx context.Context, ref doc.Ref) doc.Outcome {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ref.Locator]++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, ref)
	}
	return doc.Succeeded([]byte("remote:"+ref.Locator), 1)
}

func (f *fakeRemote) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeTransport struct {
	calls atomic.Int32
}

func (f *fakeTransport) RequestClientFile(_ context.Context, path string) ([]byte, error) {
	f.calls.Add(1)
	return []byte("client:" + path), nil
}

// ─── Fixtures ────────────────────────────────────────────────────────────────

type fixture struct {
	root      string
	cwd       string
	catalog   *catalog.Catalog
	remote    *fakeRemote
	transport *fakeTransport
	resolver  *Resolver
	session   *Session
}

func write(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	root := t.TempDir()
	cwd := t.TempDir()
	write(t, root, map[string]string{
		"docs/intro.md":        "intro",
		"docs/setup.md":        "setup",
		"docs/notes.txt":       "not markdown",
		"review/commit.md":     "commit rules",
		"review/pr.md":         "pr rules",
		"api/README.md":        "api readme",
		"cli/README.md":        "cli readme",
		"conventions/style.md": "style",
	})
	write(t, cwd, map[string]string{"CHECKLIST.md": "checklist"})

	f := &fixture{
		root: root,
		cwd:  cwd,
		catalog: &catalog.Catalog{
			Project: "demo",
			Root:    root,
			Categories: map[string]catalog.Category{
				"docs":   {Name: "docs", Local: &catalog.LocalSource{Dir: filepath.Join(root, "docs")}},
				"review": {Name: "review", Local: &catalog.LocalSource{Dir: filepath.Join(root, "review")}},
				"readmes": {Name: "readmes", Local: &catalog.LocalSource{
					Dir: root, Patterns: []string{"api/README.md", "cli/README.md"},
				}},
				"style": {Name: "style", Local: &catalog.LocalSource{Dir: filepath.Join(root, "conventions")}},
				"ext": {Name: "ext", HTTPS: map[string][]string{
					"guide":    {"https://docs.example.com/guide.md"},
					"insecure": {"http://docs.example.com/plain.md"},
				}},
				"agent": {Name: "agent", Client: map[string]string{
					"checklist": "CHECKLIST.md",
					"secrets":   "/etc/secrets.md",
				}},
			},
			Collections: map[string][]string{
				"guidelines":  {"docs", "review/commit"},
				"conventions": {"style", "review/commit"},
				"loop-a":      {"loop-b"},
				"loop-b":      {"loop-a"},
				"broken":      {"docs,"},
			},
		},
		remote:    &fakeRemote{},
		transport: &fakeTransport{},
	}
	for _, o := range opts {
		o(f)
	}
	f.resolver = New(Options{
		Fetchers: fetch.NewSet(fetch.NewLocal(0), f.remote),
	})
	f.session = NewSession("s1", policy.Policy{AllowedReadPaths: []string{"."}}, cache.New(cache.Options{}))
	f.session.SetClient(f.transport, cwd)
	f.session.SwitchProject(f.catalog)
	return f
}

func (f *fixture) resolve(t *testing.T, expression string) *Result {
	t.Helper()
	res, err := f.resolver.Resolve(context.Background(), f.session, Request{Expression: expression})
	require.NoError(t, err)
	return res
}

func relLocators(root string, docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if rel, err := filepath.Rel(root, d.Locator); err == nil && d.Source == doc.SourceLocal {
			out = append(out, filepath.ToSlash(rel))
			continue
		}
		out = append(out, d.Locator)
	}
	return out
}

func failureKinds(fs []Failure) []FailureKind {
	var out []FailureKind
	for _, f := range fs {
		out = append(out, f.Kind)
	}
	return out
}

// ─── Scenarios ───────────────────────────────────────────────────────────────

func TestResolve_DocsAndReviewCommit(t *testing.T) {
	f := newFixture(t)
	res := f.resolve(t, "docs,review/commit")

	want := []string{"docs/intro.md", "docs/setup.md", "review/commit.md"}
	if diff := cmp.Diff(want, relLocators(f.root, res.Documents)); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Failures)
	assert.Equal(t, "commit rules", res.Documents[2].Content)
	assert.Equal(t, "review", res.Documents[2].Category)
}

func TestResolve_CollectionUnion(t *testing.T) {
	f := newFixture(t)
	res := f.resolve(t, "guidelines+conventions")

	want := []string{"docs/intro.md", "docs/setup.md", "review/commit.md", "conventions/style.md"}
	if diff := cmp.Diff(want, relLocators(f.root, res.Documents)); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	f := newFixture(t)
	first := f.resolve(t, "docs,ext,agent/checklist")
	fetchesAfterFirst := f.remote.total()
	clientCallsAfterFirst := f.transport.calls.Load()

	second := f.resolve(t, "docs,ext,agent/checklist")
	assert.Equal(t, first.Documents, second.Documents)
	assert.Equal(t, first.Failures, second.Failures)
	assert.Zero(t, second.Stats.Fetched)
	assert.Equal(t, fetchesAfterFirst, f.remote.total(), "second resolve must not refetch")
	assert.Equal(t, clientCallsAfterFirst, f.transport.calls.Load())
}

func TestResolve_SameBasenameDifferentDirs(t *testing.T) {
	f := newFixture(t)
	res := f.resolve(t, "readmes")
	assert.Equal(t, []string{"api/README.md", "cli/README.md"}, relLocators(f.root, res.Documents))
}

func TestResolve_HTTPDeniedWithoutFetch(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.catalog.Policy = &catalog.PolicySpec{
			HTTPS:            &catalog.HTTPSPolicy{Allowlist: []string{"docs.example.com", "http://docs.example.com/**"}},
			AllowedReadPaths: []string{"."},
		}
	})
	res := f.resolve(t, "ext")

	assert.Equal(t, []string{"https://docs.example.com/guide.md"}, relLocators(f.root, res.Documents))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, FailureDenied, res.Failures[0].Kind)
	assert.Equal(t, "http://docs.example.com/plain.md", res.Failures[0].Locator)
	assert.Equal(t, "policy_blocked", res.Failures[0].Code)
	assert.Equal(t, "check the https allowlist and blocklist", res.Failures[0].Hint)
	assert.Equal(t, 0, f.remote.calls["http://docs.example.com/plain.md"])
	assert.Equal(t, 1, res.Stats.Denied)
}

func TestResolve_ClientOutsideAllowedPathsNeverRequested(t *testing.T) {
	f := newFixture(t)
	res := f.resolve(t, "agent/secrets")

	assert.Empty(t, res.Documents)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, FailureDenied, res.Failures[0].Kind)
	assert.Equal(t, "add the path to allowed_read_paths", res.Failures[0].Hint)
	assert.Zero(t, f.transport.calls.Load())

	key := cache.NewKey(doc.NewClientRef("agent", "/etc/secrets.md", f.cwd), f.session.Policy().Epoch())
	e, ok := f.session.Cache.Get(key)
	require.True(t, ok, "denial must be cached")
	assert.Equal(t, doc.Denied, e.Outcome.Kind)
}

func TestResolve_ClientInsideAllowedPaths(t *testing.T) {
	f := newFixture(t)
	res := f.resolve(t, "agent/checklist")
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "client:"+filepath.Join(f.cwd, "CHECKLIST.md"), res.Documents[0].Content)
	assert.EqualValues(t, 1, f.transport.calls.Load())
}

func TestResolve_ParseErrorAborts(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), f.session, Request{Expression: "docs,,review"})
	var pe *expr.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 5, pe.Offset)
}

func TestResolve_UnknownNamesAreEmptyNotErrors(t *testing.T) {
	f := newFixture(t)
	res := f.resolve(t, "nope,docs/intro,ghost/x")
	assert.Equal(t, []string{"docs/intro.md"}, relLocators(f.root, res.Documents))
	assert.Equal(t, []FailureKind{FailureUnknown, FailureUnknown}, failureKinds(res.Failures))
}

func TestResolve_AndOr(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "guidelines&review")
	assert.Equal(t, []string{"review/commit.md"}, relLocators(f.root, res.Documents))

	res = f.resolve(t, "review/pr|style")
	assert.Equal(t, []string{"review/pr.md", "conventions/style.md"}, relLocators(f.root, res.Documents))

	res = f.resolve(t, "docs&style")
	assert.Empty(t, res.Documents)
}

func TestResolve_CollectionFailures(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "loop-a,review/pr")
	assert.Equal(t, []string{"review/pr.md"}, relLocators(f.root, res.Documents))
	assert.Equal(t, []FailureKind{FailureCollection}, failureKinds(res.Failures))

	res = f.resolve(t, "broken")
	assert.Empty(t, res.Documents)
	assert.Equal(t, []FailureKind{FailureCollection}, failureKinds(res.Failures))
}

func TestResolve_FilenameOverride(t *testing.T) {
	f := newFixture(t)
	res, err := f.resolver.Resolve(context.Background(), f.session, Request{Expression: "docs,review/commit", Filename: "setup*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/setup.md", "review/commit.md"}, relLocators(f.root, res.Documents))
}

func TestResolve_FailuresDoNotAbortSiblings(t *testing.T) {
	f := newFixture(t)
	f.remote.fn = func(context.Context, doc.Ref) doc.Outcome { return doc.Permanent("404 Not Found", 1) }
	res := f.resolve(t, "ext/guide,docs/intro")
	assert.Equal(t, []string{"docs/intro.md"}, relLocators(f.root, res.Documents))
	assert.Equal(t, []FailureKind{FailurePermanent}, failureKinds(res.Failures))

	f.resolve(t, "ext/guide")
	assert.Equal(t, 1, f.remote.total(), "permanent failures are cached")
}

func TestResolve_FailureCarriesCodeAndHint(t *testing.T) {
	f := newFixture(t)
	f.remote.fn = func(context.Context, doc.Ref) doc.Outcome {
		return doc.OutcomeFromError(failure.Wrap(errors.New("GET returned 410"),
			failure.CategoryNetworkPermanent, "http_gone", "remove the url from the catalog", false), 1)
	}
	res := f.resolve(t, "ext/guide")

	require.Len(t, res.Failures, 1)
	got := res.Failures[0]
	assert.Equal(t, FailurePermanent, got.Kind)
	assert.Equal(t, "http_gone", got.Code)
	assert.Equal(t, "remove the url from the catalog", got.Hint)

	res = f.resolve(t, "ext/guide")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "http_gone", res.Failures[0].Code, "code survives the cache")
	assert.Equal(t, 1, f.remote.total())
}

func TestResolve_TransientRetriedOnNextRequest(t *testing.T) {
	f := newFixture(t)
	var n atomic.Int32
	f.remote.fn = func(context.Context, doc.Ref) doc.Outcome {
		if n.Add(1) == 1 {
			return doc.Transient("timeout", 3)
		}
		return doc.Succeeded([]byte("ok"), 1)
	}
	res := f.resolve(t, "ext/guide")
	assert.Equal(t, []FailureKind{FailureTransient}, failureKinds(res.Failures))

	res = f.resolve(t, "ext/guide")
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "ok", res.Documents[0].Content)
}

func TestResolve_PolicyChangeLiftsDenial(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.catalog.Policy = &catalog.PolicySpec{HTTPS: &catalog.HTTPSPolicy{Blocklist: []string{"docs.example.com"}}}
	})
	res := f.resolve(t, "ext/guide")
	assert.Equal(t, []FailureKind{FailureDenied}, failureKinds(res.Failures))

	updated := *f.catalog
	updated.Policy = &catalog.PolicySpec{}
	assert.True(t, f.session.ReloadCatalog(&updated))
	assert.Zero(t, f.session.Cache.Stats().Negative, "policy denials must be dropped")

	res = f.resolve(t, "ext/guide")
	require.Len(t, res.Documents, 1)
	assert.Equal(t, 1, f.remote.total())
}

func TestResolve_ConcurrentRequestsShareFetches(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.fn = func(context.Context, doc.Ref) doc.Outcome {
		<-release
		return doc.Succeeded([]byte("shared"), 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.resolver.Resolve(context.Background(), f.session, Request{Expression: "ext/guide"})
			assert.NoError(t, err)
			assert.Len(t, res.Documents, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, 1, f.remote.total())
}

func TestResolve_CancelledRequestStillPopulatesCache(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	finished := make(chan struct{})
	f.remote.fn = func(context.Context, doc.Ref) doc.Outcome {
		defer close(finished)
		<-release
		return doc.Succeeded([]byte("late"), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(ctx, f.session, Request{Expression: "ext/guide"})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-finished
	require.Eventually(t, func() bool { return f.session.Cache.Stats().Positive == 1 }, time.Second, 5*time.Millisecond)

	res := f.resolve(t, "ext/guide")
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "late", res.Documents[0].Content)
	assert.Equal(t, 1, f.remote.total())
}

func TestResolve_SessionEndAndPersistentStore(t *testing.T) {
	store, err := cache.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := newFixture(t)
	sess := NewSession("s1", policy.Policy{}, cache.New(cache.Options{Store: store}))
	sess.SwitchProject(f.catalog)

	_, err = f.resolver.Resolve(context.Background(), sess, Request{Expression: "ext/guide,docs/intro"})
	require.NoError(t, err)
	require.Equal(t, 1, f.remote.total())

	sess.Close()
	assert.Zero(t, sess.Cache.Stats().Entries, "session end empties the cache")

	next := NewSession("s2", policy.Policy{}, cache.New(cache.Options{Store: store}))
	next.SwitchProject(f.catalog)
	res, err := f.resolver.Resolve(context.Background(), next, Request{Expression: "ext/guide,docs/intro"})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, 1, f.remote.total(), "persisted remote document must resolve without a fetch")
	assert.EqualValues(t, 1, next.Cache.Stats().StoreHits)
}

func TestResolve_ProjectSwitchClearsCache(t *testing.T) {
	f := newFixture(t)
	f.resolve(t, "ext/guide")
	dropped := f.session.SwitchProject(f.catalog)
	assert.Equal(t, 1, dropped)
	f.resolve(t, "ext/guide")
	assert.Equal(t, 2, f.remote.total())
}

func TestResolve_RenderFailureIsPerDocument(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, map[string]string{"docs/binary.md": string([]byte{0xff, 0xfe})})
	res := f.resolve(t, "docs")
	assert.Len(t, res.Documents, 2)
	assert.Equal(t, []FailureKind{FailureRender}, failureKinds(res.Failures))
}

func TestResolve_Logs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture(t)
	f.resolver = New(Options{Fetchers: fetch.NewSet(fetch.NewLocal(0), f.remote), Logger: zap.New(core)})

	f.resolve(t, "docs")
	entries := logs.FilterMessage("resolved").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "docs", fields["expression"])
	assert.EqualValues(t, 2, fields["documents"])
}

func TestResolve_NoProjectBound(t *testing.T) {
	r := New(Options{})
	sess := NewSession("s", policy.Policy{}, nil)
	res, err := r.Resolve(context.Background(), sess, Request{Expression: "docs"})
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Equal(t, []FailureKind{FailureUnknown}, failureKinds(res.Failures))
}

func TestResolve_DeterministicOrderUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	var delay atomic.Int64
	f.remote.fn = func(_ context.Context, ref doc.Ref) doc.Outcome {
		time.Sleep(time.Duration(delay.Add(-5)+50) * time.Millisecond / 10)
		return doc.Succeeded([]byte(ref.Locator), 1)
	}
	f.catalog.Categories["many"] = catalog.Category{Name: "many", HTTPS: map[string][]string{
		"a": {"https://example.com/a.md"}, "b": {"https://example.com/b.md"},
		"c": {"https://example.com/c.md"}, "d": {"https://example.com/d.md"},
	}}
	res := f.resolve(t, "many")
	got := relLocators(f.root, res.Documents)
	assert.True(t, sort.StringsAreSorted(got), "documents must follow canonical order: %v", got)
	assert.Len(t, got, 4)
}
