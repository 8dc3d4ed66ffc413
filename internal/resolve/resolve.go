// Package resolve turns a content request into an ordered, deduplicated
// set of documents.
//
// Resolution runs through fixed stages: parse the expression, match terms
// to refs, check each ref against the session policy, look refs up in the
// session cache, fetch the misses concurrently, record the outcomes, then
// aggregate successes in expression order. Only a malformed expression
// fails the whole request; everything else is reported per term or per
// document.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/expr"
	"github.com/HendryAvila/docket/internal/fetch"
	"github.com/HendryAvila/docket/internal/render"
)

// DefaultConcurrency bounds simultaneous fetches per request.
const DefaultConcurrency = 8

// ─── Types ───────────────────────────────────────────────────────────────────

// Request is one content request.
type Request struct {
	Expression string `json:"expression"`
	// Filename replaces default document patterns for plain category terms.
	Filename string `json:"filename,omitempty"`
}

// Document is one delivered document.
type Document struct {
	Category string     `json:"category"`
	Locator  string     `json:"locator"`
	Source   doc.Source `json:"source"`
	Content  string     `json:"content"`
}

// FailureKind says why part of a request produced no document.
type FailureKind string

const (
	FailureUnknown    FailureKind = "unknown"
	FailureCollection FailureKind = "collection"
	FailureExpand     FailureKind = "expand"
	FailureDenied     FailureKind = "denied"
	FailurePermanent  FailureKind = "permanent"
	FailureTransient  FailureKind = "transient"
	FailureRender     FailureKind = "render"
)

// Failure reports one term or document that could not be delivered.
type Failure struct {
	Term    string      `json:"term"`
	Locator string      `json:"locator,omitempty"`
	Kind    FailureKind `json:"kind"`
	Reason  string      `json:"reason"`
	Code    string      `json:"code,omitempty"`
	Hint    string      `json:"hint,omitempty"`
}

// Stats count what one resolution did.
type Stats struct {
	Refs      int           `json:"refs"`
	CacheHits int           `json:"cache_hits"`
	Fetched   int           `json:"fetched"`
	Shared    int           `json:"shared"`
	Denied    int           `json:"denied"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Result is the aggregated outcome of a request.
type Result struct {
	Documents []Document `json:"documents"`
	Failures  []Failure  `json:"failures,omitempty"`
	Stats     Stats      `json:"stats"`
}

// Options configure a Resolver. Zero values take defaults.
type Options struct {
	// Fetchers serve local and remote refs. Client refs are served by a
	// per-session fetcher built from ClientOptions.
	Fetchers      *fetch.Set
	ClientOptions fetch.ClientOptions
	Renderer      render.Renderer
	Concurrency   int
	Logger        *zap.Logger
}

// Resolver is stateless apart from its collaborators and safe for
// concurrent use across sessions.
type Resolver struct {
	fetchers      *fetch.Set
	clientOptions fetch.ClientOptions
	renderer      render.Renderer
	concurrency   int
	logger        *zap.Logger
}

func New(opts Options) *Resolver {
	if opts.Fetchers == nil {
		opts.Fetchers = fetch.NewSet(fetch.NewLocal(0), fetch.NewRemote(fetch.RemoteOptions{}))
	}
	if opts.Renderer == nil {
		opts.Renderer = render.Default{HTMLToText: true}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		fetchers:      opts.Fetchers,
		clientOptions: opts.ClientOptions,
		renderer:      opts.Renderer,
		concurrency:   opts.Concurrency,
		logger:        opts.Logger,
	}
}

// slot tracks one matched ref through the pipeline.
type slot struct {
	ref     doc.Ref
	term    string
	key     cache.Key
	entry   cache.Entry
	done    bool
	fetched bool
	shared  bool
}

// ─── Resolve ─────────────────────────────────────────────────────────────────

// Resolve runs a request against sess. It returns an error only for a
// malformed expression (*expr.ParseError) or a cancelled ctx.
func (r *Resolver) Resolve(ctx context.Context, sess *Session, req Request) (*Result, error) {
	start := time.Now()
	v := sess.snapshot()

	// Parsing
	parsed, err := expr.Parse(req.Expression)
	if err != nil {
		return nil, err
	}

	// Matching
	m := newMatcher(v, req.Filename)
	matched := m.expression(parsed, 0)
	res := &Result{Failures: m.failures}
	res.Stats.Refs = len(matched)

	slots := make([]*slot, len(matched))
	for i, mr := range matched {
		slots[i] = &slot{ref: mr.ref, term: mr.term, key: cache.NewKey(mr.ref, v.epoch)}
	}

	// PolicyCheck
	var allowed []*slot
	for _, s := range slots {
		d := v.gate.Authorize(s.ref)
		if d.Allowed {
			allowed = append(allowed, s)
			continue
		}
		outcome := doc.Deny(d.Reason)
		outcome.Code = "policy_blocked"
		outcome.Hint = policyHint(s.ref.Source)
		sess.Cache.Put(s.key, s.ref, outcome)
		s.entry = cache.Entry{Key: s.key, Ref: s.ref, Outcome: outcome, Origin: cache.OriginPolicy}
		s.done = true
		res.Stats.Denied++
	}

	// CacheLookup
	var queued []*slot
	for _, s := range allowed {
		if e, ok := sess.Cache.Get(s.key); ok {
			s.entry, s.done = e, true
			res.Stats.CacheHits++
			continue
		}
		queued = append(queued, s)
	}

	// Queuing, Fetching and CachePopulation
	if err := r.fetchAll(ctx, sess, v, queued); err != nil {
		return nil, err
	}
	for _, s := range queued {
		switch {
		case s.fetched:
			res.Stats.Fetched++
		case s.shared:
			res.Stats.Shared++
		default:
			res.Stats.CacheHits++
		}
	}

	// Aggregating
	for _, s := range slots {
		r.aggregate(ctx, res, s)
	}
	if res.Documents == nil {
		res.Documents = []Document{}
	}
	res.Stats.Elapsed = time.Since(start)

	r.logger.Info("resolved",
		zap.String("session", sess.ID),
		zap.String("expression", req.Expression),
		zap.Int("refs", res.Stats.Refs),
		zap.Int("documents", len(res.Documents)),
		zap.Int("failures", len(res.Failures)),
		zap.Int("cache_hits", res.Stats.CacheHits),
		zap.Int("fetched", res.Stats.Fetched),
		zap.Duration("elapsed", res.Stats.Elapsed))
	return res, nil
}

func (r *Resolver) fetchAll(ctx context.Context, sess *Session, v view, queued []*slot) error {
	if len(queued) == 0 {
		return nil
	}
	fetchers := r.fetchers.With(fetch.NewClient(v.client, r.clientOptions))
	check := func(rawURL string) error {
		if d := v.gate.AuthorizeURL(rawURL); !d.Allowed {
			return errors.New(d.Reason)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, s := range queued {
		g.Go(func() error {
			entry, shared, err := sess.Cache.Do(gctx, s.key, s.ref, func(fctx context.Context) doc.Outcome {
				return fetchers.Fetch(fetch.WithURLCheck(fctx, check), s.ref)
			})
			if err != nil {
				return err
			}
			s.entry, s.done, s.shared = entry, true, shared
			s.fetched = !shared && entry.Origin == cache.OriginFetch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("resolve: %w", err)
	}
	return nil
}

func (r *Resolver) aggregate(ctx context.Context, res *Result, s *slot) {
	o := s.entry.Outcome
	fail := func(kind FailureKind, reason string) {
		res.Failures = append(res.Failures, Failure{
			Term: s.term, Locator: s.ref.Locator, Kind: kind, Reason: reason,
			Code: o.Code, Hint: o.Hint,
		})
	}
	switch o.Kind {
	case doc.Success:
		text, err := r.renderer.Render(ctx, s.ref, o.Content)
		if err != nil {
			o.Code = "render_failed"
			fail(FailureRender, err.Error())
			return
		}
		res.Documents = append(res.Documents, Document{
			Category: s.ref.Category,
			Locator:  s.ref.Locator,
			Source:   s.ref.Source,
			Content:  text,
		})
	case doc.Denied:
		fail(FailureDenied, o.Reason)
	case doc.PermanentFailure:
		fail(FailurePermanent, o.Reason)
	case doc.TransientFailure:
		fail(FailureTransient, "temporarily unavailable: "+o.Reason)
	default:
		fail(FailurePermanent, fmt.Sprintf("no outcome recorded (%q)", o.Kind))
	}
}

// policyHint names the policy setting that governs refs of src.
func policyHint(src doc.Source) string {
	if src == doc.SourceClient {
		return "add the path to allowed_read_paths"
	}
	return "check the https allowlist and blocklist"
}
