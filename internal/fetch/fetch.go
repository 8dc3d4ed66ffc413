// Package fetch retrieves document bytes from the three document sources.
//
// Every fetcher returns a doc.Outcome rather than an error: success,
// permanent failure, transient failure or (for redirects the policy
// rejects) denial. Only the remote fetcher retries.
package fetch

import (
	"context"
	"fmt"

	"github.com/HendryAvila/docket/internal/doc"
)

// DefaultMaxDocumentBytes bounds every fetched document.
const DefaultMaxDocumentBytes int64 = 4 << 20

// Fetcher retrieves documents of one source.
type Fetcher interface {
	Source() doc.Source
	Fetch(ctx context.Context, ref doc.Ref) doc.Outcome
}

// Set dispatches refs to the fetcher registered for their source.
type Set struct {
	bySource map[doc.Source]Fetcher
}

// NewSet registers fetchers by source. Nil fetchers are skipped; a later
// fetcher replaces an earlier one for the same source.
func NewSet(fetchers ...Fetcher) *Set {
	s := &Set{bySource: make(map[doc.Source]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		if f == nil {
			continue
		}
		s.bySource[f.Source()] = f
	}
	return s
}

// With returns a copy of s with f registered.
func (s *Set) With(f Fetcher) *Set {
	out := &Set{bySource: make(map[doc.Source]Fetcher, len(s.bySource)+1)}
	for k, v := range s.bySource {
		out.bySource[k] = v
	}
	out.bySource[f.Source()] = f
	return out
}

func (s *Set) Fetch(ctx context.Context, ref doc.Ref) doc.Outcome {
	f, ok := s.bySource[ref.Source]
	if !ok {
		return doc.Permanent(fmt.Sprintf("no fetcher for %s documents", ref.Source), 0)
	}
	return f.Fetch(ctx, ref)
}

// URLCheck vets a URL the remote fetcher is about to follow. A non-nil
// error rejects it.
type URLCheck func(rawURL string) error

type urlCheckKey struct{}

// WithURLCheck attaches check to ctx. The remote fetcher applies it to
// every redirect target.
func WithURLCheck(ctx context.Context, check URLCheck) context.Context {
	return context.WithValue(ctx, urlCheckKey{}, check)
}

func urlCheckFrom(ctx context.Context) URLCheck {
	check, _ := ctx.Value(urlCheckKey{}).(URLCheck)
	return check
}
