// Package resources implements MCP resource handlers for docket.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (docket://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/policy"
	"github.com/HendryAvila/docket/internal/resolve"
)

const (
	CatalogURI    = "docket://catalog"
	CacheStatsURI = "docket://cache/stats"
)

// SessionSource hands resources the resolution session of the caller.
type SessionSource interface {
	Session(ctx context.Context) *resolve.Session
}

// Handler manages docket resource endpoints.
type Handler struct {
	sessions SessionSource
	store    cache.Store
}

// NewHandler creates a resource Handler with its dependencies. store may
// be nil when the persistent cache is disabled.
func NewHandler(sessions SessionSource, store cache.Store) *Handler {
	return &Handler{sessions: sessions, store: store}
}

// CatalogResource returns the MCP resource definition for the bound catalog.
func (h *Handler) CatalogResource() mcp.Resource {
	return mcp.NewResource(
		CatalogURI,
		"docket Catalog",
		mcp.WithResourceDescription("Categories, collections and effective policy of the bound project"),
		mcp.WithMIMEType("application/json"),
	)
}

type catalogView struct {
	Catalog *catalog.Catalog `json:"catalog"`
	Policy  policy.Policy    `json:"policy"`
}

// HandleCatalog returns the bound catalog as JSON.
func (h *Handler) HandleCatalog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sess := h.sessions.Session(ctx)
	cat := sess.Catalog()
	if cat == nil {
		return errorResource(req.Params.URI, "no project is bound to this session"), nil
	}
	return jsonResource(req.Params.URI, catalogView{Catalog: cat, Policy: sess.Policy()})
}

// CacheStatsResource returns the MCP resource definition for cache statistics.
func (h *Handler) CacheStatsResource() mcp.Resource {
	return mcp.NewResource(
		CacheStatsURI,
		"docket Cache Statistics",
		mcp.WithResourceDescription("Session and persistent document cache counters"),
		mcp.WithMIMEType("application/json"),
	)
}

type cacheView struct {
	Session    string            `json:"session"`
	Cache      cache.Stats       `json:"cache"`
	Persistent *cache.StoreStats `json:"persistent,omitempty"`
}

// HandleCacheStats returns cache statistics as JSON.
func (h *Handler) HandleCacheStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sess := h.sessions.Session(ctx)
	view := cacheView{Session: sess.ID, Cache: sess.Cache.Stats()}
	if h.store != nil {
		ps, err := h.store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading persistent cache stats: %w", err)
		}
		view.Persistent = &ps
	}
	return jsonResource(req.Params.URI, view)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
