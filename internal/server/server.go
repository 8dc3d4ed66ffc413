// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on
// abstractions. No business logic lives here, only wiring.
package server

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/config"
	"github.com/HendryAvila/docket/internal/fetch"
	"github.com/HendryAvila/docket/internal/prompts"
	"github.com/HendryAvila/docket/internal/render"
	"github.com/HendryAvila/docket/internal/resolve"
	"github.com/HendryAvila/docket/internal/resources"
	"github.com/HendryAvila/docket/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Options configure New. Zero values take defaults.
type Options struct {
	Config config.Config
	Logger *zap.Logger
	// ProjectRoot is bound to every new session when it has a catalog.
	ProjectRoot string
}

// New creates and configures the MCP server with all tools, prompts and
// resources registered.
//
// The returned cleanup function ends every session, stops the catalog
// watchers and closes the persistent store. It is always non-nil.
func New(opts Options) (*server.MCPServer, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config

	// --- Create shared dependencies ---

	catalogs, err := catalog.NewFileStore()
	if err != nil {
		return nil, noop, fmt.Errorf("creating catalog store: %w", err)
	}

	// The persistent cache is optional: if it fails to open, resolution
	// keeps working with session caches only.
	var store cache.Store
	if cfg.Cache.Persistent {
		sqlite, err := cache.OpenSQLite(cfg.Cache.Dir)
		if err != nil {
			logger.Warn("persistent cache disabled", zap.String("dir", cfg.Cache.Dir), zap.Error(err))
		} else {
			store = sqlite
			logger.Info("persistent cache enabled", zap.String("path", sqlite.Path()))
		}
	}

	resolver := NewResolver(cfg, logger)

	registry := NewRegistry(RegistryOptions{
		Global:      cfg.Policy(),
		Catalogs:    catalogs,
		Store:       store,
		DefaultRoot: opts.ProjectRoot,
		Logger:      logger.Named("sessions"),
	})

	cleanup := func() {
		registry.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("closing persistent cache", zap.Error(err))
			}
		}
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"docket",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(registry.Hooks()),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register tools ---

	contentTool := tools.NewContentTool(registry, resolver)
	s.AddTool(contentTool.Definition(), contentTool.Handle)

	listTool := tools.NewListCatalogTool(registry)
	s.AddTool(listTool.Definition(), listTool.Handle)

	switchTool := tools.NewSwitchProjectTool(registry)
	s.AddTool(switchTool.Definition(), switchTool.Handle)

	statusTool := tools.NewCacheStatusTool(registry, store)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	clearTool := tools.NewClearCacheTool(registry, store)
	s.AddTool(clearTool.Definition(), clearTool.Handle)

	initTool := tools.NewInitTool(registry, catalogs)
	s.AddTool(initTool.Definition(), initTool.Handle)

	// --- Register prompts ---

	loadPrompt := prompts.NewLoadDocsPrompt()
	s.AddPrompt(loadPrompt.Definition(), loadPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt(registry)
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(registry, store)
	s.AddResource(resourceHandler.CatalogResource(), resourceHandler.HandleCatalog)
	s.AddResource(resourceHandler.CacheStatsResource(), resourceHandler.HandleCacheStats)

	return s, cleanup, nil
}

// NewResolver builds the resolver described by cfg. The CLI uses it for
// one-shot resolution outside the MCP server.
func NewResolver(cfg config.Config, logger *zap.Logger) *resolve.Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	remoteOpts := cfg.RemoteOptions()
	remoteOpts.UserAgent = "docket/" + Version
	remoteOpts.Logger = logger.Named("fetch.remote")

	fetchers := fetch.NewSet(
		fetch.NewLocal(cfg.Fetch.MaxDocumentBytes),
		fetch.NewRemote(remoteOpts),
	)
	return resolve.New(resolve.Options{
		Fetchers: fetchers,
		ClientOptions: fetch.ClientOptions{
			Timeout:  cfg.Fetch.ClientTimeout,
			MaxBytes: cfg.Fetch.MaxDocumentBytes,
			Logger:   logger.Named("fetch.client"),
		},
		Renderer:    render.Default{HTMLToText: cfg.Fetch.HTMLToText},
		Concurrency: cfg.Fetch.Concurrency,
		Logger:      logger.Named("resolve"),
	})
}

// noop is the cleanup returned when construction fails.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use docket effectively.
func serverInstructions() string {
	return `You have access to docket, a documentation delivery MCP server.

docket serves curated project documentation (guidelines, conventions,
reference pages) declared in the project's .docket/catalog.yaml.

## WHEN TO USE docket

Load documentation with docket_get_content BEFORE you:
- Write or review code in an unfamiliar part of the project
- Write commit messages, pull requests or release notes
- Follow a project convention you have not read in this session

Use docket_list_catalog first when you do not know which categories exist.

## EXPRESSIONS

- docs                 all default documents of the "docs" category
- review/commit        one document, matched by name or glob
- docs,review/commit   union (also written docs+review/commit)
- guidelines           a collection: a named expression from the catalog
- docs&api             documents present in both

Results come back in expression order with duplicates removed. Calling the
same expression again in a session is served from cache, so do not hesitate
to reload documents you need.

## FAILURES

Documents that could not be delivered are listed under "Not delivered":
- denied: blocked by the security policy (plain http is always denied)
- permanent: missing or unreadable; retrying will not help
- transient: temporarily unavailable; try again later

## PROJECTS

A session is bound to one project. Use docket_switch_project to change
it (this clears the session cache) or docket_init to create a catalog.`
}
