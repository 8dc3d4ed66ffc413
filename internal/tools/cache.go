package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/cache"
)

// CacheStatusTool handles the docket_cache_status MCP tool.
type CacheStatusTool struct {
	sessions Sessions
	store    cache.Store
}

// NewCacheStatusTool creates a CacheStatusTool. store may be nil when the
// persistent cache is disabled.
func NewCacheStatusTool(sessions Sessions, store cache.Store) *CacheStatusTool {
	return &CacheStatusTool{sessions: sessions, store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("docket_cache_status",
		mcp.WithDescription("Show document cache statistics for this session and the persistent cache."),
	)
}

// Handle processes the docket_cache_status tool call.
func (t *CacheStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := t.sessions.Session(ctx)
	st := sess.Cache.Stats()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Cache\n\n## Session %s\n\n", sess.ID)
	fmt.Fprintf(&sb, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Entries | %d (%d documents, %d negative) |\n", st.Entries, st.Positive, st.Negative)
	fmt.Fprintf(&sb, "| Hits | %d |\n", st.Hits)
	fmt.Fprintf(&sb, "| Misses | %d |\n", st.Misses)
	fmt.Fprintf(&sb, "| Fetches | %d |\n", st.Fetches)
	fmt.Fprintf(&sb, "| Joined in-flight | %d |\n", st.Shared)
	fmt.Fprintf(&sb, "| Persistent hits | %d |\n", st.StoreHits)

	sb.WriteString("\n## Persistent\n\n")
	if t.store == nil {
		sb.WriteString("Disabled. Set `persistent = true` under `[cache]` in the config to enable it.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}
	ps, err := t.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading persistent cache stats: %w", err)
	}
	fmt.Fprintf(&sb, "**Path:** `%s`\n\n", ps.Path)
	fmt.Fprintf(&sb, "- %d rows (%d documents, %d permanent failures)\n", ps.Rows, ps.Positive, ps.Negative)
	fmt.Fprintf(&sb, "- %d content bytes\n", ps.Bytes)
	return mcp.NewToolResultText(sb.String()), nil
}

// ClearCacheTool handles the docket_clear_cache MCP tool.
type ClearCacheTool struct {
	sessions Sessions
	store    cache.Store
}

func NewClearCacheTool(sessions Sessions, store cache.Store) *ClearCacheTool {
	return &ClearCacheTool{sessions: sessions, store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ClearCacheTool) Definition() mcp.Tool {
	return mcp.NewTool("docket_clear_cache",
		mcp.WithDescription(
			"Empty this session's document cache so the next docket_get_content refetches. "+
				"With persistent=true the persistent cache is purged as well.",
		),
		mcp.WithBoolean("persistent",
			mcp.Description("Also purge the persistent cache shared by all sessions"),
			mcp.DefaultBool(false),
		),
	)
}

// Handle processes the docket_clear_cache tool call.
func (t *ClearCacheTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	persistent := req.GetBool("persistent", false)
	if persistent && t.store == nil {
		return mcp.NewToolResultError("The persistent cache is disabled; nothing to purge."), nil
	}

	sess := t.sessions.Session(ctx)
	dropped := sess.Cache.InvalidateSession()
	response := fmt.Sprintf("Dropped %d session cache entries.", dropped)

	if persistent {
		n, err := t.store.Purge(ctx)
		if err != nil {
			return nil, fmt.Errorf("purging persistent cache: %w", err)
		}
		response += fmt.Sprintf(" Purged %d persistent rows.", n)
	}
	return mcp.NewToolResultText(response), nil
}
