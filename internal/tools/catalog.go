package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/policy"
)

// ListCatalogTool handles the docket_list_catalog MCP tool.
type ListCatalogTool struct {
	sessions Sessions
}

func NewListCatalogTool(sessions Sessions) *ListCatalogTool {
	return &ListCatalogTool{sessions: sessions}
}

// Definition returns the MCP tool definition for registration.
func (t *ListCatalogTool) Definition() mcp.Tool {
	return mcp.NewTool("docket_list_catalog",
		mcp.WithDescription(
			"List the categories, documents and collections of the bound project, "+
				"plus the security policy in effect. Use it to discover what docket_get_content can load.",
		),
	)
}

// Handle processes the docket_list_catalog tool call.
func (t *ListCatalogTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := t.sessions.Session(ctx)
	cat := sess.Catalog()
	if cat == nil {
		return mcp.NewToolResultError(noProjectHint), nil
	}
	return mcp.NewToolResultText(formatCatalog(cat, sess.Policy())), nil
}

func formatCatalog(cat *catalog.Catalog, pol policy.Policy) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n**Root:** `%s`\n\n", cat.Project, cat.Root)

	sb.WriteString("## Categories\n\n")
	if len(cat.Categories) == 0 {
		sb.WriteString("_none_\n")
	}
	for _, name := range cat.CategoryNames() {
		c := cat.Categories[name]
		fmt.Fprintf(&sb, "### %s\n", name)
		if c.Description != "" {
			fmt.Fprintf(&sb, "%s\n", c.Description)
		}
		sb.WriteString("\n")
		if c.Local != nil {
			fmt.Fprintf(&sb, "- local: `%s` (%s)\n", c.Local.Dir, strings.Join(c.Local.PatternsOrDefault(), ", "))
		}
		for _, key := range sortedKeys(c.Client) {
			fmt.Fprintf(&sb, "- client `%s`: %s\n", key, c.Client[key])
		}
		for _, key := range sortedKeys(c.HTTPS) {
			fmt.Fprintf(&sb, "- https `%s`: %s\n", key, strings.Join(c.HTTPS[key], ", "))
		}
		sb.WriteString("\n")
	}

	if names := cat.CollectionNames(); len(names) > 0 {
		sb.WriteString("## Collections\n\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "- `%s` = %s\n", name, strings.Join(cat.Collections[name], " + "))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "## Policy (%s)\n\n", pol.Scope)
	fmt.Fprintf(&sb, "- https allowlist: %s\n", listOrAny(pol.Allowlist))
	fmt.Fprintf(&sb, "- https blocklist: %s\n", listOrNone(pol.Blocklist))
	fmt.Fprintf(&sb, "- client read paths: %s\n", listOrNone(pol.AllowedReadPaths))
	return sb.String()
}

func listOrAny(items []string) string {
	if len(items) == 0 {
		return "any host"
	}
	return strings.Join(items, ", ")
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
