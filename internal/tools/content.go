package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/expr"
	"github.com/HendryAvila/docket/internal/resolve"
)

// ContentTool handles the docket_get_content MCP tool.
// It resolves an expression against the session's catalog and returns
// the documents in expression order.
type ContentTool struct {
	sessions Sessions
	resolver *resolve.Resolver
}

// NewContentTool creates a ContentTool.
func NewContentTool(sessions Sessions, resolver *resolve.Resolver) *ContentTool {
	return &ContentTool{sessions: sessions, resolver: resolver}
}

// Definition returns the MCP tool definition for registration.
func (t *ContentTool) Definition() mcp.Tool {
	return mcp.NewTool("docket_get_content",
		mcp.WithDescription(
			"Load curated project documentation into context. "+
				"The expression names categories and collections from the project catalog: "+
				"'docs' loads a category's default documents, 'review/commit' one document by name or glob, "+
				"'a,b' or 'a+b' the union, 'a|b' the union within a section, 'a&b' the intersection. "+
				"Repeated calls in a session are served from cache.",
		),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Content expression, e.g. 'docs,review/commit' or 'guidelines+conventions'"),
		),
		mcp.WithString("filename",
			mcp.Description("Optional glob replacing the default document patterns of plain category terms, e.g. 'README*'"),
		),
	)
}

// Handle processes the docket_get_content tool call.
func (t *ContentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression := req.GetString("expression", "")
	filename := strings.TrimSpace(req.GetString("filename", ""))

	if strings.TrimSpace(expression) == "" {
		return mcp.NewToolResultError("'expression' is required"), nil
	}

	sess := t.sessions.Session(ctx)
	if sess.Catalog() == nil {
		return mcp.NewToolResultError(noProjectHint), nil
	}

	res, err := t.resolver.Resolve(ctx, sess, resolve.Request{Expression: expression, Filename: filename})
	if err != nil {
		var pe *expr.ParseError
		if errors.As(err, &pe) {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid expression: %v", pe)), nil
		}
		return nil, fmt.Errorf("resolving %q: %w", expression, err)
	}

	return mcp.NewToolResultText(formatResult(expression, res)), nil
}

func formatResult(expression string, res *resolve.Result) string {
	var sb strings.Builder

	if len(res.Documents) == 0 {
		fmt.Fprintf(&sb, "No documents matched `%s`.\n", expression)
	}
	for i, d := range res.Documents {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&sb, "<!-- docket: %s | %s | %s -->\n\n", d.Category, d.Source, d.Locator)
		sb.WriteString(d.Content)
		if !strings.HasSuffix(d.Content, "\n") {
			sb.WriteString("\n")
		}
	}

	if len(res.Failures) > 0 {
		sb.WriteString("\n## Not delivered\n\n")
		for _, f := range res.Failures {
			target := f.Term
			if f.Locator != "" {
				target = f.Locator
			}
			kind := string(f.Kind)
			if f.Code != "" {
				kind += ", " + f.Code
			}
			fmt.Fprintf(&sb, "- `%s` (%s): %s", target, kind, f.Reason)
			if f.Hint != "" {
				fmt.Fprintf(&sb, ". Hint: %s", f.Hint)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
