package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/catalog"
)

// SwitchProjectTool handles the docket_switch_project MCP tool.
// Switching binds another project's catalog and clears the session cache.
type SwitchProjectTool struct {
	sessions Sessions
}

func NewSwitchProjectTool(sessions Sessions) *SwitchProjectTool {
	return &SwitchProjectTool{sessions: sessions}
}

// Definition returns the MCP tool definition for registration.
func (t *SwitchProjectTool) Definition() mcp.Tool {
	return mcp.NewTool("docket_switch_project",
		mcp.WithDescription(
			"Bind this session to a project's documentation catalog (.docket/catalog.yaml). "+
				"Clears the session's document cache. "+
				"Without project_root the server's working directory and its parents are searched.",
		),
		mcp.WithString("project_root",
			mcp.Description("Absolute path of the project root"),
		),
		mcp.WithString("client_cwd",
			mcp.Description("Your working directory, used to resolve relative client document paths. Defaults to the project root."),
		),
	)
}

// Handle processes the docket_switch_project tool call.
func (t *SwitchProjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := strings.TrimSpace(req.GetString("project_root", ""))
	clientCwd := strings.TrimSpace(req.GetString("client_cwd", ""))

	root, err := findProjectRoot(root)
	if err != nil {
		return nil, fmt.Errorf("finding project root: %w", err)
	}

	sess := t.sessions.Session(ctx)
	cat, dropped, err := t.sessions.Bind(sess, root, clientCwd)
	if errors.Is(err, catalog.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"No catalog at %s. Use docket_init to create one.", catalog.Path(root))), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Could not load the catalog of %s: %v", root, err)), nil
	}

	response := fmt.Sprintf(
		"# Project: %s\n\n"+
			"**Root:** `%s`\n"+
			"**Categories:** %s\n"+
			"**Collections:** %s\n"+
			"**Cache:** %d entries dropped\n\n"+
			"Use `docket_get_content` to load documents.",
		cat.Project, cat.Root,
		listOrNone(cat.CategoryNames()), listOrNone(cat.CollectionNames()),
		dropped,
	)
	return mcp.NewToolResultText(response), nil
}
