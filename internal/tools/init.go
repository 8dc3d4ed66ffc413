package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/catalog"
)

// InitTool handles the docket_init MCP tool.
// It creates the .docket/ directory with a starter catalog and binds the
// session to the new project.
type InitTool struct {
	sessions Sessions
	store    catalog.Store
}

// NewInitTool creates an InitTool with the given catalog store.
func NewInitTool(sessions Sessions, store catalog.Store) *InitTool {
	return &InitTool{sessions: sessions, store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *InitTool) Definition() mcp.Tool {
	return mcp.NewTool("docket_init",
		mcp.WithDescription(
			"Create a starter documentation catalog (.docket/catalog.yaml) for a project "+
				"and bind this session to it. Refuses to overwrite an existing catalog.",
		),
		mcp.WithString("project_root",
			mcp.Description("Absolute path of the project root. Defaults to the server's working directory."),
		),
		mcp.WithString("name",
			mcp.Description("Project name. Defaults to the directory name."),
		),
		mcp.WithString("docs_dir",
			mcp.Description("Directory, relative to the project root, holding the project's markdown docs. Defaults to 'docs'."),
			mcp.DefaultString("docs"),
		),
	)
}

// Handle processes the docket_init tool call.
func (t *InitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := strings.TrimSpace(req.GetString("project_root", ""))
	name := strings.TrimSpace(req.GetString("name", ""))
	docsDir := filepath.ToSlash(strings.TrimSpace(req.GetString("docs_dir", "docs")))

	if docsDir == "" || filepath.IsAbs(docsDir) || strings.HasPrefix(filepath.Clean(docsDir), "..") {
		return mcp.NewToolResultError("'docs_dir' must be a relative path inside the project"), nil
	}

	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	// Guard: don't overwrite an existing catalog.
	if catalog.Exists(root) {
		return mcp.NewToolResultError(
			"A catalog already exists in this project. Use docket_switch_project to bind it.",
		), nil
	}

	guideDir := filepath.Join(catalog.DirPath(root), "guides")
	if err := os.MkdirAll(guideDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", guideDir, err)
	}
	guide := filepath.Join(guideDir, "getting-started.md")
	if err := os.WriteFile(guide, []byte(starterGuide), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", guide, err)
	}

	cat := starterCatalog(name, docsDir)
	if err := t.store.Save(root, cat); err != nil {
		return nil, fmt.Errorf("saving catalog: %w", err)
	}

	bound, _, err := t.sessions.Bind(t.sessions.Session(ctx), root, "")
	if err != nil {
		return nil, fmt.Errorf("binding new project: %w", err)
	}

	response := fmt.Sprintf(
		"# docket Project Initialized\n\n"+
			"**Project:** %s\n"+
			"**Location:** `%s`\n\n"+
			"## What was created\n\n"+
			"```\n.docket/\n├── catalog.yaml               # Categories, collections and policy\n└── guides/getting-started.md  # Starter guide\n```\n\n"+
			"## Next Step\n\n"+
			"Edit `.docket/catalog.yaml` to describe your documentation; changes are picked up automatically.\n"+
			"Try `docket_get_content` with `guides` or `docs`.",
		bound.Project, catalog.Path(root),
	)
	return mcp.NewToolResultText(response), nil
}

func starterCatalog(name, docsDir string) *catalog.Catalog {
	return &catalog.Catalog{
		Project: name,
		Categories: map[string]catalog.Category{
			"docs": {
				Description: "Project documentation",
				Local:       &catalog.LocalSource{Dir: docsDir, Patterns: []string{"*.md", "**/*.md"}},
			},
			"guides": {
				Description: "Guides for agents working on this project",
				Local:       &catalog.LocalSource{Dir: catalog.Dir + "/guides"},
			},
		},
		Collections: map[string][]string{
			"onboarding": {"guides", "docs/README*"},
		},
		Policy: &catalog.PolicySpec{
			AllowedReadPaths: []string{"."},
		},
	}
}

const starterGuide = `# Getting started

This guide is served by docket. Add more markdown files to
.docket/guides/ and they become part of the "guides" category.
`
