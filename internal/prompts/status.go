package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/docket/internal/resolve"
)

// ProjectSource hands prompts the caller's session and the project root it
// is bound to.
type ProjectSource interface {
	Session(ctx context.Context) *resolve.Session
	Root(sess *resolve.Session) string
}

// StatusPrompt handles the docket-status MCP prompt. It embeds the bound
// project and the session's cache counters, then asks the AI for a report.
type StatusPrompt struct {
	projects ProjectSource
}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt(projects ProjectSource) *StatusPrompt {
	return &StatusPrompt{projects: projects}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("docket-status",
		mcp.WithPromptDescription(
			"Report which project docket is serving, what documentation it offers "+
				"and how this session's document cache is doing.",
		),
	)
}

// Handle processes the docket-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sess := p.projects.Session(ctx)
	root := p.projects.Root(sess)
	cat := sess.Catalog()

	var sb strings.Builder
	if cat == nil || root == "" {
		sb.WriteString("docket has no project bound to this session.\n\n")
		sb.WriteString("Ask me for the project root, then call `docket_switch_project`, " +
			"or `docket_init` if the project has no `.docket/catalog.yaml` yet.")
	} else {
		pol := sess.Policy()
		st := sess.Cache.Stats()
		fmt.Fprintf(&sb, "docket is serving project %q from `%s`.\n\n", cat.Project, root)
		fmt.Fprintf(&sb, "- Categories: %d, collections: %d\n", len(cat.Categories), len(cat.Collections))
		fmt.Fprintf(&sb, "- Policy: %s scope, %d allowlist / %d blocklist entries\n",
			pol.Scope, len(pol.Allowlist), len(pol.Blocklist))
		fmt.Fprintf(&sb, "- Session cache: %d entries (%d failures), %d hits, %d misses\n\n",
			st.Entries, st.Negative, st.Hits, st.Misses)
		sb.WriteString("Call `docket_list_catalog` and summarize the categories and collections " +
			"in a compact table. If the cache holds failures, run `docket_cache_status` " +
			"and explain them.")
	}

	return &mcp.GetPromptResult{
		Description: "docket Status",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(sb.String()),
			},
		},
	}, nil
}
