// Package prompts implements MCP prompt handlers for docket.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// LoadDocsPrompt handles the load-docs MCP prompt.
// It asks the AI to load documentation for the task at hand.
type LoadDocsPrompt struct{}

func NewLoadDocsPrompt() *LoadDocsPrompt {
	return &LoadDocsPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *LoadDocsPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("load-docs",
		mcp.WithPromptDescription(
			"Load project documentation into the conversation. "+
				"Give an expression such as 'docs,review/commit', or leave it empty "+
				"to pick documents from the catalog based on the task.",
		),
		mcp.WithArgument("expression",
			mcp.ArgumentDescription("Content expression, e.g. 'guidelines+conventions'"),
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What you are about to work on"),
		),
	)
}

// Handle processes the load-docs prompt request.
func (p *LoadDocsPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	expression := strings.TrimSpace(req.Params.Arguments["expression"])
	task := strings.TrimSpace(req.Params.Arguments["task"])

	var text string
	if expression != "" {
		text = fmt.Sprintf("Call `docket_get_content` with expression `%s` and read every returned document before continuing.\n\n", expression) +
			"If some documents were not delivered, tell me which ones and why."
	} else {
		text = "Call `docket_list_catalog` to see the documentation available for this project.\n\n" +
			"Then pick the categories and collections relevant to the task, " +
			"load them with a single `docket_get_content` call, and summarize what you loaded."
	}
	if task != "" {
		text += fmt.Sprintf("\n\nThe task: %s", task)
	}

	return &mcp.GetPromptResult{
		Description: "Load project documentation",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}
