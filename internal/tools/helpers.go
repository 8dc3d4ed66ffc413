// Package tools implements the MCP tool handlers of docket.
//
// Each tool receives its dependencies through its struct and exposes a
// Definition for registration and a Handle compatible with mcp-go's
// CallToolRequest signature. User mistakes come back as tool errors;
// only infrastructure failures are returned as Go errors.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/resolve"
)

// Sessions hands tools the resolution session of the calling client.
type Sessions interface {
	Session(ctx context.Context) *resolve.Session
	// Bind loads the catalog under root and binds it to sess.
	Bind(sess *resolve.Session, root, clientCwd string) (*catalog.Catalog, int, error)
}

// findProjectRoot walks up from start looking for an existing catalog.
// If none is found, returns start.
func findProjectRoot(start string) (string, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		start = wd
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}

	current := dir
	for {
		if catalog.Exists(current) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return dir, nil
		}
		current = parent
	}
}

const noProjectHint = "No project is bound to this session. " +
	"Use docket_switch_project to select a project with a .docket/catalog.yaml, " +
	"or docket_init to create one."
