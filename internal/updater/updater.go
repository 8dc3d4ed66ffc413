// Package updater checks GitHub for a newer docket release. It only reports:
// installing the release is left to the package manager or the user.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the GitHub API endpoint for the latest release.
const DefaultEndpoint = "https://api.github.com/repos/HendryAvila/docket/releases/latest"

const checkTimeout = 10 * time.Second

// Release holds the fields docket reads from a GitHub release.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Result is the outcome of a release check.
type Result struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseURL      string
}

// Checker queries a release endpoint. The zero value uses DefaultEndpoint
// and a client with a ten second timeout.
type Checker struct {
	Endpoint string
	Client   *http.Client
	Logger   *zap.Logger
}

// Check compares currentVersion with the latest release. Failures are
// returned to the caller; Result.CurrentVersion is always filled.
func (c Checker) Check(ctx context.Context, currentVersion string) (*Result, error) {
	result := &Result{CurrentVersion: normalizeVersion(currentVersion)}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: checkTimeout}
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return result, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "docket/"+currentVersion)

	resp, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("checking latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("GitHub API returned %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return result, fmt.Errorf("parsing release info: %w", err)
	}

	result.LatestVersion = normalizeVersion(release.TagName)
	result.ReleaseURL = release.HTMLURL
	result.UpdateAvailable = isNewer(result.CurrentVersion, result.LatestVersion)
	logger.Debug("release check",
		zap.String("current", result.CurrentVersion),
		zap.String("latest", result.LatestVersion),
		zap.Bool("update", result.UpdateAvailable))
	return result, nil
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// isNewer reports whether latest is a higher x.y.z than current. A "dev"
// build never has updates.
func isNewer(current, latest string) bool {
	if current == "" || latest == "" || current == "dev" {
		return false
	}
	cur := versionParts(current)
	lat := versionParts(latest)
	for i := range cur {
		if lat[i] != cur[i] {
			return lat[i] > cur[i]
		}
	}
	return false
}

// versionParts parses up to three numeric components, ignoring any
// pre-release suffix on each.
func versionParts(v string) [3]int {
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n := 0
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				break
			}
			n = n*10 + int(ch-'0')
		}
		out[i] = n
	}
	return out
}
