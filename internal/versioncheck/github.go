package versioncheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultGitHubAPI is the base URL for the GitHub API.
	DefaultGitHubAPI = "https://api.github.com"

	// Repository is the owner/name releases are published under.
	Repository = "LucaDeLeo/realitycam-sub004"

	// DefaultTimeout bounds a release lookup.
	DefaultTimeout = 2 * time.Second
)

// GitHubRelease holds the fields of a GitHub release we use.
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Name    string `json:"name"`
}

// GitHubClient fetches release information from GitHub.
type GitHubClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGitHubClient returns a client for baseURL with DefaultTimeout.
func NewGitHubClient(baseURL string) *GitHubClient {
	return NewGitHubClientWithTimeout(baseURL, DefaultTimeout)
}

// NewGitHubClientWithTimeout returns a client with a custom timeout.
func NewGitHubClientWithTimeout(baseURL string, timeout time.Duration) *GitHubClient {
	return &GitHubClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchLatestRelease returns the latest published release of Repository.
func (c *GitHubClient) FetchLatestRelease(ctx context.Context) (*GitHubRelease, error) {
	url := c.baseURL + "/repos/" + Repository + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "realitycam-cli")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &release, nil
}
