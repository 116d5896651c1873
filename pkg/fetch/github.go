package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const githubAPIBase = "https://api.github.com"

// GitHubRepo is the subset of the repos API payload used for previews.
type GitHubRepo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
	Forks       int    `json:"forks_count"`
	Language    string `json:"language"`
	HTMLURL     string `json:"html_url"`
	Owner       struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"owner"`
}

// IsGitHubURL reports whether the URL points at github.com.
func IsGitHubURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return HostMatchesAny(u.Hostname(), []string{"github.com"})
}

// ParseGitHubURL extracts owner and repository from a github.com URL.
func ParseGitHubURL(rawURL string) (owner, repo string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !IsGitHubURL(rawURL) {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

// GitHubClient talks to the GitHub REST API. Calls share a rate limiter so
// bursts of previews do not exhaust the unauthenticated quota.
type GitHubClient struct {
	http    *http.Client
	limiter *rate.Limiter
	base    string
	token   string
	logger  *slog.Logger
}

// GitHubOption customizes a GitHubClient.
type GitHubOption func(*GitHubClient)

// WithAPIBase points the client at a different API root, e.g. a GitHub
// Enterprise deployment.
func WithAPIBase(base string) GitHubOption {
	return func(g *GitHubClient) {
		if base != "" {
			g.base = strings.TrimSuffix(base, "/")
		}
	}
}

// NewGitHubClient builds a client. An empty token falls back to the
// GITHUB_TOKEN environment variable; no token means unauthenticated access.
func NewGitHubClient(token string, logger *slog.Logger, opts ...GitHubOption) *GitHubClient {
	if logger == nil {
		logger = slog.Default()
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	g := &GitHubClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		base:    githubAPIBase,
		token:   token,
		logger:  logger.With(slog.String("component", "github")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Repo fetches repository metadata for owner/name.
func (g *GitHubClient) Repo(ctx context.Context, owner, name string) (*GitHubRepo, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s", g.base, owner, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: github api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, owner, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	var repo GitHubRepo
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return nil, fmt.Errorf("fetch: decode github response: %w", err)
	}
	g.logger.Debug("fetched github repo", "repo", repo.FullName, "stars", repo.Stars)
	return &repo, nil
}
