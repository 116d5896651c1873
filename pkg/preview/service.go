package preview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ZhangHanDong/urlpreview/pkg/browser"
	"github.com/ZhangHanDong/urlpreview/pkg/extract"
	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
)

// MaxConcurrentRequests bounds previews generated in parallel.
const MaxConcurrentRequests = 500

const githubFavicon = "https://github.githubassets.com/favicons/favicon.svg"

// Generators holds the per-source pipelines. Twitter and GitHub fall back
// to Default when nil; they exist so those sources can carry their own
// fetch clients and caches.
type Generators struct {
	Default *Generator
	Twitter *Generator
	GitHub  *Generator
}

// Option customizes a Service.
type Option func(*Service)

// WithBrowser routes policy-matching URLs through the browser orchestrator.
func WithBrowser(b *browser.Service) Option {
	return func(s *Service) { s.browser = b }
}

// WithGitHubClient enables API-backed GitHub previews instead of page
// scraping.
func WithGitHubClient(g *fetch.GitHubClient) Option {
	return func(s *Service) { s.github = g }
}

// WithConcurrency overrides the in-flight preview cap.
func WithConcurrency(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// Service is the unified entry point: it routes each URL to the browser,
// Twitter, GitHub, or default pipeline and caps total concurrency.
type Service struct {
	gens    Generators
	browser *browser.Service
	github  *fetch.GitHubClient
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

func NewService(gens Generators, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if gens.Twitter == nil {
		gens.Twitter = gens.Default
	}
	if gens.GitHub == nil {
		gens.GitHub = gens.Default
	}
	s := &Service{
		gens:   gens,
		sem:    semaphore.NewWeighted(MaxConcurrentRequests),
		logger: logger.With(slog.String("component", "preview")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BrowserFallbackHook is the browser.Service hook that feeds the fallback
// counter. Pass it to browser.WithFallbackHook when wiring the two services.
func BrowserFallbackHook(url string, cause error) {
	browserFallbacksTotal.Inc()
}

// Preview generates a preview for url.
func (s *Service) Preview(ctx context.Context, url string) (*extract.Preview, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	source, preview, err := s.route(ctx, url)
	previewDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		previewErrorsTotal.WithLabelValues(source).Inc()
		return nil, err
	}
	previewsTotal.WithLabelValues(source).Inc()
	return preview, nil
}

func (s *Service) route(ctx context.Context, url string) (string, *extract.Preview, error) {
	if s.browser != nil && s.browser.ShouldUseBrowser(url) {
		preview, err := s.browser.GeneratePreview(ctx, url)
		return "browser", preview, err
	}
	if fetch.IsGitHubURL(url) {
		preview, err := s.githubPreview(ctx, url)
		return "github", preview, err
	}
	if fetch.IsTwitterURL(url) {
		preview, err := s.gens.Twitter.Generate(ctx, url)
		return "twitter", preview, err
	}
	preview, err := s.gens.Default.Generate(ctx, url)
	return "default", preview, err
}

// githubPreview prefers the REST API and falls back to scraping the
// repository page when the API is unavailable.
func (s *Service) githubPreview(ctx context.Context, url string) (*extract.Preview, error) {
	owner, repo, ok := fetch.ParseGitHubURL(url)
	if !ok || s.github == nil {
		return s.gens.GitHub.Generate(ctx, url)
	}

	info, err := s.github.Repo(ctx, owner, repo)
	if err != nil {
		s.logger.Warn("github api failed, scraping instead", "url", url, "error", err)
		return s.gens.GitHub.Generate(ctx, url)
	}
	return githubRepoPreview(url, info), nil
}

func githubRepoPreview(url string, repo *fetch.GitHubRepo) *extract.Preview {
	parts := make([]string, 0, 4)
	if repo.Description != "" {
		parts = append(parts, repo.Description)
	}
	parts = append(parts,
		fmt.Sprintf("%d stars", repo.Stars),
		fmt.Sprintf("%d forks", repo.Forks),
	)
	if repo.Language != "" {
		parts = append(parts, repo.Language)
	}

	return &extract.Preview{
		URL:         url,
		Title:       repo.FullName,
		Description: strings.Join(parts, " | "),
		ImageURL:    repo.Owner.AvatarURL,
		SiteName:    "GitHub",
		Favicon:     githubFavicon,
	}
}
