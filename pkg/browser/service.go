package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZhangHanDong/urlpreview/pkg/extract"
	"github.com/ZhangHanDong/urlpreview/pkg/mcp"
)

var (
	// ErrBrowserDisabled means rendering was requested but no browser
	// server is configured.
	ErrBrowserDisabled = errors.New("browser: rendering is disabled")
	// ErrRestartBackoff means the session is broken and the restart window
	// has not elapsed yet.
	ErrRestartBackoff = errors.New("browser: session restart backing off")
	// ErrNoFallback means the browser path was skipped or failed and no
	// HTTP fallback was configured.
	ErrNoFallback = errors.New("browser: no fallback fetcher configured")
)

const defaultRestartBackoff = 30 * time.Second

// FallbackFunc fetches page markup without the browser.
type FallbackFunc func(ctx context.Context, url string) (string, error)

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithPolicyEngine replaces the default engine, keeping its policy.
func WithPolicyEngine(engine *PolicyEngine) ServiceOption {
	return func(s *Service) { s.engine = engine }
}

// WithSessionFactory replaces how sessions are built. Used by tests and by
// callers embedding their own MCP client construction.
func WithSessionFactory(factory func() Session) ServiceOption {
	return func(s *Service) { s.newSession = factory }
}

// WithRestartBackoff sets the wait after a failed session restart.
func WithRestartBackoff(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.restartBackoff = d
		}
	}
}

// WithFallbackHook registers a callback invoked whenever a browser failure
// is converted into an HTTP fallback. Used for metrics.
func WithFallbackHook(hook func(url string, cause error)) ServiceOption {
	return func(s *Service) { s.onFallback = hook }
}

// Service is the content-acquisition orchestrator: policy decides whether a
// URL goes through the browser, and browser failures fall back to plain
// HTTP unless the policy is Always.
//
// The session is shared; a broken one is restarted at most once per backoff
// window rather than on every call.
type Service struct {
	engine         *PolicyEngine
	fallback       FallbackFunc
	logger         *slog.Logger
	extractor      *extract.Extractor
	newSession     func() Session
	restartBackoff time.Duration
	enabled        bool
	onFallback     func(url string, cause error)

	mu          sync.Mutex
	session     Session
	fetcher     *Fetcher
	nextRestart time.Time
	closed      bool
}

// NewService wires the orchestrator. An Always policy with a disabled
// browser configuration is rejected here: the caller asked for a
// browser-only guarantee the deployment cannot honor.
func NewService(cfg mcp.Config, policy UsagePolicy, fallback FallbackFunc, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if policy == PolicyAlways && !cfg.Enabled {
		return nil, fmt.Errorf("browser: policy %q requires the browser server to be enabled", policy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "browser"))

	s := &Service{
		engine:         NewPolicyEngine(policy),
		fallback:       fallback,
		logger:         logger,
		extractor:      extract.NewExtractor(),
		restartBackoff: defaultRestartBackoff,
		enabled:        cfg.Enabled,
	}
	s.newSession = func() Session { return mcp.NewClient(cfg, logger) }
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ShouldUseBrowser exposes the policy decision for routing and diagnostics.
func (s *Service) ShouldUseBrowser(url string) bool {
	return s.engine.ShouldUse(url)
}

// Policy returns the configured usage policy.
func (s *Service) Policy() UsagePolicy {
	return s.engine.Policy()
}

// FetchRendered returns page markup for url: rendered in the browser when
// the policy says so, otherwise (or on browser failure under Auto) from the
// HTTP fallback. Under Always, browser failures propagate so callers can
// see that rendering is unavailable.
func (s *Service) FetchRendered(ctx context.Context, url string) (string, error) {
	if !s.engine.ShouldUse(url) {
		return s.fallbackFetch(ctx, url)
	}

	html, err := s.renderHTML(ctx, url)
	if err != nil {
		return s.fallbackOr(ctx, url, err)
	}
	return html, nil
}

// GeneratePreview renders (or falls back) and extracts preview metadata.
func (s *Service) GeneratePreview(ctx context.Context, url string) (*extract.Preview, error) {
	html, err := s.FetchRendered(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.extractor.Extract(html, url)
}

// Screenshot captures url as image bytes. No HTTP fallback exists for
// screenshots, so browser errors always propagate.
func (s *Service) Screenshot(ctx context.Context, url string) ([]byte, error) {
	fetcher, err := s.acquireFetcher(ctx)
	if err != nil {
		return nil, err
	}
	data, err := fetcher.Screenshot(ctx, url)
	if err != nil {
		s.noteFailure(err)
		return nil, err
	}
	return data, nil
}

func (s *Service) renderHTML(ctx context.Context, url string) (string, error) {
	fetcher, err := s.acquireFetcher(ctx)
	if err != nil {
		return "", err
	}
	html, err := fetcher.FetchHTML(ctx, url)
	if err != nil {
		s.noteFailure(err)
		return "", err
	}
	return html, nil
}

// acquireFetcher returns a fetcher backed by a ready session, starting or
// restarting the subprocess as needed.
func (s *Service) acquireFetcher(ctx context.Context) (*Fetcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, mcp.ErrClosed
	}
	if !s.enabled {
		return nil, ErrBrowserDisabled
	}
	if s.session != nil && s.session.Ready() && !s.session.Disconnected() {
		return s.fetcher, nil
	}

	if time.Now().Before(s.nextRestart) {
		return nil, ErrRestartBackoff
	}
	if s.session != nil {
		s.logger.Warn("restarting browser session")
		s.session.Stop()
		s.session = nil
		s.fetcher = nil
	}

	session := s.newSession()
	if err := session.Start(ctx); err != nil {
		s.nextRestart = time.Now().Add(s.restartBackoff)
		return nil, err
	}

	s.session = session
	s.fetcher = NewFetcher(session, s.logger)
	s.nextRestart = time.Time{}
	return s.fetcher, nil
}

// noteFailure arms the restart gate after a transport-level failure so the
// next acquire attempts one restart and then backs off.
func (s *Service) noteFailure(err error) {
	if !mcp.IsRetryable(err) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && s.session.Disconnected() {
		s.logger.Warn("browser session disconnected", "error", err)
	}
}

func (s *Service) fallbackOr(ctx context.Context, url string, cause error) (string, error) {
	if s.engine.Policy() == PolicyAlways {
		return "", cause
	}
	s.logger.Warn("browser fetch failed, falling back", "url", url, "error", cause)
	if s.onFallback != nil {
		s.onFallback(url, cause)
	}
	return s.fallbackFetch(ctx, url)
}

func (s *Service) fallbackFetch(ctx context.Context, url string) (string, error) {
	if s.fallback == nil {
		return "", ErrNoFallback
	}
	return s.fallback(ctx, url)
}

// Close stops the session subprocess. The service cannot be reused.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.session != nil {
		s.session.Stop()
		s.session = nil
		s.fetcher = nil
	}
	return nil
}
