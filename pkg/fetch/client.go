// Package fetch is the conventional HTTP path for page content. It is both
// the default fetcher and the fallback when browser rendering fails.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultUserAgent  = "urlpreview/1.0"
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	retryBaseDelay    = 500 * time.Millisecond

	// maxBodySize caps how much of a response we are willing to read.
	maxBodySize = 10 << 20
)

var ErrNotFound = errors.New("fetch: not found")

// StatusError is a non-2xx response that is not a plain 404.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned status %d", e.URL, e.Code)
}

// Config controls one Client.
type Config struct {
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
	UserAgent  string            `yaml:"user_agent" json:"user_agent"`
	MaxRetries int               `yaml:"max_retries" json:"max_retries"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:    defaultTimeout,
		UserAgent:  defaultUserAgent,
		MaxRetries: defaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// Result discriminates the two content kinds a fetch can produce.
type Result struct {
	HTML   string
	OEmbed *OEmbedResponse
}

// Client fetches page content over plain HTTP with bounded retries.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger.With(slog.String("component", "fetch")),
	}
}

// NewTwitterClient returns a client with a browser-like header profile.
// Twitter serves an empty shell to anything that looks like a bot.
func NewTwitterClient(logger *slog.Logger) *Client {
	cfg := Config{
		Timeout:   30 * time.Second,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Cache-Control":             "no-cache",
			"Pragma":                    "no-cache",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
		},
	}
	return New(cfg, logger)
}

// TwitterDomains are the hosts serving Twitter/X content. Fetch routing,
// metadata extraction, and the browser policy all share this one list.
var TwitterDomains = []string{"twitter.com", "x.com"}

// HostMatchesAny reports whether host equals or is a subdomain of any of
// the given domains.
func HostMatchesAny(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, domain := range domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// IsTwitterURL reports whether the URL belongs to twitter.com or x.com.
func IsTwitterURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return HostMatchesAny(u.Hostname(), TwitterDomains)
}

// Fetch retrieves content for a URL, routing Twitter URLs through the
// oEmbed API since their pages render nothing without JavaScript.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if IsTwitterURL(rawURL) {
		oembed, err := c.fetchTwitterOEmbed(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return &Result{OEmbed: oembed}, nil
	}

	html, err := c.FetchHTML(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &Result{HTML: html}, nil
}

// FetchHTML retrieves a page body, retrying server errors and transport
// failures with exponential backoff. Client errors are never retried.
func (c *Client) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			c.logger.Debug("retrying fetch", "url", rawURL, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		body, retryable, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("fetch: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("fetch: %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode >= 500:
		return "", true, &StatusError{Code: resp.StatusCode, URL: rawURL}
	case resp.StatusCode >= 400:
		return "", false, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", true, fmt.Errorf("fetch: read body: %w", err)
	}
	return string(body), false, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
}
