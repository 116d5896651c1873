// Package preview turns URLs into preview cards, routing each URL to the
// fetch path that can actually produce content for it.
package preview

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZhangHanDong/urlpreview/pkg/cache"
	"github.com/ZhangHanDong/urlpreview/pkg/extract"
	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
	"github.com/ZhangHanDong/urlpreview/pkg/security"
)

// CacheStrategy controls how a Generator uses its cache.
type CacheStrategy int

const (
	// UseCache reads and writes the cache.
	UseCache CacheStrategy = iota
	// NoCache bypasses the cache entirely.
	NoCache
	// ForceUpdate skips the read but refreshes the entry.
	ForceUpdate
)

// Generator runs the validate → cache → fetch → extract pipeline for one
// fetch client.
type Generator struct {
	cache     cache.Cache
	strategy  CacheStrategy
	fetcher   *fetch.Client
	extractor *extract.Extractor
	validator *security.Validator
	logger    *slog.Logger
}

// NewGenerator wires a pipeline. store and validator may be nil to disable
// caching and validation respectively.
func NewGenerator(store cache.Cache, strategy CacheStrategy, fetcher *fetch.Client, validator *security.Validator, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cache:     store,
		strategy:  strategy,
		fetcher:   fetcher,
		extractor: extract.NewExtractor(),
		validator: validator,
		logger:    logger.With(slog.String("component", "preview")),
	}
}

// Generate produces a preview for url.
func (g *Generator) Generate(ctx context.Context, url string) (*extract.Preview, error) {
	if g.validator != nil {
		if _, err := g.validator.Validate(url); err != nil {
			return nil, err
		}
	}

	if g.cache != nil && g.strategy == UseCache {
		cached, ok, err := g.cache.Get(ctx, url)
		if err != nil {
			g.logger.Warn("cache read failed", "url", url, "error", err)
		} else if ok {
			cacheHitsTotal.Inc()
			return cached, nil
		}
	}

	result, err := g.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var preview *extract.Preview
	if result.OEmbed != nil {
		preview, err = g.extractor.ExtractFromOEmbed(result.OEmbed.HTML)
	} else {
		preview, err = g.extractor.Extract(result.HTML, url)
	}
	if err != nil {
		return nil, fmt.Errorf("preview: extract %s: %w", url, err)
	}
	preview.URL = url

	if g.cache != nil && g.strategy != NoCache {
		if err := g.cache.Set(ctx, url, preview); err != nil {
			g.logger.Warn("cache write failed", "url", url, "error", err)
		}
	}
	return preview, nil
}
