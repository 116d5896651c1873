package preview

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhangHanDong/urlpreview/pkg/cache"
	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
	"github.com/ZhangHanDong/urlpreview/pkg/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `<html><head>
			<meta property="og:title" content="Cached Page">
			<meta property="og:description" content="body">
		</head></html>`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGeneratorUsesCache(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)

	store := cache.NewMemory(10)
	g := NewGenerator(store, UseCache, fetch.New(fetch.DefaultConfig(), testLogger()), nil, testLogger())

	ctx := context.Background()
	first, err := g.Generate(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Cached Page", first.Title)
	assert.Equal(t, server.URL, first.URL)

	second, err := g.Generate(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load(), "second preview must come from cache")
}

func TestGeneratorNoCache(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)

	store := cache.NewMemory(10)
	g := NewGenerator(store, NoCache, fetch.New(fetch.DefaultConfig(), testLogger()), nil, testLogger())

	ctx := context.Background()
	_, err := g.Generate(ctx, server.URL)
	require.NoError(t, err)
	_, err = g.Generate(ctx, server.URL)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	_, ok, _ := store.Get(ctx, server.URL)
	assert.False(t, ok, "NoCache must not populate the store")
}

func TestGeneratorForceUpdateRefreshesCache(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)

	store := cache.NewMemory(10)
	fetcher := fetch.New(fetch.DefaultConfig(), testLogger())
	force := NewGenerator(store, ForceUpdate, fetcher, nil, testLogger())
	cached := NewGenerator(store, UseCache, fetcher, nil, testLogger())

	ctx := context.Background()
	_, err := force.Generate(ctx, server.URL)
	require.NoError(t, err)
	_, err = force.Generate(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "ForceUpdate always fetches")

	_, err = cached.Generate(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "entry written by ForceUpdate must be readable")
}

func TestGeneratorValidatorBlocks(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)

	validator := security.NewValidator(security.DefaultConfig())
	g := NewGenerator(nil, NoCache, fetch.New(fetch.DefaultConfig(), testLogger()), validator, testLogger())

	// httptest URLs point at 127.0.0.1, which the validator blocks.
	_, err := g.Generate(context.Background(), server.URL)
	require.Error(t, err)
	assert.Zero(t, hits.Load(), "blocked URL must never be fetched")
}
