package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhangHanDong/urlpreview/pkg/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	mu           sync.Mutex
	startErr     error
	navigateErr  error
	html         string
	htmlErr      error
	ready        bool
	disconnected bool
	stopped      bool
	navigations  []string
}

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.ready = true
	return nil
}

func (f *fakeSession) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSession) Disconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	if f.navigateErr != nil {
		if mcp.IsRetryable(f.navigateErr) {
			f.disconnected = true
		}
		return f.navigateErr
	}
	return nil
}

func (f *fakeSession) Wait(context.Context, float64) error { return nil }

func (f *fakeSession) PageHTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, f.htmlErr
}

func (f *fakeSession) PageText(context.Context) (string, error) { return "", nil }

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	return []byte{0x89, 0x50}, nil
}

func (f *fakeSession) Evaluate(context.Context, string) (any, error) { return nil, nil }

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.ready = false
	return nil
}

type fallbackSpy struct {
	mu    sync.Mutex
	calls []string
	html  string
	err   error
}

func (f *fallbackSpy) fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.html, f.err
}

func (f *fallbackSpy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func enabledConfig() mcp.Config {
	return mcp.Config{Enabled: true, Command: "fake"}
}

func newTestService(t *testing.T, policy UsagePolicy, fallback *fallbackSpy, factory func() Session, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append(opts, WithSessionFactory(factory))
	svc, err := NewService(enabledConfig(), policy, fallback.fetch, testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAlwaysWithDisabledBrowserRejected(t *testing.T) {
	_, err := NewService(mcp.Config{Enabled: false}, PolicyAlways, nil, testLogger())
	assert.Error(t, err)

	_, err = NewService(mcp.Config{Enabled: false}, PolicyAuto, nil, testLogger())
	assert.NoError(t, err)
}

func TestNeverPolicySkipsBrowserEntirely(t *testing.T) {
	fallback := &fallbackSpy{html: "<html>plain</html>"}
	var factoryCalls int
	svc := newTestService(t, PolicyNever, fallback, func() Session {
		factoryCalls++
		return &fakeSession{}
	})

	for _, u := range []string{"https://twitter.com/home", "https://example.com/"} {
		html, err := svc.FetchRendered(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "<html>plain</html>", html)
	}
	assert.Zero(t, factoryCalls, "browser session must never be created under Never")
	assert.Equal(t, 2, fallback.count())
}

func TestAutoRendersMatchingURLs(t *testing.T) {
	fallback := &fallbackSpy{html: "fallback"}
	session := &fakeSession{html: "<html>rendered</html>"}
	svc := newTestService(t, PolicyAuto, fallback, func() Session { return session })

	html, err := svc.FetchRendered(context.Background(), "https://twitter.com/home")
	require.NoError(t, err)
	assert.Equal(t, "<html>rendered</html>", html)
	assert.Equal(t, []string{"https://twitter.com/home"}, session.navigations)
	assert.Zero(t, fallback.count())

	// Non-SPA URL bypasses the browser.
	html, err = svc.FetchRendered(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "fallback", html)
}

func TestAutoFallsBackOnBrowserFailure(t *testing.T) {
	fallback := &fallbackSpy{html: "<html>http copy</html>"}
	session := &fakeSession{navigateErr: &mcp.RemoteError{Message: "navigation failed"}}
	svc := newTestService(t, PolicyAuto, fallback, func() Session { return session })

	html, err := svc.FetchRendered(context.Background(), "https://twitter.com/home")
	require.NoError(t, err, "browser failure under Auto must be invisible")
	assert.Equal(t, "<html>http copy</html>", html)
	assert.Equal(t, 1, fallback.count())
}

func TestAlwaysPropagatesBrowserFailure(t *testing.T) {
	fallback := &fallbackSpy{html: "should not be used"}
	remoteErr := &mcp.RemoteError{Message: "navigation failed"}
	session := &fakeSession{navigateErr: remoteErr}
	svc := newTestService(t, PolicyAlways, fallback, func() Session { return session })

	_, err := svc.FetchRendered(context.Background(), "https://example.com/")
	var gotRemote *mcp.RemoteError
	require.ErrorAs(t, err, &gotRemote)
	assert.Zero(t, fallback.count(), "Always suppresses fallback")
}

func TestDisabledBrowserFallsBackUnderAuto(t *testing.T) {
	fallback := &fallbackSpy{html: "plain"}
	svc, err := NewService(mcp.Config{Enabled: false}, PolicyAuto, fallback.fetch, testLogger())
	require.NoError(t, err)
	defer svc.Close()

	html, err := svc.FetchRendered(context.Background(), "https://twitter.com/home")
	require.NoError(t, err)
	assert.Equal(t, "plain", html)
}

func TestNoFallbackConfigured(t *testing.T) {
	svc, err := NewService(mcp.Config{Enabled: false}, PolicyAuto, nil, testLogger())
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.FetchRendered(context.Background(), "https://example.com/")
	assert.ErrorIs(t, err, ErrNoFallback)
}

func TestRestartOnceThenBackoff(t *testing.T) {
	fallback := &fallbackSpy{html: "fallback"}
	var sessions []*fakeSession
	factory := func() Session {
		s := &fakeSession{}
		switch len(sessions) {
		case 0:
			s.navigateErr = mcp.ErrDisconnected
		case 1:
			s.startErr = &mcp.StartError{Command: "fake", Err: errors.New("spawn failed")}
		}
		sessions = append(sessions, s)
		return s
	}
	svc := newTestService(t, PolicyAuto, fallback, factory,
		WithRestartBackoff(time.Hour))

	ctx := context.Background()
	url := "https://twitter.com/home"

	// First call: session starts, then disconnects mid-fetch.
	html, err := svc.FetchRendered(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "fallback", html)
	require.Len(t, sessions, 1)

	// Second call: one restart is attempted and fails, arming the backoff.
	_, err = svc.FetchRendered(ctx, url)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].stopped, "broken session must be stopped before restart")

	// Third call: inside the backoff window, no new session is built.
	_, err = svc.FetchRendered(ctx, url)
	require.NoError(t, err)
	assert.Len(t, sessions, 2, "restart must not busy-loop")
	assert.Equal(t, 3, fallback.count())
}

func TestGeneratePreviewFromRenderedHTML(t *testing.T) {
	session := &fakeSession{html: `<html><head>
		<meta property="og:title" content="SPA Page">
		<meta property="og:description" content="rendered client-side">
	</head></html>`}
	fallback := &fallbackSpy{}
	svc := newTestService(t, PolicyAuto, fallback, func() Session { return session })

	preview, err := svc.GeneratePreview(context.Background(), "https://app.notion.so/doc")
	require.NoError(t, err)
	assert.Equal(t, "SPA Page", preview.Title)
	assert.Equal(t, "rendered client-side", preview.Description)
}

func TestScreenshotNeverFallsBack(t *testing.T) {
	session := &fakeSession{navigateErr: &mcp.RemoteError{Message: "boom"}}
	fallback := &fallbackSpy{html: "unused"}
	svc := newTestService(t, PolicyAuto, fallback, func() Session { return session })

	_, err := svc.Screenshot(context.Background(), "https://twitter.com/home")
	assert.Error(t, err)
	assert.Zero(t, fallback.count())
}

func TestServiceCloseStopsSession(t *testing.T) {
	session := &fakeSession{html: "x"}
	fallback := &fallbackSpy{}
	svc := newTestService(t, PolicyAuto, fallback, func() Session { return session })

	_, err := svc.FetchRendered(context.Background(), "https://twitter.com/home")
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	assert.True(t, session.stopped)

	_, err = svc.Screenshot(context.Background(), "https://twitter.com/home")
	assert.ErrorIs(t, err, mcp.ErrClosed)
}
