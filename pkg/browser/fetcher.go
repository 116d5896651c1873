package browser

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// settleSeconds is how long rendered pages get to finish client-side
// routing and lazy loads before content is read back.
const settleSeconds = 2.0

// Session is the rendering capability the fetcher drives. *mcp.Client
// satisfies it; tests substitute fakes.
type Session interface {
	Start(ctx context.Context) error
	Ready() bool
	Disconnected() bool
	Navigate(ctx context.Context, url string) error
	Wait(ctx context.Context, seconds float64) error
	PageHTML(ctx context.Context) (string, error)
	PageText(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Stop() error
}

// Fetcher turns one Session into page-content operations. Each fetcher
// carries an id so log lines from concurrent sessions stay attributable.
type Fetcher struct {
	session Session
	logger  *slog.Logger
}

func NewFetcher(session Session, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		session: session,
		logger: logger.With(
			slog.String("component", "browser"),
			slog.String("session_id", uuid.NewString()),
		),
	}
}

// FetchHTML renders url and returns the resulting document markup.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	if err := f.session.Navigate(ctx, url); err != nil {
		return "", err
	}
	if err := f.session.Wait(ctx, settleSeconds); err != nil {
		return "", err
	}
	html, err := f.session.PageHTML(ctx)
	if err != nil {
		return "", err
	}
	f.logger.Debug("rendered page", "url", url, "bytes", len(html))
	return html, nil
}

// FetchText renders url and returns its visible text.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	if err := f.session.Navigate(ctx, url); err != nil {
		return "", err
	}
	if err := f.session.Wait(ctx, settleSeconds); err != nil {
		return "", err
	}
	return f.session.PageText(ctx)
}

// Screenshot renders url and captures it as image bytes.
func (f *Fetcher) Screenshot(ctx context.Context, url string) ([]byte, error) {
	if err := f.session.Navigate(ctx, url); err != nil {
		return nil, err
	}
	if err := f.session.Wait(ctx, settleSeconds); err != nil {
		return nil, err
	}
	return f.session.Screenshot(ctx)
}

// EvaluateOn renders url and runs a script against the resulting page.
func (f *Fetcher) EvaluateOn(ctx context.Context, url, script string) (any, error) {
	if err := f.session.Navigate(ctx, url); err != nil {
		return nil, err
	}
	if err := f.session.Wait(ctx, settleSeconds); err != nil {
		return nil, err
	}
	return f.session.Evaluate(ctx, script)
}
