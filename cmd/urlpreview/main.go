// Command urlpreview generates link previews from the command line or as an
// HTTP service.
//
//	urlpreview [flags] <url> [<url>...]   print previews as JSON
//	urlpreview [flags] screenshot <url>   capture a rendered page
//	urlpreview [flags] serve              run the HTTP API
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZhangHanDong/urlpreview/pkg/browser"
	"github.com/ZhangHanDong/urlpreview/pkg/cache"
	"github.com/ZhangHanDong/urlpreview/pkg/config"
	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
	"github.com/ZhangHanDong/urlpreview/pkg/preview"
	"github.com/ZhangHanDong/urlpreview/pkg/security"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to yaml config file")
		policyFlag = flag.String("policy", "", "override browser policy (auto|always|never)")
		levelFlag  = flag.String("log-level", "", "override log level (debug|info|warn|error)")
		outFlag    = flag.String("o", "screenshot.png", "output file for the screenshot command")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: %s [flags] <url> [<url>...]\n       %s [flags] screenshot <url>\n       %s [flags] serve\n\nflags:\n",
			os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *policyFlag != "" {
		cfg.Browser.Policy = *policyFlag
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	logger := newLogger(cfg.Log.Level)

	app, err := buildApp(cfg, logger)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "serve":
		err = runServe(ctx, cfg.Serve.Addr, app.previews, logger)
	case "screenshot":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = runScreenshot(ctx, app, args[1], *outFlag)
	default:
		err = runPreviews(ctx, app.previews, args)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "urlpreview:", err)
	os.Exit(1)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// app holds the wired services and everything that needs closing.
type app struct {
	previews *preview.Service
	browser  *browser.Service
	store    cache.Cache
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	validator := security.NewValidator(cfg.Security)
	fetchClient := fetch.New(cfg.FetchConfig(), logger)
	twitterClient := fetch.NewTwitterClient(logger)

	var store cache.Cache
	if cfg.Cache.Path != "" {
		var err error
		store, err = cache.NewStore(cfg.Cache.Path, cfg.Cache.TTL.Std(), logger)
		if err != nil {
			return nil, err
		}
	} else {
		store = cache.NewMemory(cfg.Cache.Capacity)
	}

	gens := preview.Generators{
		Default: preview.NewGenerator(store, preview.UseCache, fetchClient, validator, logger),
		Twitter: preview.NewGenerator(store, preview.UseCache, twitterClient, validator, logger),
		GitHub:  preview.NewGenerator(store, preview.UseCache, fetchClient, validator, logger),
	}

	opts := []preview.Option{
		preview.WithGitHubClient(fetch.NewGitHubClient("", logger)),
	}

	a := &app{store: store}
	if cfg.Browser.Enabled {
		engine := browser.NewPolicyEngine(cfg.UsagePolicy(), cfg.PolicyOptions()...)
		b, err := browser.NewService(cfg.MCPConfig(), cfg.UsagePolicy(), fetchClient.FetchHTML, logger,
			browser.WithPolicyEngine(engine),
			browser.WithFallbackHook(preview.BrowserFallbackHook),
		)
		if err != nil {
			return nil, err
		}
		a.browser = b
		opts = append(opts, preview.WithBrowser(b))
	}

	a.previews = preview.NewService(gens, logger, opts...)
	return a, nil
}

func runPreviews(ctx context.Context, svc *preview.Service, urls []string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, u := range urls {
		p, err := svc.Preview(ctx, u)
		if err != nil {
			return fmt.Errorf("%s: %w", u, err)
		}
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

func runScreenshot(ctx context.Context, a *app, url, out string) error {
	if a.browser == nil {
		return fmt.Errorf("screenshot requires browser.enabled in the configuration")
	}
	data, err := a.browser.Screenshot(ctx, url)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
