// Package config loads the yaml configuration file and converts it into
// the per-package configs the library consumes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZhangHanDong/urlpreview/pkg/browser"
	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
	"github.com/ZhangHanDong/urlpreview/pkg/mcp"
	"github.com/ZhangHanDong/urlpreview/pkg/security"
)

// Duration parses yaml scalars like "30s" or "2m" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Fetch    FetchConfig     `yaml:"fetch"`
	Cache    CacheConfig     `yaml:"cache"`
	Browser  BrowserConfig   `yaml:"browser"`
	Security security.Config `yaml:"security"`
	Serve    ServeConfig     `yaml:"serve"`
	Log      LogConfig       `yaml:"log"`
}

type FetchConfig struct {
	Timeout    Duration `yaml:"timeout"`
	UserAgent  string   `yaml:"user_agent"`
	MaxRetries int      `yaml:"max_retries"`
}

type CacheConfig struct {
	// Capacity bounds the in-memory LRU.
	Capacity int `yaml:"capacity"`
	// Path, when set, switches to the persistent SQLite store.
	Path string   `yaml:"path"`
	TTL  Duration `yaml:"ttl"`
}

type BrowserConfig struct {
	Enabled bool              `yaml:"enabled"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout Duration          `yaml:"timeout"`
	// Policy is auto, always, or never.
	Policy      string   `yaml:"policy"`
	SPADomains  []string `yaml:"spa_domains"`
	PathMarkers []string `yaml:"path_markers"`
}

type ServeConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	mcpDefaults := mcp.DefaultConfig()
	return &Config{
		Fetch: FetchConfig{
			Timeout:    Duration(10 * time.Second),
			UserAgent:  "urlpreview/1.0",
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			Capacity: 1000,
			TTL:      Duration(time.Hour),
		},
		Browser: BrowserConfig{
			Enabled: false,
			Command: mcpDefaults.Command,
			Args:    mcpDefaults.Args,
			Timeout: Duration(mcpDefaults.Timeout),
			Policy:  browser.PolicyAuto.String(),
		},
		Security: security.DefaultConfig(),
		Serve:    ServeConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	policy, err := browser.ParsePolicy(c.Browser.Policy)
	if err != nil {
		return err
	}
	if policy == browser.PolicyAlways && !c.Browser.Enabled {
		return fmt.Errorf("config: browser.policy %q requires browser.enabled", c.Browser.Policy)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("config: cache.capacity must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}

// UsagePolicy converts the configured policy string. Call after Validate.
func (c *Config) UsagePolicy() browser.UsagePolicy {
	policy, _ := browser.ParsePolicy(c.Browser.Policy)
	return policy
}

// FetchConfig builds the HTTP client configuration.
func (c *Config) FetchConfig() fetch.Config {
	return fetch.Config{
		Timeout:    c.Fetch.Timeout.Std(),
		UserAgent:  c.Fetch.UserAgent,
		MaxRetries: c.Fetch.MaxRetries,
	}
}

// MCPConfig builds the browser server launch configuration.
func (c *Config) MCPConfig() mcp.Config {
	return mcp.Config{
		Enabled: c.Browser.Enabled,
		Command: c.Browser.Command,
		Args:    c.Browser.Args,
		Env:     c.Browser.Env,
		Timeout: c.Browser.Timeout.Std(),
	}
}

// PolicyOptions builds the Auto-mode heuristic overrides.
func (c *Config) PolicyOptions() []browser.PolicyOption {
	var opts []browser.PolicyOption
	if len(c.Browser.SPADomains) > 0 {
		opts = append(opts, browser.WithSPADomains(c.Browser.SPADomains))
	}
	if len(c.Browser.PathMarkers) > 0 {
		opts = append(opts, browser.WithPathMarkers(c.Browser.PathMarkers))
	}
	return opts
}
