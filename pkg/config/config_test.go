package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhangHanDong/urlpreview/pkg/browser"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, browser.PolicyAuto, cfg.UsagePolicy())
	assert.False(t, cfg.MCPConfig().Enabled)
	assert.Equal(t, 10*time.Second, cfg.FetchConfig().Timeout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
fetch:
  timeout: 5s
  user_agent: custom/1.0
cache:
  capacity: 50
  path: /tmp/previews.db
  ttl: 30m
browser:
  enabled: true
  command: npx
  args: ["-y", "@playwright/mcp@latest"]
  timeout: 45s
  policy: always
  spa_domains: ["internal.example"]
serve:
  addr: ":9090"
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.FetchConfig().Timeout)
	assert.Equal(t, "custom/1.0", cfg.FetchConfig().UserAgent)
	assert.Equal(t, 3, cfg.FetchConfig().MaxRetries, "unset fields keep defaults")
	assert.Equal(t, 50, cfg.Cache.Capacity)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, browser.PolicyAlways, cfg.UsagePolicy())
	assert.Equal(t, 45*time.Second, cfg.MCPConfig().Timeout)
	assert.True(t, cfg.MCPConfig().Enabled)
	assert.Equal(t, []string{"internal.example"}, cfg.Browser.SPADomains)
	assert.Equal(t, ":9090", cfg.Serve.Addr)
	assert.Len(t, cfg.PolicyOptions(), 1)
}

func TestLoadRejectsAlwaysWithDisabledBrowser(t *testing.T) {
	path := writeConfig(t, `
browser:
  enabled: false
  policy: always
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "browser.enabled")
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `
browser:
  policy: occasionally
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
fetch:
  timeout: soon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
