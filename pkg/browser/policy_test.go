package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
)

func TestParsePolicy(t *testing.T) {
	for input, want := range map[string]UsagePolicy{
		"auto":   PolicyAuto,
		"":       PolicyAuto,
		"Always": PolicyAlways,
		"never":  PolicyNever,
		" NEVER": PolicyNever,
	} {
		got, err := ParsePolicy(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestPolicyAlwaysAndNever(t *testing.T) {
	always := NewPolicyEngine(PolicyAlways)
	never := NewPolicyEngine(PolicyNever)

	for _, u := range []string{
		"https://example.com/",
		"https://twitter.com/home",
		"not even a url",
	} {
		assert.True(t, always.ShouldUse(u), u)
		assert.False(t, never.ShouldUse(u), u)
	}
}

func TestPolicyAutoDomains(t *testing.T) {
	e := NewPolicyEngine(PolicyAuto)

	assert.True(t, e.ShouldUse("https://twitter.com/home"))
	assert.True(t, e.ShouldUse("https://x.com/user/status/1"))
	assert.True(t, e.ShouldUse("https://mobile.twitter.com/user"))
	assert.True(t, e.ShouldUse("https://myproject.vercel.app/"))

	assert.False(t, e.ShouldUse("https://example.com/"))
	assert.False(t, e.ShouldUse("https://nottwitter.com/home"))
	assert.False(t, e.ShouldUse("https://example.com/twitter.com"))
}

func TestPolicyCoversTwitterDomains(t *testing.T) {
	e := NewPolicyEngine(PolicyAuto)

	for _, domain := range fetch.TwitterDomains {
		assert.True(t, e.ShouldUse("https://"+domain+"/user/status/1"), domain)
		assert.True(t, e.ShouldUse("https://mobile."+domain+"/user"), domain)
	}
}

func TestPolicyAutoPathMarkers(t *testing.T) {
	e := NewPolicyEngine(PolicyAuto)

	assert.True(t, e.ShouldUse("https://example.com/#/settings"))
	assert.True(t, e.ShouldUse("https://example.com/#!/inbox"))
	assert.True(t, e.ShouldUse("https://example.com/app/editor"))
	assert.True(t, e.ShouldUse("https://example.com/dashboard/metrics"))

	assert.False(t, e.ShouldUse("https://example.com/apps"))
	assert.False(t, e.ShouldUse("https://example.com/blog/dashboard"))
}

func TestPolicyAutoTotality(t *testing.T) {
	e := NewPolicyEngine(PolicyAuto)

	for _, bad := range []string{"", "http://exa mple.com/", "::::", "/relative/only"} {
		assert.False(t, e.ShouldUse(bad), bad)
	}
}

func TestPolicyDeterminism(t *testing.T) {
	e := NewPolicyEngine(PolicyAuto)
	first := e.ShouldUse("https://twitter.com/home")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, e.ShouldUse("https://twitter.com/home"))
	}
}

func TestPolicyConfigurableLists(t *testing.T) {
	e := NewPolicyEngine(PolicyAuto,
		WithSPADomains([]string{"internal.example"}),
		WithPathMarkers([]string{"/spa/"}),
	)

	assert.True(t, e.ShouldUse("https://internal.example/page"))
	assert.True(t, e.ShouldUse("https://example.com/spa/home"))
	assert.False(t, e.ShouldUse("https://twitter.com/home"), "default list replaced")
	assert.False(t, e.ShouldUse("https://example.com/app/editor"), "default markers replaced")
}
