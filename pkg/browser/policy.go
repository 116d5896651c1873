// Package browser decides when to render pages through the MCP browser
// server and orchestrates rendering with HTTP fallback.
package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
)

// UsagePolicy controls whether a fetch goes through the browser.
type UsagePolicy int

const (
	// PolicyAuto uses the browser only for URLs that look like
	// client-side-rendered applications.
	PolicyAuto UsagePolicy = iota
	// PolicyAlways renders every URL; fallback is disabled.
	PolicyAlways
	// PolicyNever disables the browser entirely.
	PolicyNever
)

func (p UsagePolicy) String() string {
	switch p {
	case PolicyAlways:
		return "always"
	case PolicyNever:
		return "never"
	default:
		return "auto"
	}
}

// ParsePolicy converts a configuration string into a UsagePolicy.
func ParsePolicy(s string) (UsagePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PolicyAuto, nil
	case "always":
		return PolicyAlways, nil
	case "never":
		return PolicyNever, nil
	default:
		return PolicyAuto, fmt.Errorf("browser: unknown policy %q", s)
	}
}

// DefaultSPADomains are hosts known to serve empty shells without JavaScript.
// The Twitter hosts come from fetch.TwitterDomains so routing and policy
// cannot drift apart.
var DefaultSPADomains = append(append([]string(nil), fetch.TwitterDomains...), []string{
	"instagram.com",
	"facebook.com",
	"linkedin.com",
	"reddit.com",
	"discord.com",
	"slack.com",
	"notion.so",
	"vercel.app",
	"netlify.app",
	"web.app",
}...)

// DefaultPathMarkers are path or fragment shapes typical of client-side
// routing.
var DefaultPathMarkers = []string{"#/", "#!/", "/app/", "/dashboard/"}

// PolicyEngine is a pure decision function over URLs. Immutable after
// construction and safe for concurrent use.
type PolicyEngine struct {
	policy  UsagePolicy
	domains []string
	markers []string
}

// PolicyOption customizes the Auto heuristics.
type PolicyOption func(*PolicyEngine)

// WithSPADomains replaces the interactive-application domain list.
func WithSPADomains(domains []string) PolicyOption {
	return func(e *PolicyEngine) {
		if len(domains) > 0 {
			e.domains = domains
		}
	}
}

// WithPathMarkers replaces the client-side-routing marker list.
func WithPathMarkers(markers []string) PolicyOption {
	return func(e *PolicyEngine) {
		if len(markers) > 0 {
			e.markers = markers
		}
	}
}

func NewPolicyEngine(policy UsagePolicy, opts ...PolicyOption) *PolicyEngine {
	e := &PolicyEngine{
		policy:  policy,
		domains: DefaultSPADomains,
		markers: DefaultPathMarkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *PolicyEngine) Policy() UsagePolicy {
	return e.policy
}

// ShouldUse reports whether rawURL should be rendered in the browser.
// Total: an unparseable URL is never sent to the browser.
func (e *PolicyEngine) ShouldUse(rawURL string) bool {
	switch e.policy {
	case PolicyAlways:
		return true
	case PolicyNever:
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	if fetch.HostMatchesAny(u.Hostname(), e.domains) {
		return true
	}

	route := u.Path
	if u.Fragment != "" {
		route += "#" + u.Fragment
	}
	for _, marker := range e.markers {
		if strings.Contains(route, marker) {
			return true
		}
	}
	return false
}
