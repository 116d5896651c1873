// Package security validates outbound URLs before anything fetches them.
// It blocks schemes outside the allow-list, localhost, and private or
// reserved address space so previews cannot be used to probe internal hosts.
package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

var (
	ErrNoHost           = errors.New("security: url has no host")
	ErrLocalhostBlocked = errors.New("security: localhost is blocked")
)

// SchemeError reports a URL scheme outside the allow-list.
type SchemeError struct {
	Scheme string
}

func (e *SchemeError) Error() string {
	return fmt.Sprintf("security: scheme %q is not allowed", e.Scheme)
}

// DomainError reports a host rejected by the allow or deny list. NotListed
// distinguishes "absent from the allow-list" from "present on the deny-list".
type DomainError struct {
	Host      string
	NotListed bool
}

func (e *DomainError) Error() string {
	if e.NotListed {
		return fmt.Sprintf("security: domain %q is not on the allow-list", e.Host)
	}
	return fmt.Sprintf("security: domain %q is blocked", e.Host)
}

// PrivateIPError reports a literal address in private or reserved space.
type PrivateIPError struct {
	Addr netip.Addr
}

func (e *PrivateIPError) Error() string {
	return fmt.Sprintf("security: private address %s is blocked", e.Addr)
}

// Config controls validation. The zero value blocks everything; use
// DefaultConfig for sensible defaults.
type Config struct {
	// AllowedSchemes is the scheme allow-list.
	AllowedSchemes []string `yaml:"allowed_schemes" json:"allowed_schemes"`
	// BlockPrivateIPs rejects literal addresses in private/reserved ranges.
	BlockPrivateIPs bool `yaml:"block_private_ips" json:"block_private_ips"`
	// BlockLocalhost rejects localhost in any spelling.
	BlockLocalhost bool `yaml:"block_localhost" json:"block_localhost"`
	// BlockedDomains rejects matching hosts (exact or dot-suffix).
	BlockedDomains []string `yaml:"blocked_domains" json:"blocked_domains"`
	// AllowedDomains, when non-empty, rejects everything else.
	AllowedDomains []string `yaml:"allowed_domains" json:"allowed_domains"`
}

func DefaultConfig() Config {
	return Config{
		AllowedSchemes:  []string{"http", "https"},
		BlockPrivateIPs: true,
		BlockLocalhost:  true,
	}
}

// Validator applies one immutable Config. Safe for concurrent use.
type Validator struct {
	schemes map[string]struct{}
	cfg     Config
}

func NewValidator(cfg Config) *Validator {
	schemes := make(map[string]struct{}, len(cfg.AllowedSchemes))
	for _, s := range cfg.AllowedSchemes {
		schemes[strings.ToLower(s)] = struct{}{}
	}
	return &Validator{schemes: schemes, cfg: cfg}
}

// Validate parses and checks one URL, returning the parsed form on success.
func (v *Validator) Validate(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("security: parse url: %w", err)
	}

	if _, ok := v.schemes[strings.ToLower(u.Scheme)]; !ok {
		return nil, &SchemeError{Scheme: u.Scheme}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, ErrNoHost
	}

	if len(v.cfg.AllowedDomains) > 0 {
		if !matchesAny(host, v.cfg.AllowedDomains) {
			return nil, &DomainError{Host: host, NotListed: true}
		}
	} else if matchesAny(host, v.cfg.BlockedDomains) {
		return nil, &DomainError{Host: host}
	}

	if v.cfg.BlockLocalhost && isLocalhost(host) {
		return nil, ErrLocalhostBlocked
	}

	if v.cfg.BlockPrivateIPs {
		if addr, err := netip.ParseAddr(host); err == nil && isPrivateAddr(addr) {
			return nil, &PrivateIPError{Addr: addr}
		}
	}

	return u, nil
}

func matchesAny(host string, domains []string) bool {
	for _, domain := range domains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return true
	}
	if addr.Is4() {
		return isReservedV4(addr.As4())
	}
	return false
}

// isReservedV4 covers ranges netip has no predicate for.
func isReservedV4(octets [4]byte) bool {
	switch {
	case octets[0] == 0: // 0.0.0.0/8
		return true
	case octets[0] == 100 && octets[1]&0xc0 == 0x40: // 100.64.0.0/10 carrier-grade NAT
		return true
	case octets[0]&0xf0 == 0xf0: // 240.0.0.0/4
		return true
	}
	return false
}
