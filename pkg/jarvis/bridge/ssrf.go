// Package bridge – ssrf.go validates outgoing URLs so web operations can't
// be pointed at loopback, private networks or cloud metadata endpoints.
// Hostnames are resolved before the IP checks run.
package bridge

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// URLGuard vets a URL before it is requested.
type URLGuard interface {
	Check(rawURL string) error
}

// GuardConfig configures the SSRF guard.
type GuardConfig struct {
	// AllowPrivate permits private (RFC 1918 / ULA) and loopback targets.
	AllowPrivate bool `yaml:"allow_private"`
	// AllowedHosts, when set, is the only set of hosts that may be reached.
	AllowedHosts []string `yaml:"allowed_hosts"`
	// BlockedHosts are always refused.
	BlockedHosts []string `yaml:"blocked_hosts"`
}

var alwaysBlockedHosts = []string{
	"metadata.google.internal",
	"metadata",
	"localhost.localdomain",
}

// metadataIPs are cloud instance metadata endpoints.
var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"),
	net.ParseIP("fd00:ec2::254"),
	net.ParseIP("100.100.100.200"),
}

// SSRFGuard implements URLGuard.
type SSRFGuard struct {
	cfg    GuardConfig
	lookup func(host string) ([]string, error)
	logger *slog.Logger
}

// NewSSRFGuard creates a guard using the system resolver.
func NewSSRFGuard(cfg GuardConfig, logger *slog.Logger) *SSRFGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSRFGuard{
		cfg:    cfg,
		lookup: net.LookupHost,
		logger: logger.With("component", "ssrf_guard"),
	}
}

// Check implements URLGuard.
func (g *SSRFGuard) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return g.block(rawURL, "scheme %q not allowed", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return g.block(rawURL, "URL has no host")
	}
	if err := checkIPv4Literal(host); err != nil {
		return g.block(rawURL, "%v", err)
	}

	for _, h := range alwaysBlockedHosts {
		if host == h {
			return g.block(rawURL, "host %s is not allowed", host)
		}
	}
	for _, h := range g.cfg.BlockedHosts {
		if strings.EqualFold(host, h) {
			return g.block(rawURL, "host %s is blocked", host)
		}
	}
	if len(g.cfg.AllowedHosts) > 0 && !containsFold(g.cfg.AllowedHosts, host) {
		return g.block(rawURL, "host %s is not in the allowed list", host)
	}
	if !g.cfg.AllowPrivate && (host == "localhost" || strings.HasSuffix(host, ".localhost")) {
		return g.block(rawURL, "host %s is not allowed", host)
	}

	addrs, err := g.lookup(host)
	if err != nil {
		return fmt.Errorf("cannot resolve host %s: %w", host, err)
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return g.block(rawURL, "unrecognised address %q for %s", a, host)
		}
		if err := g.checkIP(ip); err != nil {
			return g.block(rawURL, "%v", err)
		}
	}
	return nil
}

func (g *SSRFGuard) checkIP(ip net.IP) error {
	for _, m := range metadataIPs {
		if ip.Equal(m) {
			return fmt.Errorf("metadata address %s is not allowed", ip)
		}
	}
	if ip.IsUnspecified() || ip.IsMulticast() {
		return fmt.Errorf("address %s is not allowed", ip)
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("link-local address %s is not allowed", ip)
	}
	if g.cfg.AllowPrivate {
		return nil
	}
	if ip.IsLoopback() {
		return fmt.Errorf("loopback address %s is not allowed", ip)
	}
	if ip.IsPrivate() {
		return fmt.Errorf("private address %s is not allowed", ip)
	}
	// Carrier-grade NAT, 100.64.0.0/10.
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 100 && ip4[1]&0xc0 == 64 {
		return fmt.Errorf("shared address %s is not allowed", ip)
	}
	return nil
}

func (g *SSRFGuard) block(rawURL, format string, args ...any) error {
	err := fmt.Errorf("SSRF: "+format, args...)
	g.logger.Warn("url blocked", "url", rawURL, "reason", err)
	return err
}

// checkIPv4Literal refuses octal, hex, short and packed-integer IPv4 forms,
// which resolvers may expand to loopback or private addresses.
func checkIPv4Literal(host string) error {
	digits := 0
	for _, c := range host {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.', c == 'x':
		default:
			return nil // a name, not a literal
		}
	}
	if digits == 0 {
		return nil
	}
	if strings.Contains(host, "x") {
		return fmt.Errorf("hex IPv4 notation not allowed")
	}
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return fmt.Errorf("non-dotted-quad IPv4 notation not allowed")
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("empty IPv4 octet")
		}
		if len(p) > 1 && p[0] == '0' {
			return fmt.Errorf("octal IPv4 notation not allowed")
		}
		if len(p) > 3 || net.ParseIP(host) == nil {
			return fmt.Errorf("invalid IPv4 address")
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
