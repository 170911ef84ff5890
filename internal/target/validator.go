package target

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/sentinelsec/sentinel/internal/shared/constants"
	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
)

// Target is a validated, fully-qualified scan target.
type Target struct {
	Raw      string
	URL      *url.URL
	Hostname string
}

// String returns the normalized URL for the probe engine.
func (t *Target) String() string {
	return t.URL.String()
}

// blockedNets are the private/loopback ranges a scan target may never
// point at, directly or via DNS.
var blockedNets = mustParseCIDRs(
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"0.0.0.0/32",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("target: bad builtin CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// LookupFunc resolves a hostname to its A and AAAA addresses. It is a
// field on Validator so tests can stub resolution.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Validator parses and sanitizes user-supplied scan targets. It rejects
// non-HTTP schemes, private and loopback hosts, targets outside the
// configured allow-list, and hostnames whose DNS records point into
// blocked ranges (DNS-rebinding SSRF).
type Validator struct {
	// Allowlist restricts targets to these domains and their subdomains
	// when non-empty.
	Allowlist []string

	// LookupIP overrides DNS resolution; nil uses the system resolver.
	LookupIP LookupFunc
}

// NewValidator creates a Validator with an optional domain allow-list.
func NewValidator(allowlist []string) *Validator {
	return &Validator{Allowlist: allowlist}
}

// Validate checks rawTarget and returns the validated target or one of
// ErrInvalidURL, ErrBlockedTarget, ErrNotAllowlisted.
func (v *Validator) Validate(ctx context.Context, rawTarget string) (*Target, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawTarget))
	if err != nil {
		return nil, scanerrors.ErrInvalidURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, scanerrors.ErrInvalidURL
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, scanerrors.ErrInvalidURL
	}

	if hostBlocked(host) {
		return nil, scanerrors.ErrBlockedTarget
	}

	if len(v.Allowlist) > 0 && !v.allowlisted(host) {
		return nil, scanerrors.ErrNotAllowlisted
	}

	// Resolve A/AAAA records and apply the same range rules to every
	// address. Resolution failure is non-fatal: the probe will fail
	// naturally against an unresolvable host.
	if net.ParseIP(host) == nil {
		ips, err := v.resolve(ctx, host)
		if err == nil {
			for _, ip := range ips {
				if ipBlocked(ip) {
					return nil, scanerrors.ErrBlockedTarget
				}
			}
		}
	}

	return &Target{Raw: rawTarget, URL: parsed, Hostname: host}, nil
}

func (v *Validator) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if v.LookupIP != nil {
		return v.LookupIP(ctx, host)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, constants.DNSTimeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func (v *Validator) allowlisted(host string) bool {
	host = strings.ToLower(host)
	for _, domain := range v.Allowlist {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func hostBlocked(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" ||
		strings.HasSuffix(lower, ".localhost") ||
		strings.HasSuffix(lower, ".local") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ipBlocked(ip)
	}
	return false
}

func ipBlocked(ip net.IP) bool {
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
