// Package safeurl validates the pages the scanner is asked to visit. The
// scanner fetches arbitrary URLs on behalf of API callers, so private and
// loopback targets are refused unless explicitly allowed.
package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrScheme is returned for anything but absolute http(s) URLs.
	ErrScheme = errors.New("safeurl: want an absolute http(s) URL")
	// ErrPrivate is returned when a URL targets a private or loopback address.
	ErrPrivate = errors.New("safeurl: URL targets a private or loopback address")
)

var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Parse trims and parses rawURL, requiring an http or https scheme and a
// host. The fragment is dropped.
func Parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScheme, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrScheme, rawURL)
	}
	u.Fragment = ""
	return u, nil
}

// IsPrivate reports whether addr is loopback, link-local, or in a private
// or shared range.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver is the subset of *net.Resolver used by CheckPublic.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// CheckPublic refuses u when its host is, or resolves to, a private
// address. Resolution failures pass: the fetch fails on its own.
func CheckPublic(ctx context.Context, r Resolver, u *url.URL) error {
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrPrivate, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivate(addr) {
			return fmt.Errorf("%w: %s", ErrPrivate, host)
		}
		return nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if IsPrivate(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivate, host, a)
		}
	}
	return nil
}

// CheckRedirect is an http.Client CheckRedirect that applies CheckPublic
// to every hop and stops after 10 redirects.
func CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("safeurl: stopped after 10 redirects")
	}
	return CheckPublic(req.Context(), nil, req.URL)
}
