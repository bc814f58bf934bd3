package scriptcage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ForbiddenFetchHeaders lists request headers a script may not set. The
// HTTPHook drops them silently.
var ForbiddenFetchHeaders = map[string]bool{
	"host":                true,
	"transfer-encoding":   true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"x-forwarded-for":     true,
	"x-forwarded-host":    true,
	"x-forwarded-proto":   true,
	"x-real-ip":           true,
}

// errPrivateAddress is returned for fetches that target a private range.
var errPrivateAddress = errors.New("fetch to private IP addresses is not allowed")

// reservedPrefixes are never reachable from scripts: loopback, RFC 1918,
// CGNAT, link-local, documentation and benchmarking ranges, plus their
// IPv6 counterparts.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

func isReserved(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivateIP reports whether ip is loopback, link-local, private or
// otherwise reserved. IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	return isReserved(addr)
}

// IsPrivateHostname is a non-resolving pre-check for URLs whose host is
// obviously private: localhost names and literal private addresses.
// Unparseable URLs count as private.
func IsPrivateHostname(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return true
	case host == "localhost", strings.HasSuffix(host, ".localhost"):
		return true
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return isReserved(addr)
	}
	return false
}

// dialGuard runs after name resolution, once per address the dialer is
// about to connect to, so a DNS answer cannot smuggle in a private target.
func dialGuard(_ context.Context, network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if isReserved(ap.Addr()) {
		return errPrivateAddress
	}
	return nil
}

var guardedDialer = &net.Dialer{
	Timeout:        30 * time.Second,
	KeepAlive:      30 * time.Second,
	ControlContext: dialGuard,
}

// ssrfSafeDialContext dials like net.Dialer but refuses reserved targets.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return guardedDialer.DialContext(ctx, network, addr)
}
