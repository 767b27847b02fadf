// Package safenet guards outbound probes against being pointed at internal
// infrastructure. The check runs after DNS resolution, so a public hostname
// resolving to a private address is still blocked.
package safenet

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

var reservedPrefixes []netip.Prefix

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.0.0.0/24",
		"192.0.2.0/24",
		"192.88.99.0/24",
		"192.168.0.0/16",
		"198.18.0.0/15",
		"198.51.100.0/24",
		"203.0.113.0/24",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"255.255.255.255/32",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		reservedPrefixes = append(reservedPrefixes, netip.MustParsePrefix(cidr))
	}
}

// IsReserved reports whether addr falls in a private or reserved range.
func IsReserved(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DialControl is a net.Dialer Control function rejecting connections to
// private/reserved addresses.
func DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("blocked: invalid address %q", address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("blocked: could not parse IP %q", host)
	}
	if IsReserved(addr) {
		return fmt.Errorf("blocked: connections to private/reserved IP %s are not allowed", addr)
	}
	return nil
}

// MaybeDialControl returns DialControl unless private targets are allowed.
func MaybeDialControl(allowPrivate bool) func(string, string, syscall.RawConn) error {
	if allowPrivate {
		return nil
	}
	return DialControl
}
