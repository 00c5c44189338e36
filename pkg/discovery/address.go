package discovery

import (
	"net"
	"sort"
)

// SortIPsByPreference orders addresses for dialing a device. miio devices
// only listen on IPv4, so IPv4 comes first; among IPv6 addresses global
// unicast is preferred over unique local and link-local.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return 99
	case ip.To4() != nil:
		return 0
	case ip.IsLinkLocalUnicast():
		return 30
	case isUniqueLocal(ip):
		return 20
	case ip.IsGlobalUnicast():
		return 10
	default:
		return 40
	}
}

// isUniqueLocal reports whether ip is in fc00::/7.
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	return ip != nil && ip.To4() == nil && ip[0]&0xfe == 0xfc
}

// FilterIPv4 returns only the IPv4 addresses.
func FilterIPv4(ips []net.IP) []net.IP {
	var out []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			out = append(out, ip)
		}
	}
	return out
}
