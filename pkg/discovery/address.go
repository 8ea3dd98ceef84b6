package discovery

import (
	"net"
	"sort"
)

// SortIPsByPreference sorts IP addresses by reachability. Priority order
// (highest to lowest):
//  1. Global Unicast Addresses
//  2. Unique Local Addresses (fc00::/7)
//  3. Private IPv4 and other IPv6 addresses
//  4. Link-Local Addresses
//  5. Loopback
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	// Make a copy to avoid modifying the original slice
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})

	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	ip = ip.To16()
	if ip == nil {
		return 99 // Invalid
	}

	switch {
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast():
		return 90
	case ip.IsLinkLocalUnicast():
		// A link-local IPv6 address needs a zone to be dialed.
		return 40
	case isGlobalUnicast(ip):
		return 0
	case isUniqueLocal(ip):
		return 1
	}
	return 10
}

// isGlobalUnicast returns true if the IP is a globally routable unicast address.
// This excludes ULA and private IPv4 ranges.
func isGlobalUnicast(ip net.IP) bool {
	if !ip.IsGlobalUnicast() || ip.IsPrivate() {
		return false
	}
	return !isUniqueLocal(ip)
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address (ULA).
func isUniqueLocal(ip net.IP) bool {
	if ip.To4() != nil {
		return false
	}
	ip = ip.To16()
	return ip != nil && (ip[0] == 0xfc || ip[0] == 0xfd)
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}
