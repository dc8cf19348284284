package audit

import (
	"net"
	"time"
)

// ipRetentionDays is how long full IP addresses are retained before
// being coarsened.
const ipRetentionDays = 90

// AnonymizeIP coarsens an IP address for retention: IPv4 loses its last
// octet, IPv6 keeps only the leading 48 bits. Invalid input yields "".
func AnonymizeIP(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}

	if v4 := ip.To4(); v4 != nil {
		masked := make(net.IP, len(v4))
		copy(masked, v4)
		masked[3] = 0
		return masked.String()
	}

	masked := make(net.IP, net.IPv6len)
	copy(masked, ip.To16())
	for i := 6; i < net.IPv6len; i++ {
		masked[i] = 0
	}
	return masked.String()
}

// IPAnonymizationCutoff returns the timestamp before which stored IP
// addresses must be anonymized.
func IPAnonymizationCutoff() time.Time {
	return time.Now().UTC().Add(-ipRetentionDays * 24 * time.Hour)
}
