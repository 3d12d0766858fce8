// Package privacy strips identifying detail from values before they reach
// long-lived records. Session metadata keeps full origins because the account
// owner may inspect their own sessions; the audit trail does not.
package privacy

import (
	"fmt"
	"net"
)

// AnonymizeIP truncates an address to its network prefix: IPv4 keeps the /24
// (last octet zeroed), IPv6 keeps the /48. The result identifies a
// neighborhood, never a host.
//
// Empty input maps to "unknown" and unparseable input to "invalid", so raw
// garbage can never leak through as-is.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	// IPv4-mapped IPv6 counts as IPv4.
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}
