package model

import (
	"fmt"
	"net/netip"
	"strings"
)

// MaskIPv4 keeps private-range addresses verbatim and redacts the host half of
// any other IPv4 address to "a.b.x.x". Anything unparseable is returned as is.
func MaskIPv4(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.Is4() {
		return ip
	}
	if addr.IsPrivate() {
		return addr.String()
	}
	b := addr.As4()
	return fmt.Sprintf("%d.%d.x.x", b[0], b[1])
}
