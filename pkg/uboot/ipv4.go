package uboot

import (
	"net/netip"
	"regexp"
)

var dottedQuad = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)

// IsValidIPv4 reports whether s is exactly a dotted-quad IPv4 address.
func IsValidIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// ExtractIPv4 returns the first valid dotted-quad address found in text.
func ExtractIPv4(text string) (netip.Addr, bool) {
	for _, m := range dottedQuad.FindAllString(text, -1) {
		if addr, err := netip.ParseAddr(m); err == nil && addr.Is4() {
			return addr, true
		}
	}
	return netip.Addr{}, false
}
