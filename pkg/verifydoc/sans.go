package verifydoc

import "strings"

// domainMatchesSans implements RFC 6125 single-label wildcard matching: a SAN of "*.example.com" matches
// "sub.example.com" but not "example.com" itself or "a.b.example.com".
// Non-wildcard SANs must match domain exactly, case-insensitively.
func domainMatchesSans(sans []string, domain string) bool {
	domain = strings.ToLower(domain)
	for _, san := range sans {
		san = strings.ToLower(san)
		if san == domain {
			return true
		}
		if !strings.HasPrefix(san, "*.") {
			continue
		}
		suffix := san[1:] // ".example.com"
		if !strings.HasSuffix(domain, suffix) {
			continue
		}
		label := strings.TrimSuffix(domain, suffix)
		if label != "" && !strings.Contains(label, ".") {
			return true
		}
	}
	return false
}
