// Package hostname extracts tracking domains from URLs and matches them
// against ignore rules.
package hostname

import (
	"net/url"
	"strings"
)

// Unknown is the domain of URLs that have no parsable host.
const Unknown = "unknown"

// Extract returns the lowercased host of rawURL with a leading "www." removed,
// or Unknown if the URL has no host.
func Extract(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Unknown
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Unknown
	}
	return strings.TrimPrefix(host, "www.")
}

// NormalizeRule turns an ignore rule into a bare domain suffix. Rules that
// carry a scheme are domain-extracted; otherwise a leading "*." or "www." is
// dropped, matching how Extract reduces hosts.
func NormalizeRule(rule string) string {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return ""
	}
	if strings.Contains(rule, "://") {
		return Extract(rule)
	}
	rule = strings.ToLower(strings.TrimPrefix(rule, "*."))
	return strings.TrimPrefix(rule, "www.")
}

// MatchesRule reports whether domain is rule or a subdomain of rule.
func MatchesRule(domain, rule string) bool {
	if rule == "" {
		return false
	}
	return domain == rule || strings.HasSuffix(domain, "."+rule)
}

// IsIgnored reports whether rawURL's domain matches any of rules.
func IsIgnored(rawURL string, rules []string) bool {
	domain := Extract(rawURL)
	for _, r := range rules {
		if MatchesRule(domain, NormalizeRule(r)) {
			return true
		}
	}
	return false
}

// NormalizeDomains lowercases and trims domains, dropping empty entries.
func NormalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
