package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// AllowListClassifier allows a host when it contains any allow-list entry.
// Matching is by substring, not exact name: "example.com" allows "cdn.example.com".
type AllowListClassifier struct {
	allowed []string
}

// NewAllowListClassifier creates a host classifier from allow-list substrings.
func NewAllowListClassifier(substrings []string) *AllowListClassifier {
	allowed := make([]string, 0, len(substrings))
	for _, s := range substrings {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			allowed = append(allowed, s)
		}
	}
	return &AllowListClassifier{allowed: allowed}
}

// ClassifyHost returns Allowed iff host contains one of the allow-list entries.
func (c *AllowListClassifier) ClassifyHost(host string) domain.Verdict {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, a := range c.allowed {
		if strings.Contains(h, a) {
			return domain.Allowed
		}
	}
	return domain.Forbidden
}

// Ensure AllowListClassifier implements domain.HostClassifier.
var _ domain.HostClassifier = (*AllowListClassifier)(nil)
