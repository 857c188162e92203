package policy

import (
	"context"
	"sort"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// StaticClassifier forbids exactly the configured process names.
type StaticClassifier struct {
	forbidden map[string]struct{}
}

// NewStaticClassifier creates a classifier from a forbidden-name list.
func NewStaticClassifier(names []string) *StaticClassifier {
	forbidden := make(map[string]struct{}, len(names))
	for _, n := range names {
		forbidden[n] = struct{}{}
	}
	return &StaticClassifier{forbidden: forbidden}
}

// Classify is a set membership test; names are matched exactly.
func (c *StaticClassifier) Classify(_ context.Context, name string) domain.Verdict {
	if _, ok := c.forbidden[name]; ok {
		return domain.Forbidden
	}
	return domain.Allowed
}

// Names returns the forbidden names, sorted.
func (c *StaticClassifier) Names() []string {
	names := make([]string, 0, len(c.forbidden))
	for n := range c.forbidden {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ensure StaticClassifier implements domain.Classifier.
var _ domain.Classifier = (*StaticClassifier)(nil)
