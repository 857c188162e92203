// Package policy implements the Strategy pattern for violation classification.
// Each strategy (static list, AI-assisted) decides whether a process name is forbidden.
package policy

import (
	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// Strategy builds a process classifier once the session is known.
// The session is needed because the server may hand out a lab-specific prompt.
type Strategy interface {
	// Name returns the configuration name (e.g., "static", "ai").
	Name() string

	// Build returns the classifier for this run.
	Build(session domain.Session) (domain.Classifier, error)
}

// StaticStrategy builds StaticClassifier instances.
type StaticStrategy struct {
	forbidden []string
}

// NewStaticStrategy creates the static-list strategy.
func NewStaticStrategy(forbidden []string) *StaticStrategy {
	return &StaticStrategy{forbidden: forbidden}
}

func (s *StaticStrategy) Name() string {
	return "static"
}

func (s *StaticStrategy) Build(_ domain.Session) (domain.Classifier, error) {
	return NewStaticClassifier(s.forbidden), nil
}

// Ensure StaticStrategy implements Strategy.
var _ Strategy = (*StaticStrategy)(nil)
