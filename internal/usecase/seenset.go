// Package usecase contains application business logic.
package usecase

import (
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// SeenSet remembers which process names were already checked.
//
// In DedupOnce mode a name is admitted exactly once per lifetime.
// In DedupDebounce mode a name is admitted again once cooldown has elapsed
// since it was last admitted.
type SeenSet struct {
	mode     domain.DedupMode
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewSeenSet creates a SeenSet. A nil clock uses time.Now.
func NewSeenSet(mode domain.DedupMode, cooldown time.Duration, now func() time.Time) *SeenSet {
	if now == nil {
		now = time.Now
	}
	if mode == "" {
		mode = domain.DedupOnce
	}
	return &SeenSet{
		mode:     mode,
		cooldown: cooldown,
		now:      now,
		seen:     make(map[string]time.Time),
	}
}

// Admit reports whether name is due for a check and marks it seen.
func (s *SeenSet) Admit(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	last, ok := s.seen[name]
	if ok {
		if s.mode == domain.DedupOnce || now.Sub(last) < s.cooldown {
			return false
		}
	}
	s.seen[name] = now
	return true
}

// Len returns the number of names seen so far.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Mode returns the dedup mode.
func (s *SeenSet) Mode() domain.DedupMode {
	return s.mode
}
