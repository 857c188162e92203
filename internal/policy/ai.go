package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/metrics"
)

// AIConfig tunes the remote classification fallback.
type AIConfig struct {
	Prompt      string        // Default prompt, replaced by a non-empty lab prompt
	Whitelist   []string      // Names or glob patterns that never reach the service
	MaxAttempts int           // Total attempts per name before failing open
	RetryDelay  time.Duration // Fixed delay between attempts
	Timeout     time.Duration // Per-attempt timeout
}

// AIStrategy builds AIClassifier instances.
type AIStrategy struct {
	service domain.TextClassifier
	config  AIConfig
	logger  *zap.Logger
}

// NewAIStrategy creates the AI-assisted strategy.
func NewAIStrategy(service domain.TextClassifier, config AIConfig, logger *zap.Logger) *AIStrategy {
	return &AIStrategy{service: service, config: config, logger: logger}
}

func (s *AIStrategy) Name() string {
	return "ai"
}

func (s *AIStrategy) Build(session domain.Session) (domain.Classifier, error) {
	cfg := s.config
	if session.PolicyPrompt != "" {
		cfg.Prompt = session.PolicyPrompt
	}
	return NewAIClassifier(s.service, cfg, s.logger)
}

// Ensure AIStrategy implements Strategy.
var _ Strategy = (*AIStrategy)(nil)

// AIClassifier asks a text-classification service about unknown process names.
// Verdicts are cached for the lifetime of the classifier, so the service is
// asked at most once per name.
type AIClassifier struct {
	service  domain.TextClassifier
	config   AIConfig
	exact    map[string]struct{}
	patterns []glob.Glob
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	mu       sync.Mutex
	verdicts map[string]domain.Verdict
}

// NewAIClassifier creates a classifier. Whitelist entries containing glob
// metacharacters are compiled as patterns; the rest match exactly.
func NewAIClassifier(service domain.TextClassifier, config AIConfig, logger *zap.Logger) (*AIClassifier, error) {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	c := &AIClassifier{
		service:  service,
		config:   config,
		exact:    make(map[string]struct{}),
		logger:   logger,
		sleep:    sleepContext,
		verdicts: make(map[string]domain.Verdict),
	}
	for _, w := range config.Whitelist {
		if strings.ContainsAny(w, "*?[{") {
			g, err := glob.Compile(w)
			if err != nil {
				return nil, fmt.Errorf("invalid whitelist pattern %q: %w", w, err)
			}
			c.patterns = append(c.patterns, g)
			continue
		}
		c.exact[w] = struct{}{}
	}
	return c, nil
}

// Classify returns the cached verdict or asks the service.
// Service failures fail open: the name is treated as Allowed.
func (c *AIClassifier) Classify(ctx context.Context, name string) domain.Verdict {
	c.mu.Lock()
	if v, ok := c.verdicts[name]; ok {
		c.mu.Unlock()
		metrics.ClassifierRequests.WithLabelValues("cached").Inc()
		return v
	}
	c.mu.Unlock()

	if c.whitelisted(name) {
		metrics.ClassifierRequests.WithLabelValues("whitelisted").Inc()
		c.remember(name, domain.Allowed)
		return domain.Allowed
	}

	verdict, err := c.ask(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; leave the name for a later run.
			return domain.Allowed
		}
		metrics.ClassifierRequests.WithLabelValues("failed").Inc()
		c.logger.Warn("classification service unavailable, allowing",
			zap.String("name", name),
			zap.Int("attempts", c.config.MaxAttempts),
			zap.Error(err))
		verdict = domain.Allowed
	} else {
		metrics.ClassifierRequests.WithLabelValues(verdict.String()).Inc()
		c.logger.Debug("classified process",
			zap.String("name", name),
			zap.Stringer("verdict", verdict))
	}

	c.remember(name, verdict)
	return verdict
}

// CacheSize returns the number of names classified so far.
func (c *AIClassifier) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.verdicts)
}

func (c *AIClassifier) whitelisted(name string) bool {
	if _, ok := c.exact[name]; ok {
		return true
	}
	for _, g := range c.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (c *AIClassifier) remember(name string, v domain.Verdict) {
	c.mu.Lock()
	c.verdicts[name] = v
	c.mu.Unlock()
}

func (c *AIClassifier) ask(ctx context.Context, name string) (domain.Verdict, error) {
	prompt := c.config.Prompt
	if prompt != "" && !strings.HasSuffix(prompt, " ") && !strings.HasSuffix(prompt, "\n") {
		prompt += " "
	}
	prompt += name

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		answer, err := c.complete(ctx, prompt)
		if err == nil {
			if IsAffirmative(answer) {
				return domain.Forbidden, nil
			}
			return domain.Allowed, nil
		}
		lastErr = err
		c.logger.Debug("classification attempt failed",
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < c.config.MaxAttempts {
			if err := c.sleep(ctx, c.config.RetryDelay); err != nil {
				return domain.Allowed, err
			}
		}
	}
	return domain.Allowed, fmt.Errorf("classification failed after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

func (c *AIClassifier) complete(ctx context.Context, prompt string) (string, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	return c.service.Complete(ctx, prompt)
}

// IsAffirmative reports whether a free-text answer contains the word "yes".
func IsAffirmative(answer string) bool {
	words := strings.FieldsFunc(strings.ToLower(answer), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if w == "yes" {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ensure AIClassifier implements domain.Classifier.
var _ domain.Classifier = (*AIClassifier)(nil)
