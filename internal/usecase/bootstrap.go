package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// BootstrapMode selects what happens when the admin server cannot be reached.
type BootstrapMode string

const (
	// BootstrapAuto keeps probing in offline mode until the server answers.
	BootstrapAuto BootstrapMode = "auto"
	// BootstrapManual asks the operator whether to retry.
	BootstrapManual BootstrapMode = "manual"
)

// BootstrapConfig holds bootstrap settings.
type BootstrapConfig struct {
	LabCode          string
	ClientName       string
	Mode             BootstrapMode
	ProbeAttempts    int
	ProbeDelay       time.Duration
	RegisterAttempts int
	OfflineRetry     time.Duration
}

// DefaultBootstrapConfig returns sensible defaults.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Mode:             BootstrapAuto,
		ProbeAttempts:    5,
		ProbeDelay:       2 * time.Second,
		RegisterAttempts: 3,
		OfflineRetry:     30 * time.Second,
	}
}

// Bootstrapper establishes the session with the admin server.
type Bootstrapper struct {
	client   domain.AdminClient
	operator domain.Operator
	config   BootstrapConfig
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewBootstrapper creates a bootstrapper. operator may be nil in auto mode.
func NewBootstrapper(client domain.AdminClient, operator domain.Operator, config BootstrapConfig, logger *zap.Logger) *Bootstrapper {
	if config.ProbeAttempts < 1 {
		config.ProbeAttempts = 1
	}
	if config.RegisterAttempts < 1 {
		config.RegisterAttempts = 1
	}
	return &Bootstrapper{
		client:   client,
		operator: operator,
		config:   config,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run waits for the server and registers this client. It returns
// domain.ErrBootstrapAborted when the operator declines a retry and
// domain.ErrNotRegistered when registration keeps failing.
func (b *Bootstrapper) Run(ctx context.Context) (*domain.Session, error) {
	if err := b.waitForServer(ctx); err != nil {
		return nil, err
	}
	return b.register(ctx)
}

func (b *Bootstrapper) waitForServer(ctx context.Context) error {
	for {
		if b.probeRound(ctx) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if b.config.Mode == BootstrapManual {
			cause := fmt.Errorf("no answer after %d attempts", b.config.ProbeAttempts)
			if !b.confirm("admin server probe", cause) {
				return domain.ErrBootstrapAborted
			}
			continue
		}

		b.logger.Warn("admin server unreachable, entering offline mode",
			zap.Int("attempts", b.config.ProbeAttempts),
			zap.Duration("retry", b.config.OfflineRetry))
		return b.offline(ctx)
	}
}

// offline probes every OfflineRetry until the server answers or ctx ends.
func (b *Bootstrapper) offline(ctx context.Context) error {
	for {
		if err := b.sleep(ctx, b.config.OfflineRetry); err != nil {
			return err
		}
		if b.client.Probe(ctx) {
			b.logger.Info("admin server reachable, leaving offline mode")
			return nil
		}
		b.logger.Debug("admin server still unreachable")
	}
}

func (b *Bootstrapper) probeRound(ctx context.Context) bool {
	for attempt := 1; attempt <= b.config.ProbeAttempts; attempt++ {
		if b.client.Probe(ctx) {
			return true
		}
		b.logger.Info("admin server probe failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", b.config.ProbeAttempts))
		if attempt < b.config.ProbeAttempts {
			if err := b.sleep(ctx, b.config.ProbeDelay); err != nil {
				return false
			}
		}
	}
	return false
}

func (b *Bootstrapper) register(ctx context.Context) (*domain.Session, error) {
	var lastErr error
	for {
		for attempt := 1; attempt <= b.config.RegisterAttempts; attempt++ {
			session, res := b.client.Register(ctx, b.config.LabCode, b.config.ClientName)
			if res.OK() {
				b.logger.Info("registered with admin server",
					zap.String("client_id", session.ClientID),
					zap.Bool("lab_prompt", session.PolicyPrompt != ""))
				return session, nil
			}
			lastErr = res.Err
			b.logger.Warn("registration failed",
				zap.Int("attempt", attempt),
				zap.String("status", res.Status.String()),
				zap.Int("code", res.StatusCode),
				zap.Error(res.Err))
			if attempt < b.config.RegisterAttempts {
				if err := b.sleep(ctx, b.config.ProbeDelay); err != nil {
					return nil, err
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.config.Mode == BootstrapManual && b.confirm("registration", lastErr) {
			continue
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrNotRegistered, lastErr)
	}
}

func (b *Bootstrapper) confirm(stage string, cause error) bool {
	if b.operator == nil {
		return false
	}
	return b.operator.ConfirmRetry(stage, cause)
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
