// Package daemon implements the long-running monitoring agent.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/metrics"
)

// Scanner runs one detection pass.
type Scanner interface {
	ScanOnce(ctx context.Context) domain.ScanResult
}

// BufferFlusher uploads buffered events.
type BufferFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// AgentConfig holds agent loop configuration.
type AgentConfig struct {
	ProcessInterval   time.Duration // Process scan period
	DetectionCooldown time.Duration // Pause after a process scan that reported something
	NetworkInterval   time.Duration // Connection scan period
	HeartbeatInterval time.Duration // Liveness report period
	FlushInterval     time.Duration // Buffer upload period
	MetricsAddr       string        // Optional /metrics listen address
}

// DefaultAgentConfig returns default agent configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ProcessInterval:   1 * time.Second,
		DetectionCooldown: 5 * time.Second,
		NetworkInterval:   5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		FlushInterval:     10 * time.Second,
	}
}

// Agent runs the pollers and the delivery loops for one registered session.
type Agent struct {
	config         AgentConfig
	processScanner Scanner
	networkScanner Scanner
	client         domain.AdminClient
	flusher        BufferFlusher
	session        *domain.Session
	state          domain.StateStore
	logger         *zap.Logger
}

// NewAgent creates a new agent.
func NewAgent(
	config AgentConfig,
	processScanner Scanner,
	networkScanner Scanner,
	client domain.AdminClient,
	flusher BufferFlusher,
	session *domain.Session,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		config:         config,
		processScanner: processScanner,
		networkScanner: networkScanner,
		client:         client,
		flusher:        flusher,
		session:        session,
		logger:         logger,
	}
}

// WithStateStore records successful heartbeats in state.
func (a *Agent) WithStateStore(state domain.StateStore) *Agent {
	a.state = state
	return a
}

// Run starts every loop and blocks until ctx is canceled and all loops have
// returned. Loop failures never stop the agent; only cancellation does.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started",
		zap.String("client_id", a.session.ClientID),
		zap.Duration("process_interval", a.config.ProcessInterval),
		zap.Duration("network_interval", a.config.NetworkInterval))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.processLoop(ctx) })
	g.Go(func() error {
		return every(ctx, a.config.NetworkInterval, func() { a.networkScanner.ScanOnce(ctx) })
	})
	g.Go(func() error {
		return every(ctx, a.config.HeartbeatInterval, func() { a.heartbeat(ctx) })
	})
	g.Go(func() error { return a.flushLoop(ctx) })

	if a.config.MetricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(ctx, a.config.MetricsAddr, a.logger); err != nil {
				a.logger.Error("metrics listener failed", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("agent stopped")
	return err
}

// processLoop scans immediately, then waits ProcessInterval between scans, or
// DetectionCooldown after a scan that reported a violation.
func (a *Agent) processLoop(ctx context.Context) error {
	for {
		res := a.processScanner.ScanOnce(ctx)

		wait := a.config.ProcessInterval
		if len(res.Violations) > 0 {
			wait = a.config.DetectionCooldown
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) {
	res := a.client.Heartbeat(ctx, a.session.ClientID)
	if !res.OK() {
		if ctx.Err() == nil {
			a.logger.Warn("heartbeat failed",
				zap.String("status", res.Status.String()),
				zap.Error(res.Err))
		}
		return
	}
	if a.state != nil {
		if err := a.state.Touch(time.Now()); err != nil {
			a.logger.Debug("failed to record heartbeat", zap.Error(err))
		}
	}
}

func (a *Agent) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.finalFlush()
			return nil
		case <-ticker.C:
			if _, err := a.flusher.Flush(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("buffer flush failed, will retry", zap.Error(err))
			}
		}
	}
}

// finalFlush makes one bounded attempt to upload what is left at shutdown.
func (a *Agent) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.FlushInterval)
	defer cancel()

	n, err := a.flusher.Flush(ctx)
	if err != nil {
		a.logger.Info("records left in buffer at shutdown", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("flushed buffer at shutdown", zap.Int("records", n))
	}
}

// every runs fn immediately and then once per interval until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	fn()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
