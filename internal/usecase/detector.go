package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/metrics"
)

// ProcessScanner runs one pass of forbidden-application detection.
type ProcessScanner struct {
	lister     domain.ProcessLister
	classifier domain.Classifier
	seen       *SeenSet
	reporter   domain.Reporter
	logger     *zap.Logger
	now        func() time.Time
}

// NewProcessScanner creates a process scanner.
func NewProcessScanner(
	lister domain.ProcessLister,
	classifier domain.Classifier,
	seen *SeenSet,
	reporter domain.Reporter,
	logger *zap.Logger,
) *ProcessScanner {
	return &ProcessScanner{
		lister:     lister,
		classifier: classifier,
		seen:       seen,
		reporter:   reporter,
		logger:     logger,
		now:        time.Now,
	}
}

// ScanOnce enumerates processes and reports each newly seen forbidden name.
// Names already in the SeenSet are not classified again.
func (s *ProcessScanner) ScanOnce(ctx context.Context) (result domain.ScanResult) {
	start := s.now()
	result = domain.ScanResult{Kind: domain.KindProcess, ExecutedAt: start}
	defer func() {
		elapsed := s.now().Sub(start)
		result.DurationMs = elapsed.Milliseconds()
		metrics.ScanDuration.WithLabelValues(string(domain.KindProcess)).Observe(elapsed.Seconds())
	}()

	names, err := s.lister.ListNames(ctx)
	if err != nil {
		s.logger.Warn("failed to enumerate processes", zap.Error(err))
		metrics.ScanErrors.WithLabelValues(string(domain.KindProcess)).Inc()
		result.Errors = append(result.Errors, err)
		return result
	}

	unique := make(map[string]struct{}, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if _, dup := unique[name]; dup {
			continue
		}
		unique[name] = struct{}{}
		result.Inspected++

		if !s.seen.Admit(name) {
			continue
		}
		if s.classifier.Classify(ctx, name) != domain.Forbidden {
			continue
		}

		ev := domain.NewViolationEvent(domain.KindProcess, name, s.now())
		s.logger.Warn("forbidden application detected", zap.String("name", name))
		s.reporter.Report(ctx, ev)
		result.Violations = append(result.Violations, ev)
	}

	return result
}

// NetworkScanner runs one pass of unauthorized-connection detection.
type NetworkScanner struct {
	lister     domain.ConnectionLister
	resolver   domain.HostResolver
	classifier domain.HostClassifier
	reporter   domain.Reporter
	logger     *zap.Logger
	now        func() time.Time
}

// NewNetworkScanner creates a network scanner.
func NewNetworkScanner(
	lister domain.ConnectionLister,
	resolver domain.HostResolver,
	classifier domain.HostClassifier,
	reporter domain.Reporter,
	logger *zap.Logger,
) *NetworkScanner {
	return &NetworkScanner{
		lister:     lister,
		resolver:   resolver,
		classifier: classifier,
		reporter:   reporter,
		logger:     logger,
		now:        time.Now,
	}
}

// ScanOnce reports every established connection whose peer resolves to a
// host outside the allow-list. Unresolvable peers are skipped. There is no
// dedup: a connection that stays open is reported on every scan.
func (s *NetworkScanner) ScanOnce(ctx context.Context) (result domain.ScanResult) {
	start := s.now()
	result = domain.ScanResult{Kind: domain.KindNetwork, ExecutedAt: start}
	defer func() {
		elapsed := s.now().Sub(start)
		result.DurationMs = elapsed.Milliseconds()
		metrics.ScanDuration.WithLabelValues(string(domain.KindNetwork)).Observe(elapsed.Seconds())
	}()

	conns, err := s.lister.Established(ctx)
	if err != nil {
		s.logger.Warn("failed to enumerate connections", zap.Error(err))
		metrics.ScanErrors.WithLabelValues(string(domain.KindNetwork)).Inc()
		result.Errors = append(result.Errors, err)
		return result
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			break
		}
		result.Inspected++

		host, err := s.resolver.ReverseLookup(ctx, conn.RemoteIP)
		if err != nil {
			s.logger.Debug("skipping unresolved peer",
				zap.String("ip", conn.RemoteIP),
				zap.Error(err))
			continue
		}
		if s.classifier.ClassifyHost(host) != domain.Forbidden {
			continue
		}

		ev := domain.NewViolationEvent(domain.KindNetwork, host, s.now())
		s.logger.Warn("unauthorized network access",
			zap.String("host", host),
			zap.String("ip", conn.RemoteIP),
			zap.Uint32("port", conn.RemotePort),
			zap.Int32("pid", conn.PID))
		s.reporter.Report(ctx, ev)
		result.Violations = append(result.Violations, ev)
	}

	return result
}
