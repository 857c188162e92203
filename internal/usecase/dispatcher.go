package usecase

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/metrics"
)

// Dispatcher implements domain.Reporter for the running agent: every event is
// durably buffered first, then pushed as an immediate alert. A failed alert is
// not retried here; the buffered copy reaches the server with the next flush.
type Dispatcher struct {
	buffer  domain.EventBuffer
	client  domain.AdminClient
	labCode string
	session *domain.Session
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher bound to a registered session.
func NewDispatcher(
	buffer domain.EventBuffer,
	client domain.AdminClient,
	labCode string,
	session *domain.Session,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		buffer:  buffer,
		client:  client,
		labCode: labCode,
		session: session,
		logger:  logger,
	}
}

// Report buffers and alerts ev. Failures are logged, never returned.
func (d *Dispatcher) Report(ctx context.Context, ev domain.ViolationEvent) {
	metrics.Violations.WithLabelValues(string(ev.Kind)).Inc()

	if err := d.buffer.Append(ev); err != nil {
		d.logger.Error("failed to buffer event",
			zap.String("id", ev.ID),
			zap.String("subject", ev.Subject),
			zap.Error(err))
	}

	res := d.client.SendAlert(ctx, d.labCode, d.session.ClientID, ev)
	if !res.OK() {
		d.logger.Warn("alert delivery failed, event kept for next flush",
			zap.String("id", ev.ID),
			zap.String("status", res.Status.String()),
			zap.Int("code", res.StatusCode),
			zap.Error(res.Err))
	}
}

// Ensure Dispatcher implements domain.Reporter.
var _ domain.Reporter = (*Dispatcher)(nil)

// PrintReporter writes events to out without delivering them. Used by the
// one-shot scan command.
type PrintReporter struct {
	out io.Writer
}

// NewPrintReporter creates a reporter writing to out.
func NewPrintReporter(out io.Writer) *PrintReporter {
	return &PrintReporter{out: out}
}

// Report prints one line per event.
func (p *PrintReporter) Report(_ context.Context, ev domain.ViolationEvent) {
	fmt.Fprintf(p.out, "%s  %-8s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Kind, ev.Message())
}

// Ensure PrintReporter implements domain.Reporter.
var _ domain.Reporter = (*PrintReporter)(nil)
