package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/metrics"
)

// Flusher uploads the event buffer to the admin server.
// Records leave the buffer only after the server accepted them.
type Flusher struct {
	buffer   domain.EventBuffer
	client   domain.AdminClient
	clientID string
	logger   *zap.Logger
}

// NewFlusher creates a flusher for clientID.
func NewFlusher(buffer domain.EventBuffer, client domain.AdminClient, clientID string, logger *zap.Logger) *Flusher {
	return &Flusher{
		buffer:   buffer,
		client:   client,
		clientID: clientID,
		logger:   logger,
	}
}

// Flush sends pending records batch by batch until the buffer is empty and
// returns how many were delivered. A failed batch stays buffered along with
// everything after it.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, more, err := f.flushBatch(ctx)
		total += n
		if err != nil || !more {
			return total, err
		}
	}
}

// flushBatch uploads one batch. more is false once the buffer is empty.
func (f *Flusher) flushBatch(ctx context.Context) (int, bool, error) {
	batch, err := f.buffer.Pending()
	if err != nil {
		return 0, false, fmt.Errorf("read buffer: %w", err)
	}
	if batch.Empty() {
		if batch.Size() > 0 {
			// only unreadable lines left over from a crash
			f.logger.Warn("dropping unreadable buffer lines", zap.Int64("bytes", batch.Size()))
			if err := f.buffer.Ack(batch); err != nil {
				return 0, false, fmt.Errorf("ack buffer: %w", err)
			}
			return 0, true, nil
		}
		metrics.BufferedRecords.Set(0)
		return 0, false, nil
	}

	res := f.client.SendLogs(ctx, f.clientID, batch.Records)
	if !res.OK() {
		if n, err := f.buffer.Len(); err == nil {
			metrics.BufferedRecords.Set(float64(n))
		}
		return 0, false, fmt.Errorf("upload %d records (%s): %w", len(batch.Records), res.Status, res.Err)
	}

	if err := f.buffer.Ack(batch); err != nil {
		if errors.Is(err, domain.ErrAckMismatch) {
			// another flusher took these records; they were still delivered
			f.logger.Warn("buffer changed during flush, keeping current contents",
				zap.Int("records", len(batch.Records)))
		}
		return len(batch.Records), false, fmt.Errorf("ack buffer: %w", err)
	}

	if n, err := f.buffer.Len(); err == nil {
		metrics.BufferedRecords.Set(float64(n))
	}

	f.logger.Debug("buffer batch flushed", zap.Int("records", len(batch.Records)))
	return len(batch.Records), true, nil
}
