// Package metrics exposes Prometheus counters for the detection and delivery pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Violations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labmon_violations_total",
		Help: "Violations detected, by kind",
	}, []string{"kind"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labmon_deliveries_total",
		Help: "Admin server calls, by call and outcome",
	}, []string{"call", "outcome"})

	BufferedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labmon_buffered_records",
		Help: "Records waiting in the local event buffer after the last flush",
	})

	ClassifierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labmon_classifier_requests_total",
		Help: "AI classifier lookups, by result (forbidden, allowed, failed, cached, whitelisted)",
	}, []string{"result"})

	ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labmon_scan_errors_total",
		Help: "Enumeration or resolution errors, by poller",
	}, []string{"poller"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labmon_scan_duration_seconds",
		Help:    "Time to run one poller scan",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	}, []string{"poller"})
)

// Serve runs the /metrics listener until ctx is canceled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
