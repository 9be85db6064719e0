package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zapdesk/media-extractor/internal/bootstrap"
	"github.com/zapdesk/media-extractor/internal/config"
	"github.com/zapdesk/media-extractor/internal/observability/logging"
	"github.com/zapdesk/media-extractor/internal/observability/metrics"
)

const serviceName = "media-extractor-worker"

// attemptTimeout bounds one claim-and-extract cycle, covering download,
// external service calls and the transcription poll budget.
const attemptTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	go serveMetrics(ctx, cfg.WorkerMetricsPort, workerMetrics)

	// Backoff-requeued items have no wake-up message, so a sweep ticker
	// drains whatever became eligible since the last pass.
	go runRetrySweep(ctx, app, workerMetrics, cfg.RetrySweepInterval)

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Wake.SubscribeItemQueued(ctx, func(handlerCtx context.Context, itemID string) error {
		slog.Debug("wakeup_received", "item_id", itemID)
		drainQueue(handlerCtx, app, workerMetrics)
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

// drainQueue processes eligible items until the queue reports empty. Errors on
// individual items are already persisted by the retry policy, so the drain
// keeps going.
func drainQueue(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics) {
	for {
		if ctx.Err() != nil {
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		start := time.Now()
		m.StartAttempt()
		outcome, err := app.ProcessUC.ProcessNext(attemptCtx)
		cancel()

		// Idle polls are not attempts; only claimed items count.
		if outcome.Processed || err != nil {
			m.FinishAttempt(serviceName, outcome.MediaType, time.Since(start), err)
		} else {
			m.AbortAttempt()
		}
		if outcome.Processed && outcome.PriorAttempts == 0 && !outcome.ReceivedAt.IsZero() {
			m.ObserveQueueLag(serviceName, start.Sub(outcome.ReceivedAt))
		}

		if err != nil {
			m.RecordFailure(serviceName, outcome.MediaType)
			slog.Warn("item_attempt_failed", "item_id", outcome.ItemID, "error", err)
		}
		if !outcome.Processed {
			return
		}
	}
}

func runRetrySweep(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainQueue(ctx, app, m)
		}
	}
}

func serveMetrics(ctx context.Context, port string, m *metrics.WorkerMetrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics_server_failed", "error", err)
	}
}
