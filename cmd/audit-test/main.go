// Command audit-test exercises the audit publisher by hand: it emits a
// trickle of events, then floods a deliberately small buffer to show the
// drop-instead-of-block behavior, and serves the counters on /metrics so the
// drop counter can be watched live.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"usher/internal/audit"
	"usher/internal/platform/metrics"
)

const smokeIdentity = "smoke@usher.local"

// failureTally counts drops locally and forwards them to the real counters.
type failureTally struct {
	metrics *metrics.Metrics
	dropped atomic.Int64
}

func (t *failureTally) IncrementAuditFailures() {
	t.dropped.Add(1)
	t.metrics.IncrementAuditFailures()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tally := &failureTally{metrics: metrics.New()}
	store := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(
		store,
		audit.WithAsyncBuffer(10), // small on purpose, the flood below must overflow it
		audit.WithFailureCounter(tally),
		audit.WithPublisherLogger(logger),
	)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		fmt.Println("Metrics available at http://localhost:9090/metrics")
		if err := http.ListenAndServe(":9090", nil); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx := context.Background()

	fmt.Println("\n=== Audit Publisher Smoke Test ===")

	fmt.Println("1. Emitting 5 events with headroom...")
	for i := 0; i < 5; i++ {
		publisher.Emit(ctx, audit.Event{
			Identity:  smokeIdentity,
			Action:    string(audit.EventChallengeRequested),
			Origin:    "203.0.113.0",
			Outcome:   "success",
			Reason:    fmt.Sprintf("smoke event %d", i+1),
			RequestID: uuid.NewString(),
		})
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	fmt.Println("2. Flooding 30 events into a buffer of 10...")
	for i := 0; i < 30; i++ {
		publisher.Emit(ctx, audit.Event{
			Identity:  smokeIdentity,
			Action:    string(audit.EventRedeemFailed),
			Origin:    "203.0.113.0",
			Outcome:   "failure",
			Reason:    fmt.Sprintf("flood event %d", i+1),
			RequestID: uuid.NewString(),
		})
	}
	time.Sleep(500 * time.Millisecond)

	stored, err := publisher.List(ctx, smokeIdentity)
	if err != nil {
		logger.Error("listing audit trail failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("3. Emitted 35 events: %d persisted, %d dropped\n", len(stored), tally.dropped.Load())

	fmt.Println("\nWatch the counter: curl -s http://localhost:9090/metrics | grep audit")
	fmt.Println("Press Ctrl+C to exit...")

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()
	publisher.Close()
}
