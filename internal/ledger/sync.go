package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	eventmodels "proveniq-ops/internal/events/models"
	"proveniq-ops/internal/ledger/metrics"
	id "proveniq-ops/pkg/domain"
)

// syncConcurrency bounds parallel posts per batch so a slow ledger cannot
// soak up the worker's goroutines.
const syncConcurrency = 4

// EventSource is the slice of the event log the worker needs.
type EventSource interface {
	GetUnsynced(ctx context.Context, limit int) ([]*eventmodels.Event, error)
	MarkSynced(ctx context.Context, eventID id.EventID, ledgerEventID string) error
}

// SyncWorker drains unsynced events to the ledger in the background. It runs
// off the append path entirely; events keep flowing while the ledger is down
// and catch up when it returns.
type SyncWorker struct {
	bridge    Bridge
	events    EventSource
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

type WorkerOption func(w *SyncWorker)

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *SyncWorker) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *SyncWorker) { w.metrics = m }
}

// NewSyncWorker constructs the write-through worker.
func NewSyncWorker(bridge Bridge, events EventSource, interval time.Duration, batchSize int, opts ...WorkerOption) *SyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	w := &SyncWorker{
		bridge:    bridge,
		events:    events,
		logger:    slog.Default(),
		interval:  interval,
		batchSize: batchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains batches on the configured interval until the context is
// cancelled. Returns the context error on shutdown.
func (w *SyncWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			synced, err := w.SyncOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WarnContext(ctx, "ledger sync pass failed", "error", err)
			}
			if synced > 0 {
				w.logger.InfoContext(ctx, "ledger sync pass complete", "synced", synced)
			}
		}
	}
}

// SyncOnce drains one batch and returns how many events were marked synced.
// An event that fails after retries stays unsynced and is picked up by a
// later pass.
func (w *SyncWorker) SyncOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	start := time.Now()
	pending, err := w.events.GetUnsynced(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var synced int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	results := make([]bool, len(pending))

	for i, event := range pending {
		g.Go(func() error {
			if err := w.syncEvent(gctx, event); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				w.logger.WarnContext(gctx, "event sync failed",
					"event_id", event.EventID, "event_type", event.EventType, "error", err)
				if w.metrics != nil {
					w.metrics.IncrementSynced("failed")
				}
				return nil
			}
			results[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return countTrue(results), err
	}
	synced = countTrue(results)

	if w.metrics != nil {
		w.metrics.ObserveBatchDuration(time.Since(start))
	}
	return synced, nil
}

func (w *SyncWorker) syncEvent(ctx context.Context, event *eventmodels.Event) error {
	payload := map[string]any{
		"ops_event_id":  event.EventID.String(),
		"original_type": event.EventType,
		"event_hash":    event.EventHash,
	}
	for k, v := range event.Payload {
		payload[k] = v
	}

	ledgerEvent := Event{
		Source:         "ops",
		EventType:      CanonicalEventType(event.EventType),
		CorrelationID:  event.CorrelationID,
		IdempotencyKey: IdempotencyKey(event.EventID.String()),
		Payload:        payload,
		Timestamp:      event.Timestamp,
	}
	if !event.AssetID.IsNil() {
		ledgerEvent.AssetID = event.AssetID.String()
	}

	policy := backoff.WithContext(newBackoff(), ctx)
	receipt, err := backoff.RetryWithData(func() (Receipt, error) {
		receipt, err := w.bridge.WriteEvent(ctx, ledgerEvent)
		if err != nil && !IsTransient(err) {
			return Receipt{}, backoff.Permanent(err)
		}
		return receipt, err
	}, policy)
	if err != nil {
		return err
	}

	if err := w.events.MarkSynced(ctx, event.EventID, receipt.LedgerEventID); err != nil {
		return err
	}
	if w.metrics != nil {
		if receipt.AlreadySynced {
			w.metrics.IncrementSynced("already_synced")
		} else {
			w.metrics.IncrementSynced("synced")
		}
	}
	return nil
}

func newBackoff() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	return policy
}

func countTrue(flags []bool) int {
	var n int
	for _, ok := range flags {
		if ok {
			n++
		}
	}
	return n
}
