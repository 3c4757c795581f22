// Package delivery implements the Delivery Queue: a background worker
// that drains pending DeliveryRecord rows, dispatches each through a
// platform-keyed ChannelDriver, and retries failures with exponential
// backoff before giving up and dead-lettering the record.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// batchSize bounds how many records a single polling cycle dequeues.
const batchSize = 25

// Worker polls the Delivery Store and dispatches eligible records.
type Worker struct {
	store    store.DeliveryStore
	registry *Registry
	cfg      config.QueueConfig
}

// NewWorker wires a Delivery Queue worker.
func NewWorker(s store.DeliveryStore, registry *Registry, cfg config.QueueConfig) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoffMs <= 0 {
		cfg.BaseBackoffMs = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Worker{store: s, registry: registry, cfg: cfg}
}

// Enqueue persists a new outbound message for later dispatch.
func (w *Worker) Enqueue(ctx context.Context, platform, chatID, payload string) (*models.DeliveryRecord, error) {
	rec := &models.DeliveryRecord{
		ID:        uuid.NewString(),
		Platform:  platform,
		ChatID:    chatID,
		Payload:   payload,
		State:     models.DeliveryQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.Enqueue(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue delivery: %w", err)
	}
	return rec, nil
}

// Start runs the poll loop until ctx is cancelled. One cycle runs
// immediately so a freshly started worker doesn't sit idle for a full
// PollInterval before its first pass.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle dequeues one batch and dispatches each record, honoring the
// queue's current backpressure mode.
func (w *Worker) runCycle(ctx context.Context) {
	settings := w.store.GetQueueSettings(ctx)
	if settings.Mode == models.QueueModeDrain {
		return
	}

	n := batchSize
	if settings.Mode == models.QueueModeThrottled {
		n = batchSize / 5
		if n == 0 {
			n = 1
		}
	}

	batch, err := w.store.DequeueBatch(ctx, n, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("dequeue delivery batch failed")
		return
	}

	for i := range batch {
		w.dispatch(ctx, &batch[i])
	}
}

// dispatch sends one record and records the outcome, either marking it
// sent, scheduling a backoff retry, or dead-lettering it once MaxAttempts
// is exhausted.
func (w *Worker) dispatch(ctx context.Context, rec *models.DeliveryRecord) {
	driver := w.registry.Get(rec.Platform)
	if driver == nil {
		w.fail(ctx, rec, fmt.Errorf("no channel driver registered for platform %q", rec.Platform))
		return
	}

	attempt := &models.DeliveryAttempt{
		ID:            uuid.NewString(),
		DeliveryID:    rec.ID,
		AttemptNumber: rec.Attempts,
		StartedAt:     time.Now().UTC(),
	}
	if err := w.store.CreateAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("deliveryId", rec.ID).Msg("create delivery attempt failed")
	}

	sendErr := driver.Send(ctx, rec)

	completed := time.Now().UTC()
	attempt.CompletedAt = &completed
	attempt.DurationMs = completed.Sub(attempt.StartedAt).Milliseconds()
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	if err := w.store.UpdateAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("deliveryId", rec.ID).Msg("update delivery attempt failed")
	}

	if sendErr == nil {
		rec.State = models.DeliverySent
		rec.ResolvedAt = &completed
		rec.NextAttemptAt = nil
		if err := w.store.UpdateDelivery(ctx, rec); err != nil {
			log.Error().Err(err).Str("deliveryId", rec.ID).Msg("mark delivery sent failed")
		}
		return
	}

	w.fail(ctx, rec, sendErr)
}

// fail either schedules the next backoff-spaced attempt or dead-letters
// the record once it has exhausted MaxAttempts.
func (w *Worker) fail(ctx context.Context, rec *models.DeliveryRecord, sendErr error) {
	if rec.Attempts >= w.cfg.MaxAttempts {
		rec.State = models.DeliveryDeadLetter
		rec.NextAttemptAt = nil
		log.Warn().Err(sendErr).Str("deliveryId", rec.ID).Int("attempts", rec.Attempts).Msg("delivery dead-lettered")
	} else {
		rec.State = models.DeliveryFailed
		next := time.Now().UTC().Add(backoffDelay(w.cfg.BaseBackoffMs, rec.Attempts))
		rec.NextAttemptAt = &next
	}

	if err := w.store.UpdateDelivery(ctx, rec); err != nil {
		log.Error().Err(err).Str("deliveryId", rec.ID).Msg("update failed delivery failed")
	}
}

// backoffDelay computes the delay before the next attempt using
// backoff's exponential curve seeded at baseMs, capped implicitly by the
// library's default MaxInterval.
func backoffDelay(baseMs int64, attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(baseMs) * time.Millisecond
	var d time.Duration
	for i := 0; i <= attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
