package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// Handler processes one entry of a given kind. A returned error reschedules
// the entry with backoff until attempts run out.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Store is the slice of Repository the worker needs; tests swap it out.
type Store interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Entry, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error
}

type Worker struct {
	store       Store
	handlers    map[string]Handler
	interval    time.Duration
	lease       time.Duration
	batchSize   int
	maxAttempts int32
	baseDelay   time.Duration
}

func NewWorker(store Store) *Worker {
	return &Worker{
		store:       store,
		handlers:    make(map[string]Handler),
		interval:    5 * time.Second,
		lease:       2 * time.Minute,
		batchSize:   10,
		maxAttempts: 6,
		baseDelay:   30 * time.Second,
	}
}

func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Outbox worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox worker stopped")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and dispatches one batch of due entries.
func (w *Worker) ProcessBatch(ctx context.Context) {
	entries, err := w.store.ClaimDue(ctx, w.batchSize, w.lease)
	if err != nil {
		log.Error().Err(err).Msg("Outbox worker failed to claim entries")
		return
	}

	for _, entry := range entries {
		w.dispatch(ctx, entry)
	}
}

func (w *Worker) dispatch(ctx context.Context, entry Entry) {
	handler, ok := w.handlers[entry.Kind]
	if !ok {
		log.Error().Str("kind", entry.Kind).Stringer("entry_id", entry.ID).Msg("No handler registered for outbox kind")
		w.fail(ctx, entry, "no handler registered")
		return
	}

	if err := handler(ctx, entry.Payload); err != nil {
		log.Warn().Err(err).Str("kind", entry.Kind).Stringer("entry_id", entry.ID).Int32("attempts", entry.Attempts+1).Msg("Outbox dispatch failed")
		w.fail(ctx, entry, err.Error())
		return
	}

	if err := w.store.MarkDone(ctx, entry.ID); err != nil {
		log.Error().Err(err).Stringer("entry_id", entry.ID).Msg("Failed to mark outbox entry done")
	}
}

func (w *Worker) fail(ctx context.Context, entry Entry, reason string) {
	attempts := entry.Attempts + 1
	status := StatusPending
	nextAttempt := time.Now().UTC().Add(w.backoff(attempts))

	if attempts >= w.maxAttempts {
		status = StatusDead
		log.Error().Str("kind", entry.Kind).Stringer("entry_id", entry.ID).Str("last_error", reason).Msg("Outbox entry exhausted retries")
	}

	if err := w.store.MarkFailed(ctx, entry.ID, attempts, status, nextAttempt, reason); err != nil {
		log.Error().Err(err).Stringer("entry_id", entry.ID).Msg("Failed to reschedule outbox entry")
	}
}

// backoff doubles per attempt: 30s, 1m, 2m, 4m, ...
func (w *Worker) backoff(attempts int32) time.Duration {
	delay := w.baseDelay
	for i := int32(1); i < attempts; i++ {
		delay *= 2
	}
	return delay
}
