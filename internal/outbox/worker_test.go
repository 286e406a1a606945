package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redeemedwear/order-service/internal/outbox"
)

type mockStore struct {
	claimDueFunc   func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error)
	markDoneFunc   func(ctx context.Context, id uuid.UUID) error
	markFailedFunc func(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error
}

func (m *mockStore) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
	return m.claimDueFunc(ctx, limit, lease)
}

func (m *mockStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	return m.markDoneFunc(ctx, id)
}

func (m *mockStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error {
	return m.markFailedFunc(ctx, id, attempts, status, nextAttemptAt, lastError)
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

func TestProcessBatchMarksDoneOnSuccess(t *testing.T) {
	entryID := mustUUID(t)
	var doneID uuid.UUID
	store := &mockStore{
		claimDueFunc: func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
			return []outbox.Entry{{ID: entryID, Kind: outbox.KindFulfillmentSubmit, Payload: json.RawMessage(`{"paypal_order_id":"ABC"}`)}}, nil
		},
		markDoneFunc: func(ctx context.Context, id uuid.UUID) error {
			doneID = id
			return nil
		},
		markFailedFunc: func(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error {
			t.Fatal("successful dispatch must not be rescheduled")
			return nil
		},
	}

	handled := false
	worker := outbox.NewWorker(store)
	worker.Register(outbox.KindFulfillmentSubmit, func(ctx context.Context, payload json.RawMessage) error {
		handled = true
		assert.JSONEq(t, `{"paypal_order_id":"ABC"}`, string(payload))
		return nil
	})

	worker.ProcessBatch(context.Background())

	assert.True(t, handled)
	assert.Equal(t, entryID, doneID)
}

func TestProcessBatchReschedulesOnFailure(t *testing.T) {
	entryID := mustUUID(t)
	var gotAttempts int32
	var gotStatus, gotLastError string
	var gotNextAttempt time.Time

	store := &mockStore{
		claimDueFunc: func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
			return []outbox.Entry{{ID: entryID, Kind: outbox.KindShippingEmail, Attempts: 1, Payload: json.RawMessage(`{}`)}}, nil
		},
		markDoneFunc: func(ctx context.Context, id uuid.UUID) error {
			t.Fatal("failed dispatch must not be marked done")
			return nil
		},
		markFailedFunc: func(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error {
			gotAttempts = attempts
			gotStatus = status
			gotNextAttempt = nextAttemptAt
			gotLastError = lastError
			return nil
		},
	}

	worker := outbox.NewWorker(store)
	worker.Register(outbox.KindShippingEmail, func(ctx context.Context, payload json.RawMessage) error {
		return errors.New("smtp timeout")
	})

	before := time.Now().UTC()
	worker.ProcessBatch(context.Background())

	assert.Equal(t, int32(2), gotAttempts)
	assert.Equal(t, outbox.StatusPending, gotStatus)
	assert.Equal(t, "smtp timeout", gotLastError)

	// Second attempt backs off one doubling: 60s from dispatch time.
	assert.WithinDuration(t, before.Add(time.Minute), gotNextAttempt, 5*time.Second)
}

func TestProcessBatchDeadLettersAfterMaxAttempts(t *testing.T) {
	entryID := mustUUID(t)
	var gotStatus string

	store := &mockStore{
		claimDueFunc: func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
			return []outbox.Entry{{ID: entryID, Kind: outbox.KindShippingEmail, Attempts: 5, Payload: json.RawMessage(`{}`)}}, nil
		},
		markDoneFunc: func(ctx context.Context, id uuid.UUID) error { return nil },
		markFailedFunc: func(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error {
			assert.Equal(t, int32(6), attempts)
			gotStatus = status
			return nil
		},
	}

	worker := outbox.NewWorker(store)
	worker.Register(outbox.KindShippingEmail, func(ctx context.Context, payload json.RawMessage) error {
		return errors.New("still failing")
	})

	worker.ProcessBatch(context.Background())

	assert.Equal(t, outbox.StatusDead, gotStatus)
}

func TestProcessBatchUnknownKindFails(t *testing.T) {
	entryID := mustUUID(t)
	failed := false

	store := &mockStore{
		claimDueFunc: func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
			return []outbox.Entry{{ID: entryID, Kind: "bogus.kind", Payload: json.RawMessage(`{}`)}}, nil
		},
		markDoneFunc: func(ctx context.Context, id uuid.UUID) error {
			t.Fatal("entries without a handler must not be marked done")
			return nil
		},
		markFailedFunc: func(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error {
			failed = true
			assert.Equal(t, "no handler registered", lastError)
			return nil
		},
	}

	worker := outbox.NewWorker(store)
	worker.ProcessBatch(context.Background())

	assert.True(t, failed)
}

func TestProcessBatchClaimFailureIsNonFatal(t *testing.T) {
	store := &mockStore{
		claimDueFunc: func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
			return nil, errors.New("connection refused")
		},
	}

	worker := outbox.NewWorker(store)

	// Must log and return without panicking.
	worker.ProcessBatch(context.Background())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &mockStore{
		claimDueFunc: func(ctx context.Context, limit int, lease time.Duration) ([]outbox.Entry, error) {
			return nil, nil
		},
	}

	worker := outbox.NewWorker(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
