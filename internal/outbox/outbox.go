package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redeemedwear/order-service/internal/order"
)

const (
	// KindFulfillmentSubmit asks the worker to submit an order to the
	// print-on-demand vendor. Payload: FulfillmentSubmitPayload.
	KindFulfillmentSubmit = "fulfillment.submit"

	// KindShippingEmail asks the worker to send a shipped notice. Payload:
	// ShippingEmailPayload. Customer addresses never appear here; shipping
	// notices go to the support inbox.
	KindShippingEmail = "email.shipping"
)

const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusDead    = "dead"
)

type FulfillmentSubmitPayload struct {
	PayPalOrderID string                 `json:"paypal_order_id"`
	Shipping      *order.ShippingAddress `json:"shipping,omitempty"`
}

type ShippingEmailPayload struct {
	TrackingCode   string `json:"tracking_code"`
	TrackingNumber string `json:"tracking_number"`
}

type Entry struct {
	ID            uuid.UUID
	Kind          string
	Payload       json.RawMessage
	Status        string
	Attempts      int32
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue writes a pending entry inside the caller's transaction, so the
// side effect commits or rolls back together with the order row.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload any) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("outbox: failed to generate entry id: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: failed to marshal payload for %s: %w", kind, err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO outbox (id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, '', $6, $6)
	`
	if _, err := tx.Exec(ctx, query, id, kind, body, StatusPending, now, now); err != nil {
		return fmt.Errorf("outbox: failed to insert entry: %w", err)
	}

	return nil
}

// EnqueueNow writes a pending entry outside any caller transaction, for
// producers (the webhook receiver) that have no order write to piggyback on.
func (r *Repository) EnqueueNow(ctx context.Context, kind string, payload any) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("outbox: failed to generate entry id: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: failed to marshal payload for %s: %w", kind, err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO outbox (id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, '', $6, $6)
	`
	if _, err := r.db.Exec(ctx, query, id, kind, body, StatusPending, now, now); err != nil {
		return fmt.Errorf("outbox: failed to insert entry: %w", err)
	}

	return nil
}

// ClaimDue leases up to limit due entries. Claiming pushes next_attempt_at
// forward by the lease, so a crashed worker's claims become visible again
// on their own.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Entry, error) {
	query := `
		UPDATE outbox
		SET next_attempt_at = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = $3 AND next_attempt_at <= $2
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at
	`

	now := time.Now().UTC()
	rows, err := r.db.Query(ctx, query, now.Add(lease), now, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to claim entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("outbox: failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: error iterating entries: %w", err)
	}

	return entries, nil
}

func (r *Repository) MarkDone(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.Exec(ctx, query, StatusDone, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("outbox: failed to mark entry %s done: %w", id, err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int32, status string, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE outbox
		SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = $5
		WHERE id = $6
	`
	if _, err := r.db.Exec(ctx, query, status, attempts, nextAttemptAt, lastError, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("outbox: failed to mark entry %s failed: %w", id, err)
	}
	return nil
}
