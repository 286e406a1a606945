package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrDuplicateOrder  = errors.New("order with this paypal order id already exists")
	ErrVersionConflict = errors.New("order was modified concurrently")
)

// PendingJob is an outbox entry to be written in the same transaction as the
// order it belongs to.
type PendingJob struct {
	Kind    string
	Payload any
}

// Enqueuer writes outbox rows inside an open transaction.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload any) error
}

type Repository interface {
	Create(ctx context.Context, o *Order, jobs []PendingJob) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByPayPalOrderID(ctx context.Context, paypalOrderID string) (*Order, error)
	GetByTrackingRef(ctx context.Context, ref string) (*Order, error)
	GetByPodOrderID(ctx context.Context, podOrderID string) (*Order, error)
	List(ctx context.Context, limit, offset int) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, newStatus Status) error
	SetFulfillment(ctx context.Context, id int64, version int32, provider, podOrderID, podStatus string) error
	SetPodProgress(ctx context.Context, id int64, version int32, podStatus, podTracking string) error
}

type postgresRepository struct {
	db      *pgxpool.Pool
	enqueue Enqueuer
}

func NewRepository(db *pgxpool.Pool, enqueue Enqueuer) Repository {
	return &postgresRepository{db: db, enqueue: enqueue}
}

const orderColumns = `id, paypal_order_id, tracking_code, status, total, items,
	pod_provider, pod_order_id, pod_status, pod_tracking, user_id, version, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, o *Order, jobs []PendingJob) (err error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("repository: failed to marshal order items: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("paypal_order_id", o.PayPalOrderID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("paypal_order_id", o.PayPalOrderID).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 1

	query := `
		INSERT INTO orders (paypal_order_id, tracking_code, status, total, items,
			pod_provider, pod_order_id, pod_status, pod_tracking, user_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err = tx.QueryRow(ctx, query,
		o.PayPalOrderID,
		o.TrackingCode,
		string(o.Status),
		o.Total,
		itemsJSON,
		o.PodProvider,
		o.PodOrderID,
		o.PodStatus,
		o.PodTracking,
		o.UserID,
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for _, job := range jobs {
		if err = r.enqueue.Enqueue(ctx, tx, job.Kind, job.Payload); err != nil {
			return fmt.Errorf("repository: failed to enqueue %s for order %d: %w", job.Kind, o.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *postgresRepository) GetByPayPalOrderID(ctx context.Context, paypalOrderID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE paypal_order_id = $1`
	return r.scanOne(ctx, query, paypalOrderID)
}

// GetByTrackingRef resolves either form a customer may paste in: the full
// tracking code or the bare PayPal order id.
func (r *postgresRepository) GetByTrackingRef(ctx context.Context, ref string) (*Order, error) {
	bare := strings.TrimPrefix(ref, trackingPrefix)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tracking_code = $1 OR paypal_order_id = $2 LIMIT 1`
	return r.scanOne(ctx, query, ref, bare)
}

func (r *postgresRepository) GetByPodOrderID(ctx context.Context, podOrderID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE pod_order_id = $1`
	return r.scanOne(ctx, query, podOrderID)
}

func (r *postgresRepository) scanOne(ctx context.Context, query string, args ...any) (*Order, error) {
	var o Order
	var itemsJSON []byte

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&o.ID,
		&o.PayPalOrderID,
		&o.TrackingCode,
		&o.Status,
		&o.Total,
		&itemsJSON,
		&o.PodProvider,
		&o.PodOrderID,
		&o.PodStatus,
		&o.PodTracking,
		&o.UserID,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("repository: failed to unmarshal items for order %d: %w", o.ID, err)
	}

	return &o, nil
}

func (r *postgresRepository) List(ctx context.Context, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		var itemsJSON []byte
		err := rows.Scan(
			&o.ID,
			&o.PayPalOrderID,
			&o.TrackingCode,
			&o.Status,
			&o.Total,
			&itemsJSON,
			&o.PodProvider,
			&o.PodOrderID,
			&o.PodStatus,
			&o.PodTracking,
			&o.UserID,
			&o.Version,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("repository: failed to unmarshal items for order %d: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	return orders, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id int64, newStatus Status) error {
	query := `UPDATE orders SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3`

	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status for %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// SetFulfillment records the vendor submission result. The version check
// keeps a racing webhook delivery from being silently overwritten.
func (r *postgresRepository) SetFulfillment(ctx context.Context, id int64, version int32, provider, podOrderID, podStatus string) error {
	query := `
		UPDATE orders
		SET pod_provider = $1, pod_order_id = $2, pod_status = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6
	`

	cmdTag, err := r.db.Exec(ctx, query, provider, podOrderID, podStatus, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("repository: failed to set fulfillment for order %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}

	return nil
}

func (r *postgresRepository) SetPodProgress(ctx context.Context, id int64, version int32, podStatus, podTracking string) error {
	query := `
		UPDATE orders
		SET pod_status = $1, pod_tracking = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
	`

	cmdTag, err := r.db.Exec(ctx, query, podStatus, podTracking, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("repository: failed to set pod progress for order %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}

	return nil
}

func (r *postgresRepository) conflictOrNotFound(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check order %d: %w", id, err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrOrderNotFound
}
