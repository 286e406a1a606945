package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrVariantNotFound = errors.New("no vendor variant mapped for sku")

// VariantStore resolves a catalog SKU to the vendor's variant id. Backed by
// a table rather than a compiled-in map so adding a product is a data
// change, not a deploy.
type VariantStore interface {
	VariantFor(ctx context.Context, sku string) (int64, error)
}

type postgresVariantStore struct {
	db *pgxpool.Pool
}

var _ VariantStore = (*postgresVariantStore)(nil)

func NewVariantStore(db *pgxpool.Pool) VariantStore {
	return &postgresVariantStore{db: db}
}

func (s *postgresVariantStore) VariantFor(ctx context.Context, sku string) (int64, error) {
	query := `SELECT variant_id FROM sku_variants WHERE sku = $1 AND provider = 'PRINTFUL'`

	var variantID int64
	err := s.db.QueryRow(ctx, query, sku).Scan(&variantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrVariantNotFound, sku)
		}
		return 0, fmt.Errorf("fulfillment: failed to look up variant for sku %s: %w", sku, err)
	}

	return variantID, nil
}
