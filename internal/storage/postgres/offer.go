package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/offer"
)

const (
	listActiveOffersSQL = `SELECT id, store_id, name, type, discount, applicable_to, conditions, validity, active
	FROM offers WHERE store_id = $1 AND active = TRUE ORDER BY id`

	upsertOfferSQL = `INSERT INTO offers (id, store_id, name, type, discount, applicable_to, conditions, validity, active, import_batch)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		store_id = EXCLUDED.store_id,
		name = EXCLUDED.name,
		type = EXCLUDED.type,
		discount = EXCLUDED.discount,
		applicable_to = EXCLUDED.applicable_to,
		conditions = EXCLUDED.conditions,
		validity = EXCLUDED.validity,
		active = EXCLUDED.active,
		import_batch = EXCLUDED.import_batch`

	offerInBatchSQL = `SELECT EXISTS (SELECT 1 FROM offers WHERE id = $1 AND import_batch = $2)`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL. The JSON
// columns are decoded once per load; rows that fail to decode are skipped.
type OfferRepository struct {
	db querier
}

// NewOfferRepository returns an OfferRepository that uses the given pool or
// transaction.
func NewOfferRepository(db querier) *OfferRepository {
	return &OfferRepository{db: db}
}

// ListActive returns the decoded active offers of a store.
func (r *OfferRepository) ListActive(ctx context.Context, storeID string) ([]offer.Offer, error) {
	rows, err := r.db.Query(ctx, listActiveOffersSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing offers of store %q: %w", storeID, err)
	}
	records, err := pgx.CollectRows(rows, scanOfferRecord)
	if err != nil {
		return nil, fmt.Errorf("listing offers of store %q: %w", storeID, err)
	}

	offers := make([]offer.Offer, 0, len(records))
	for _, rec := range records {
		o, err := offer.Decode(rec)
		if err != nil {
			zctx.From(ctx).Warn("Skipping undecodable offer",
				zap.String("offer_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		offers = append(offers, o)
	}
	return offers, nil
}

// UpsertBatch writes records in one round trip, tagging each with batch.
func (r *OfferRepository) UpsertBatch(ctx context.Context, records []offer.Record, batch string) error {
	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(upsertOfferSQL,
			rec.ID, rec.StoreID, rec.Name, rec.Type,
			jsonOrEmpty(rec.Discount), jsonOrEmpty(rec.ApplicableTo),
			jsonOrEmpty(rec.Conditions), jsonOrEmpty(rec.Validity),
			rec.Active, batch,
		)
	}
	if err := r.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d offers: %w", len(records), err)
	}
	return nil
}

// InBatch reports whether the offer id was already written by batch.
func (r *OfferRepository) InBatch(ctx context.Context, id, batch string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, offerInBatchSQL, id, batch).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking offer %q in batch: %w", id, err)
	}
	return ok, nil
}

func scanOfferRecord(row pgx.CollectableRow) (offer.Record, error) {
	var rec offer.Record
	err := row.Scan(
		&rec.ID, &rec.StoreID, &rec.Name, &rec.Type,
		&rec.Discount, &rec.ApplicableTo, &rec.Conditions, &rec.Validity,
		&rec.Active,
	)
	return rec, err
}

// jsonOrEmpty passes a JSON blob as text so pgx sends it verbatim to the
// JSONB column.
func jsonOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}
