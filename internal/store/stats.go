package store

import (
	"context"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// claimEvent records eventID inside tx. It reports false when the event was
// already processed, in which case the caller must skip its side effects.
func claimEvent(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ApplySale adds (sign = 1) or reverses (sign = -1) the effect of a completed
// order on the seller totals and product sales counters. The event is claimed
// in the same transaction, so redelivery never double counts.
func (s *Store) ApplySale(ctx context.Context, eventID, eventType string, sellerID int64, revenue decimal.Decimal, items []models.OrderItemData, sign int) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil || !ok {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET total_sales = GREATEST(total_sales + $1, 0), total_revenue = GREATEST(total_revenue + $2, 0), updated_at = NOW()
			WHERE id = $3`,
			sign, revenue.Mul(decimal.NewFromInt(int64(sign))), sellerID)
		if err != nil {
			return mapError(err)
		}

		for _, it := range items {
			_, err := tx.ExecContext(ctx,
				"UPDATE products SET sales_count = GREATEST(sales_count + $1, 0) WHERE id = $2",
				sign*it.Quantity, it.ProductID)
			if err != nil {
				return mapError(err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// RefreshRatings recomputes the product's rating and review count, then the
// seller's rating across all their reviewed products.
func (s *Store) RefreshRatings(ctx context.Context, eventID, eventType string, productID, sellerID int64) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil || !ok {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products p
			SET rating = COALESCE(r.avg, 0), reviews_count = r.cnt, updated_at = NOW()
			FROM (SELECT ROUND(AVG(rating)::numeric, 2) AS avg, COUNT(*) AS cnt FROM reviews WHERE product_id = $1) r
			WHERE p.id = $1`,
			productID)
		if err != nil {
			return mapError(err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE users u
			SET seller_rating = COALESCE(r.avg, 0), updated_at = NOW()
			FROM (
				SELECT ROUND(AVG(rv.rating)::numeric, 2) AS avg
				FROM reviews rv JOIN products p ON p.id = rv.product_id
				WHERE p.seller_id = $1
			) r
			WHERE u.id = $1`,
			sellerID)
		if err != nil {
			return mapError(err)
		}
		applied = true
		return nil
	})
	return applied, err
}
