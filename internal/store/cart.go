package store

import (
	"context"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// cart lines joined with the live product row; soft-deleted products drop out
const cartSelect = `
	SELECT c.id, c.user_id, c.product_id, c.quantity, c.created_at, c.updated_at,
		p.title AS product_title, p.seller_id, COALESCE(p.discount_price, p.price) AS unit_price,
		p.status AS product_status, p.stock_quantity
	FROM cart_items c
	JOIN products p ON p.id = c.product_id AND p.deleted_at IS NULL`

// ListCartItems returns a user's cart, oldest line first
func (s *Store) ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := s.db.SelectContext(ctx, &items, cartSelect+" WHERE c.user_id = $1 ORDER BY c.id", userID)
	if err != nil {
		return nil, mapError(err)
	}
	return items, nil
}

func (s *Store) getCartItem(ctx context.Context, q sqlx.QueryerContext, userID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := sqlx.GetContext(ctx, q, &item, cartSelect+" WHERE c.id = $1 AND c.user_id = $2", itemID, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

// AddCartItem puts quantity units of a product in the cart, adding to the
// line already there so two adds of the same product never race into two rows
func (s *Store) AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	var item *models.CartItem
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.GetContext(ctx, &id, `
			INSERT INTO cart_items (user_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
			RETURNING id`,
			userID, productID, quantity)
		if err != nil {
			return mapError(err)
		}
		item, err = s.getCartItem(ctx, tx, userID, id)
		return err
	})
	return item, err
}

// SetCartItemQuantity overwrites the quantity of one of the user's lines.
// Returns ErrNotFound when the line is not the user's.
func (s *Store) SetCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error) {
	var item *models.CartItem
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3",
			quantity, itemID, userID)
		if err != nil {
			return mapError(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		item, err = s.getCartItem(ctx, tx, userID, itemID)
		return err
	})
	return item, err
}

// RemoveCartItem deletes one of the user's lines
func (s *Store) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1 AND user_id = $2", itemID, userID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveCartProducts drops the user's lines for the given products, used once
// they have been ordered
func (s *Store) RemoveCartProducts(ctx context.Context, userID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM cart_items WHERE user_id = ? AND product_id IN (?)", userID, productIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return mapError(err)
}
