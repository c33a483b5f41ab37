package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, order_number, buyer_id, seller_id, subtotal, service_fee, total, status, payment_method,
	payment_status, payment_transaction_id, buyer_email, notes, idempotency_key, completed_at, cancelled_at,
	refunded_at, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, product_title, quantity, price, total, metadata, created_at`

// timestamp column stamped when an order enters a status
var orderStatusTimestamp = map[models.OrderStatus]string{
	models.OrderCompleted: "completed_at",
	models.OrderCancelled: "cancelled_at",
	models.OrderRefunded:  "refunded_at",
}

// CreateOrderTx reserves stock for every item and inserts the order with its
// items atomically. Stock is decremented with a conditional update so two
// buyers can never both take the last unit; a product that is no longer
// active or lacks stock aborts the whole order with ErrInsufficientStock.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		// lock rows in a stable order to avoid deadlocks between concurrent checkouts
		byProduct := make([]models.OrderItem, len(order.Items))
		copy(byProduct, order.Items)
		sort.SliceStable(byProduct, func(i, j int) bool { return byProduct[i].ProductID < byProduct[j].ProductID })

		for _, item := range byProduct {
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity - $1,
				    status = CASE WHEN stock_quantity - $1 = 0 THEN 'sold' ELSE status END,
				    updated_at = NOW()
				WHERE id = $2 AND status = 'active' AND deleted_at IS NULL AND stock_quantity >= $1`,
				item.Quantity, item.ProductID)
			if err != nil {
				return mapError(err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("product %d: %w", item.ProductID, ErrInsufficientStock)
			}
		}

		query := `
			INSERT INTO orders (order_number, buyer_id, seller_id, subtotal, service_fee, total, status,
				payment_method, payment_status, buyer_email, notes, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id, created_at, updated_at`

		err := tx.GetContext(ctx, order, query,
			order.OrderNumber, order.BuyerID, order.SellerID, order.Subtotal, order.ServiceFee, order.Total,
			order.Status, order.PaymentMethod, order.PaymentStatus, order.BuyerEmail, order.Notes,
			order.IdempotencyKey)
		if err != nil {
			return mapError(err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.GetContext(ctx, item, `
				INSERT INTO order_items (order_id, product_id, product_title, quantity, price, total, metadata)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id, created_at`,
				item.OrderID, item.ProductID, item.ProductTitle, item.Quantity, item.Price, item.Total, item.Metadata)
			if err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	if order.Items, err = s.GetOrderItemsByOrderID(ctx, id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key.
// Returns nil, nil when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if err != nil {
		if err = mapError(err); err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if order.Items, err = s.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderNumberExists reports whether an order number is already taken
func (s *Store) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", number)
	return exists, mapError(err)
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, mapError(err)
}

// ListOrders returns one page of orders matching filter, newest first.
// BuyerID and SellerID combine with OR so a user sees both sides of their trades.
func (s *Store) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]models.Order, int64, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case filter.BuyerID != nil && filter.SellerID != nil:
		where = append(where, fmt.Sprintf("(buyer_id = %s OR seller_id = %s)", arg(*filter.BuyerID), arg(*filter.SellerID)))
	case filter.BuyerID != nil:
		where = append(where, "buyer_id = "+arg(*filter.BuyerID))
	case filter.SellerID != nil:
		where = append(where, "seller_id = "+arg(*filter.SellerID))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders WHERE "+clause, args...); err != nil {
		return nil, 0, mapError(err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf("SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s",
		orderColumns, clause, arg(page.PerPage), arg(page.Offset()))

	orders := []models.Order{}
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, mapError(err)
	}
	return orders, total, nil
}

// TransitionOrder applies a compare-and-swap status change. The update only
// matches while the order is still in one of t.From, so concurrent
// transitions on the same order serialize and the loser gets ErrStaleState.
func (s *Store) TransitionOrder(ctx context.Context, t models.OrderTransition) (*models.Order, error) {
	var order models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		from := make(pq.StringArray, len(t.From))
		for i, st := range t.From {
			from[i] = string(st)
		}

		set := []string{"status = $1", "updated_at = NOW()"}
		args := []interface{}{t.To, t.OrderID, from}
		if col, ok := orderStatusTimestamp[t.To]; ok {
			args = append(args, t.At)
			set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
		}
		if t.RefundPayment {
			set = append(set, "payment_status = CASE WHEN payment_status = 'paid' THEN 'refunded' ELSE payment_status END")
		}
		cond := "id = $2 AND status = ANY($3)"
		if t.To == models.OrderCompleted {
			cond += " AND payment_status = 'paid'"
		}

		query := fmt.Sprintf("UPDATE orders SET %s WHERE %s RETURNING %s", strings.Join(set, ", "), cond, orderColumns)
		if err := tx.GetContext(ctx, &order, query, args...); err != nil {
			if err = mapError(err); err != ErrNotFound {
				return err
			}
			var exists bool
			if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", t.OrderID); err != nil {
				return mapError(err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStaleState
		}

		if t.RestoreStock {
			_, err := tx.ExecContext(ctx, `
				UPDATE products p
				SET stock_quantity = p.stock_quantity + oi.qty,
				    status = CASE WHEN p.status = 'sold' THEN 'active' ELSE p.status END,
				    updated_at = NOW()
				FROM (SELECT product_id, SUM(quantity) AS qty FROM order_items WHERE order_id = $1 GROUP BY product_id) oi
				WHERE p.id = oi.product_id`,
				t.OrderID)
			if err != nil {
				return mapError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if order.Items, err = s.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdatePaymentStatus moves the payment of an order from one status to another
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID int64, from, to models.PaymentStatus, transactionID *string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders
		SET payment_status = $1, payment_transaction_id = COALESCE($2, payment_transaction_id), updated_at = NOW()
		WHERE id = $3 AND payment_status = $4
		RETURNING `+orderColumns,
		to, transactionID, orderID, from)
	if err != nil {
		if err = mapError(err); err != ErrNotFound {
			return nil, err
		}
		exists, err := s.orderExists(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrStaleState
	}

	if order.Items, err = s.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) orderExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id)
	return exists, mapError(err)
}
