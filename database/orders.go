package database

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-svc/models"

	"github.com/lib/pq"
)

// TransitionOrder moves an order to the target status only when its current
// status is an allowed predecessor. The conditional UPDATE is what makes the
// state machine safe under concurrent duplicate webhooks: a stale transition
// simply matches zero rows.
func TransitionOrder(ctx context.Context, db *sql.DB, orderID int, to models.OrderStatus) (bool, error) {
	predecessors := models.AllowedPredecessors[to]
	if len(predecessors) == 0 {
		return false, fmt.Errorf("no transition into status %q", to)
	}

	from := make([]string, len(predecessors))
	for i, s := range predecessors {
		from[i] = string(s)
	}

	res, err := db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = ANY($3)",
		string(to), orderID, pq.Array(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	return affected == 1, nil
}

// GetOrder loads a single order row.
func GetOrder(ctx context.Context, db *sql.DB, orderID int) (*models.Order, error) {
	var o models.Order
	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, product_id, quantity, total_amount, status,
		        recipient_name, recipient_phone, recipient_email, shipping_address,
		        created_at, updated_at
		 FROM orders WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &o.TotalAmount, &o.Status,
		&o.RecipientName, &o.RecipientPhone, &o.RecipientEmail, &o.ShippingAddress,
		&o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &o, nil
}
