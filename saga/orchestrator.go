package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"fulfillment-svc/cache"
	"fulfillment-svc/database"
	"fulfillment-svc/gateway"
	"fulfillment-svc/inventory"
	"fulfillment-svc/ledger"
	"fulfillment-svc/middleware"
	"fulfillment-svc/models"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ShipmentRequester dispatches a shipment for an order holding committed stock.
type ShipmentRequester interface {
	RequestShipment(ctx context.Context, order models.Order, packages []models.DeliveryPackage) (*models.Shipment, error)
}

// EventPublisher publishes saga events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Notifier publishes best-effort notifications; it never returns an error.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, params map[string]string)
}

// Orchestrator owns the order, payment and refund state and drives the
// fulfillment saga. The critical path (reserve, commit, rollback on payment
// failure) is synchronous; user cancellation compensates asynchronously
// through Kafka events.
type Orchestrator struct {
	db        *sql.DB
	rdb       *redis.Client
	inv       inventory.Client
	gateway   gateway.Client
	shipments ShipmentRequester
	events    EventPublisher
	notifier  Notifier
	ledger    *ledger.Ledger
	topic     string
	logger    *zap.Logger
}

type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Inventory inventory.Client
	Gateway   gateway.Client
	Shipments ShipmentRequester
	Events    EventPublisher
	Notifier  Notifier
	Ledger    *ledger.Ledger
	Logger    *zap.Logger
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		db:        d.DB,
		rdb:       d.Redis,
		inv:       d.Inventory,
		gateway:   d.Gateway,
		shipments: d.Shipments,
		events:    d.Events,
		notifier:  d.Notifier,
		ledger:    d.Ledger,
		topic:     getEnv("SAGA_TOPIC", "fulfillment_events"),
		logger:    d.Logger,
	}
}

// CreateOrder runs the synchronous half of the saga: validate, persist the
// order, reserve stock, and issue a payable reference. Each remote step that
// succeeds before a later failure is compensated before the error surfaces.
func (o *Orchestrator) CreateOrder(ctx context.Context, req models.CreateOrderRequest, authUserID int) (*models.Order, error) {
	ctx, span := otel.Tracer("saga").Start(ctx, "CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int("user.id", req.UserID),
		attribute.Int("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	)

	if req.UserID != authUserID {
		middleware.RecordOrderCreated("unauthorized")
		return nil, fmt.Errorf("%w: order user %d does not match caller %d", models.ErrUnauthorized, req.UserID, authUserID)
	}

	product, err := o.loadProduct(ctx, req.ProductID)
	if err != nil {
		middleware.RecordOrderCreated("product_not_found")
		return nil, err
	}

	check, err := o.inv.CheckStock(ctx, req.ProductID, req.Quantity)
	if err != nil {
		span.RecordError(err)
		middleware.RecordOrderCreated("stock_check_failed")
		return nil, fmt.Errorf("stock check failed: %w", err)
	}
	if !check.Available {
		middleware.RecordOrderCreated("capacity")
		return nil, fmt.Errorf("%w: product %d has %d available, want %d",
			models.ErrCapacity, req.ProductID, check.TotalAvailable, req.Quantity)
	}

	order := models.Order{
		UserID:          req.UserID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		TotalAmount:     float64(req.Quantity) * product.Price,
		Status:          models.OrderStatusPending,
		RecipientName:   req.RecipientName,
		RecipientPhone:  req.RecipientPhone,
		RecipientEmail:  req.RecipientEmail,
		ShippingAddress: req.ShippingAddress,
	}
	err = o.db.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, product_id, quantity, total_amount, status, recipient_name, recipient_phone, recipient_email, shipping_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		order.UserID, order.ProductID, order.Quantity, order.TotalAmount, order.Status,
		order.RecipientName, order.RecipientPhone, order.RecipientEmail, order.ShippingAddress,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		middleware.RecordOrderCreated("db_error")
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}
	span.SetAttributes(attribute.Int("order.id", order.ID))

	// The reservation call is remote; the order row above is not covered by
	// any transaction that could undo it. On failure the row is deleted as a
	// local compensation.
	if _, err := o.inv.ReserveStock(ctx, req.ProductID, req.Quantity, order.ID); err != nil {
		span.RecordError(err)
		o.deleteOrder(ctx, order.ID)
		middleware.RecordOrderCreated("reserve_failed")
		return nil, fmt.Errorf("stock reservation failed: %w", err)
	}

	intent, err := o.gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		AccountRef: strconv.Itoa(order.UserID),
		OrderRef:   strconv.Itoa(order.ID),
		Amount:     order.TotalAmount,
	})
	if err != nil {
		span.RecordError(err)
		o.compensateReservation(ctx, order.ID)
		o.deleteOrder(ctx, order.ID)
		middleware.RecordOrderCreated("payment_setup_failed")
		return nil, fmt.Errorf("payment setup failed: %w", err)
	}

	if _, err := o.db.ExecContext(ctx,
		`INSERT INTO payments (order_id, amount, status, gateway_ref, billing_code, reference_number, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.TotalAmount, models.PaymentStatusPending,
		intent.ReferenceNumber, intent.BillerRef, intent.ReferenceNumber, intent.ExpiresAt,
	); err != nil {
		span.RecordError(err)
		o.compensateReservation(ctx, order.ID)
		o.deleteOrder(ctx, order.ID)
		middleware.RecordOrderCreated("db_error")
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	o.notifier.Send(ctx, order.RecipientEmail, models.TemplateOrderCreated, map[string]string{
		"order_id":     strconv.Itoa(order.ID),
		"total_amount": fmt.Sprintf("%.2f", order.TotalAmount),
		"billing_code": intent.BillerRef,
	})

	middleware.RecordOrderCreated("success")
	o.logger.Info("Order created",
		zap.Int("order_id", order.ID),
		zap.Int("user_id", order.UserID),
		zap.Float64("total_amount", order.TotalAmount),
	)
	return &order, nil
}

// HandlePaymentWebhook applies a gateway report. The transport is
// at-least-once, so the event is claimed in the ledger before any effect.
func (o *Orchestrator) HandlePaymentWebhook(ctx context.Context, hook models.PaymentWebhook) error {
	ctx, span := otel.Tracer("saga").Start(ctx, "HandlePaymentWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.event", hook.Type),
		attribute.Int("order.id", hook.OrderID),
	)

	kind, err := models.ParsePaymentEventType(hook.Type)
	if err != nil {
		return err
	}

	payment, err := o.findPayment(ctx, hook)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("payment.id", payment.ID))

	// Claimed only once the payment is known: a webhook racing payment
	// persistence fails without burning its dedupe key and can be redelivered.
	fresh, err := o.ledger.MarkProcessed(ctx, hook.DedupeKey(), "payment")
	if err != nil {
		return err
	}
	if !fresh {
		o.logger.Info("Duplicate payment webhook skipped",
			zap.Int("order_id", hook.OrderID),
			zap.String("type", hook.Type),
		)
		return nil
	}

	switch kind {
	case models.PaymentEventCompleted:
		return o.completePayment(ctx, payment)
	case models.PaymentEventFailed:
		return o.failPayment(ctx, payment)
	case models.PaymentEventRefundCompleted:
		return o.completeRefund(ctx, payment)
	}
	return nil
}

func (o *Orchestrator) completePayment(ctx context.Context, payment *models.Payment) error {
	if _, err := o.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3",
		models.PaymentStatusCompleted, payment.ID, models.PaymentStatusPending,
	); err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	middleware.RecordPaymentProcessed("completed")

	moved, err := database.TransitionOrder(ctx, o.db, payment.OrderID, models.OrderStatusProcessing)
	if err != nil {
		return err
	}
	if !moved {
		o.logger.Warn("Order already past pending, skipping fulfillment",
			zap.Int("order_id", payment.OrderID),
		)
		return nil
	}

	commit, err := o.inv.CommitStock(ctx, payment.OrderID)
	if err != nil {
		// Payment is durable but stock never committed. There is no safe
		// automatic compensation here; flag for manual reconciliation.
		middleware.RecordCompensation("stock_commit", "failed")
		o.logger.Error("Stock commit failed after payment, manual reconciliation required",
			zap.Int("order_id", payment.OrderID),
			zap.Error(err),
		)
		return nil
	}

	order, err := database.GetOrder(ctx, o.db, payment.OrderID)
	if err != nil {
		o.logger.Error("Failed to load order after payment", zap.Int("order_id", payment.OrderID), zap.Error(err))
		return nil
	}

	o.notifier.Send(ctx, order.RecipientEmail, models.TemplateOrderConfirmation, map[string]string{
		"order_id": strconv.Itoa(order.ID),
	})

	// Dispatch is best effort: payment and stock state are already durable,
	// a failed carrier call is retried out of band.
	if _, err := o.shipments.RequestShipment(ctx, *order, commit.DeliveryPackages); err != nil {
		o.logger.Error("Shipment request failed, will need out-of-band retry",
			zap.Int("order_id", order.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (o *Orchestrator) failPayment(ctx context.Context, payment *models.Payment) error {
	if _, err := o.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3",
		models.PaymentStatusFailed, payment.ID, models.PaymentStatusPending,
	); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	middleware.RecordPaymentProcessed("failed")

	if _, err := database.TransitionOrder(ctx, o.db, payment.OrderID, models.OrderStatusCancelled); err != nil {
		return err
	}

	if _, err := o.inv.RollbackStock(ctx, payment.OrderID); err != nil {
		middleware.RecordCompensation("inventory_rollback", "failed")
		o.logger.Error("Stock rollback failed after payment failure, manual reconciliation required",
			zap.Int("order_id", payment.OrderID),
			zap.Error(err),
		)
	} else {
		middleware.RecordCompensation("inventory_rollback", "success")
	}

	order, err := database.GetOrder(ctx, o.db, payment.OrderID)
	if err != nil {
		return nil
	}
	o.notifier.Send(ctx, order.RecipientEmail, models.TemplatePaymentFailed, map[string]string{
		"order_id": strconv.Itoa(order.ID),
	})
	return nil
}

func (o *Orchestrator) completeRefund(ctx context.Context, payment *models.Payment) error {
	if _, err := o.db.ExecContext(ctx,
		"UPDATE refunds SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE payment_id = $2 AND status = $3",
		models.RefundStatusCompleted, payment.ID, models.RefundStatusProcessing,
	); err != nil {
		return fmt.Errorf("failed to complete refund: %w", err)
	}
	middleware.RecordPaymentProcessed("refund_completed")

	order, err := database.GetOrder(ctx, o.db, payment.OrderID)
	if err != nil {
		return nil
	}
	o.notifier.Send(ctx, order.RecipientEmail, models.TemplateRefundConfirmed, map[string]string{
		"order_id": strconv.Itoa(order.ID),
	})
	return nil
}

// RequestRefund starts a refund for a completed payment, at most once.
func (o *Orchestrator) RequestRefund(ctx context.Context, orderID int, reason string, userID int) (*models.Refund, error) {
	ctx, span := otel.Tracer("saga").Start(ctx, "RequestRefund")
	defer span.End()
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := database.GetOrder(ctx, o.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %d belongs to another user", models.ErrUnauthorized, orderID)
	}

	return o.refundPayment(ctx, orderID, reason)
}

// refundPayment is shared by the user-initiated path and the loss
// compensation path. It rejects duplicates and requires a completed payment.
func (o *Orchestrator) refundPayment(ctx context.Context, orderID int, reason string) (*models.Refund, error) {
	var payment models.Payment
	err := o.db.QueryRowContext(ctx,
		"SELECT id, amount, status, gateway_ref FROM payments WHERE order_id = $1",
		orderID,
	).Scan(&payment.ID, &payment.Amount, &payment.Status, &payment.GatewayRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment for order %d", models.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if payment.Status != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: payment for order %d is %s, want completed",
			models.ErrValidation, orderID, payment.Status)
	}

	var existingID int
	err = o.db.QueryRowContext(ctx, "SELECT id FROM refunds WHERE payment_id = $1", payment.ID).Scan(&existingID)
	if err == nil {
		return nil, fmt.Errorf("%w: refund for payment %d", models.ErrDuplicate, payment.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing refund: %w", err)
	}

	receipt, err := o.gateway.CreateRefund(ctx, gateway.CreateRefundRequest{
		PaymentRef: payment.GatewayRef,
		Amount:     payment.Amount,
		Reason:     reason,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway refund failed: %w", err)
	}

	refund := models.Refund{
		PaymentID:     payment.ID,
		TransactionID: receipt.TransactionID,
		Amount:        payment.Amount,
		Reason:        reason,
		Status:        models.RefundStatusProcessing,
	}
	err = o.db.QueryRowContext(ctx,
		`INSERT INTO refunds (payment_id, transaction_id, amount, reason, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		refund.PaymentID, refund.TransactionID, refund.Amount, refund.Reason, refund.Status,
	).Scan(&refund.ID, &refund.CreatedAt, &refund.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refund: %w", err)
	}

	if _, err := o.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		models.PaymentStatusRefunded, payment.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark payment refunded: %w", err)
	}

	o.logger.Info("Refund initiated",
		zap.Int("order_id", orderID),
		zap.Int("payment_id", payment.ID),
		zap.String("transaction_id", receipt.TransactionID),
	)
	return &refund, nil
}

// CancelOrder handles user-initiated cancellation before delivery starts.
// Compensation is deliberately asynchronous here: the order flips to
// cancelled immediately and the refund and stock release ride Kafka events,
// trading a window of divergence for response latency.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, userID int) error {
	ctx, span := otel.Tracer("saga").Start(ctx, "CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := database.GetOrder(ctx, o.db, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return fmt.Errorf("%w: order %d belongs to another user", models.ErrUnauthorized, orderID)
	}

	res, err := o.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = ANY($3)",
		models.OrderStatusCancelled, orderID,
		statusList(models.OrderStatusPending, models.OrderStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %d is %s and can no longer be cancelled",
			models.ErrValidation, orderID, order.Status)
	}

	o.publishCompensation(ctx, orderID, models.EventRefundRequested, "user cancellation")
	o.publishCompensation(ctx, orderID, models.EventInventoryRollback, "user cancellation")

	o.notifier.Send(ctx, order.RecipientEmail, models.TemplateOrderCancelled, map[string]string{
		"order_id": strconv.Itoa(orderID),
	})

	o.logger.Info("Order cancelled", zap.Int("order_id", orderID))
	return nil
}

func (o *Orchestrator) findPayment(ctx context.Context, hook models.PaymentWebhook) (*models.Payment, error) {
	var p models.Payment
	// Prefer the gateway's own reference, falling back to the order id the
	// webhook carries.
	err := o.db.QueryRowContext(ctx,
		"SELECT id, order_id, amount, status FROM payments WHERE gateway_ref = $1",
		hook.PaymentID,
	).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}

	err = o.db.QueryRowContext(ctx,
		"SELECT id, order_id, amount, status FROM payments WHERE order_id = $1",
		hook.OrderID,
	).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment for webhook order %d", models.ErrNotFound, hook.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}
	return &p, nil
}

func (o *Orchestrator) loadProduct(ctx context.Context, productID int) (*models.Product, error) {
	if o.rdb != nil {
		if product, err := cache.GetProduct(ctx, o.rdb, productID); err == nil {
			return product, nil
		}
	}

	var product models.Product
	err := o.db.QueryRowContext(ctx,
		"SELECT id, name, price FROM products WHERE id = $1",
		productID,
	).Scan(&product.ID, &product.Name, &product.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %d", models.ErrNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	if o.rdb != nil {
		if err := cache.SetProduct(ctx, o.rdb, product, 10*time.Minute); err != nil {
			o.logger.Debug("Failed to cache product", zap.Int("product_id", productID), zap.Error(err))
		}
	}
	return &product, nil
}

func (o *Orchestrator) deleteOrder(ctx context.Context, orderID int) {
	if _, err := o.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID); err != nil {
		middleware.RecordCompensation("delete_order", "failed")
		o.logger.Error("Failed to delete order during compensation, manual reconciliation required",
			zap.Int("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	middleware.RecordCompensation("delete_order", "success")
}

func (o *Orchestrator) compensateReservation(ctx context.Context, orderID int) {
	if _, err := o.inv.RollbackStock(ctx, orderID); err != nil {
		middleware.RecordCompensation("inventory_rollback", "failed")
		o.logger.Error("Stock rollback failed during compensation, manual reconciliation required",
			zap.Int("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	middleware.RecordCompensation("inventory_rollback", "success")
}

func statusList(statuses ...models.OrderStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
