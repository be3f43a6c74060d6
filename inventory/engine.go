package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fulfillment-svc/models"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// casRetries bounds how often a single warehouse is retried on a version
// conflict before allocation moves on to the next warehouse.
const casRetries = 3

type CheckResult struct {
	Available      bool `json:"available"`
	TotalAvailable int  `json:"total_available"`
}

type ReservedFrom struct {
	WarehouseID int `json:"warehouse_id"`
	Quantity    int `json:"quantity"`
}

type ReserveResult struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	ReservedFrom []ReservedFrom `json:"reserved_from"`
}

type CommitResult struct {
	Success          bool                     `json:"success"`
	Message          string                   `json:"message"`
	DeliveryPackages []models.DeliveryPackage `json:"delivery_packages"`
}

type RollbackResult struct {
	RolledBack bool   `json:"rolled_back"`
	Message    string `json:"message"`
}

// Engine owns per-warehouse stock rows. Concurrency control is entirely the
// version stamp on warehouse_stock: no lock is held across calls, writers
// re-read and retry on conflict.
type Engine struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEngine(db *sql.DB, logger *zap.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

// infraErr converts a storage failure into a transport-level status so the
// retry layer can tell it apart from domain failures.
func infraErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", op, err)
	}
	return status.Errorf(codes.Unavailable, "%s: %v", op, err)
}

func (e *Engine) CheckStock(ctx context.Context, productID, qty int) (*CheckResult, error) {
	if qty <= 0 {
		return nil, status.Error(codes.InvalidArgument, "quantity must be positive")
	}

	var total int
	err := e.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(available), 0) FROM warehouse_stock WHERE product_id = $1",
		productID,
	).Scan(&total)
	if err != nil {
		return nil, infraErr("check stock", err)
	}

	return &CheckResult{Available: total >= qty, TotalAvailable: total}, nil
}

func (e *Engine) ReserveStock(ctx context.Context, productID, qty, orderID int) (*ReserveResult, error) {
	if qty <= 0 {
		return nil, status.Error(codes.InvalidArgument, "quantity must be positive")
	}

	// Idempotent lookup: an order that already holds live reservations gets
	// them back unchanged instead of double-decrementing stock.
	existing, err := e.liveReservations(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &ReserveResult{
			Success:      true,
			Message:      "already reserved",
			ReservedFrom: existing,
		}, nil
	}

	// Candidate warehouses in ascending id order so allocation is
	// reproducible.
	rows, err := e.db.QueryContext(ctx,
		"SELECT warehouse_id, available, version FROM warehouse_stock WHERE product_id = $1 AND available > 0 ORDER BY warehouse_id ASC",
		productID,
	)
	if err != nil {
		return nil, infraErr("list warehouse stock", err)
	}
	type candidate struct {
		warehouseID int
		available   int
		version     int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.warehouseID, &c.available, &c.version); err != nil {
			rows.Close()
			return nil, infraErr("scan warehouse stock", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, infraErr("list warehouse stock", err)
	}

	remaining := qty
	var reserved []ReservedFrom

	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		take, err := e.reserveFromWarehouse(ctx, c.warehouseID, productID, orderID, remaining, c.available, c.version)
		if err != nil {
			e.releasePartial(ctx, orderID, reserved, productID)
			return nil, err
		}
		if take > 0 {
			reserved = append(reserved, ReservedFrom{WarehouseID: c.warehouseID, Quantity: take})
			remaining -= take
		}
	}

	if remaining > 0 {
		// Could not satisfy the full quantity; release whatever this call
		// reserved before failing.
		e.releasePartial(ctx, orderID, reserved, productID)
		return nil, fmt.Errorf("%w: product %d short by %d units", models.ErrCapacity, productID, remaining)
	}

	return &ReserveResult{Success: true, Message: "reserved", ReservedFrom: reserved}, nil
}

// reserveFromWarehouse takes up to want units from one warehouse with a
// bounded compare-and-swap loop. Returns the quantity actually reserved;
// zero means the warehouse ran dry under contention.
func (e *Engine) reserveFromWarehouse(ctx context.Context, warehouseID, productID, orderID, want, available, version int) (int, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		take := want
		if available < take {
			take = available
		}
		if take <= 0 {
			return 0, nil
		}

		won, err := e.tryReserve(ctx, warehouseID, productID, orderID, take, version)
		if err != nil {
			return 0, err
		}
		if won {
			return take, nil
		}

		// Version conflict: another writer won. Re-read and retry with a
		// little jitter to spread contending callers out.
		select {
		case <-ctx.Done():
			return 0, infraErr("reserve stock", ctx.Err())
		case <-time.After(time.Duration(1+rand.Intn(5)) * time.Millisecond):
		}

		err = e.db.QueryRowContext(ctx,
			"SELECT available, version FROM warehouse_stock WHERE warehouse_id = $1 AND product_id = $2",
			warehouseID, productID,
		).Scan(&available, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, infraErr("reread warehouse stock", err)
		}
	}
	return 0, nil
}

// tryReserve decrements stock and records the reservation in a single
// transaction so a failed insert cannot strand the decrement. Returns false
// on a version conflict.
func (e *Engine) tryReserve(ctx context.Context, warehouseID, productID, orderID, take, version int) (bool, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, infraErr("begin reserve", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE warehouse_stock SET available = available - $1, version = version + 1 WHERE warehouse_id = $2 AND product_id = $3 AND version = $4 AND available >= $1",
		take, warehouseID, productID, version,
	)
	if err != nil {
		return false, infraErr("reserve stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, infraErr("reserve stock", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO reservations (warehouse_id, product_id, order_id, quantity, status) VALUES ($1, $2, $3, $4, 'reserved')",
		warehouseID, productID, orderID, take,
	); err != nil {
		return false, infraErr("insert reservation", err)
	}

	if err := tx.Commit(); err != nil {
		return false, infraErr("commit reserve", err)
	}
	return true, nil
}

// releasePartial undoes reservations made earlier in the same ReserveStock
// call. Failures here are logged only; the caller is already failing.
func (e *Engine) releasePartial(ctx context.Context, orderID int, reserved []ReservedFrom, productID int) {
	for _, r := range reserved {
		if _, err := e.db.ExecContext(ctx,
			"UPDATE warehouse_stock SET available = available + $1, version = version + 1 WHERE warehouse_id = $2 AND product_id = $3",
			r.Quantity, r.WarehouseID, productID,
		); err != nil {
			e.logger.Error("Failed to release partial reservation",
				zap.Int("order_id", orderID),
				zap.Int("warehouse_id", r.WarehouseID),
				zap.Error(err),
			)
			continue
		}
		if _, err := e.db.ExecContext(ctx,
			"UPDATE reservations SET status = 'rolled_back', updated_at = CURRENT_TIMESTAMP WHERE order_id = $1 AND warehouse_id = $2 AND status = 'reserved'",
			orderID, r.WarehouseID,
		); err != nil {
			e.logger.Error("Failed to mark reservation rolled back",
				zap.Int("order_id", orderID),
				zap.Int("warehouse_id", r.WarehouseID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) CommitStock(ctx context.Context, orderID int) (*CommitResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, infraErr("begin commit", err)
	}
	defer tx.Rollback()

	// Committed rows are included so a second commit returns the same
	// package list instead of a double deduction.
	rows, err := tx.QueryContext(ctx,
		`SELECT r.product_id, r.quantity, w.address
		 FROM reservations r
		 JOIN warehouses w ON w.id = r.warehouse_id
		 WHERE r.order_id = $1 AND r.status IN ('reserved', 'committed')
		 ORDER BY r.warehouse_id ASC`,
		orderID,
	)
	if err != nil {
		return nil, infraErr("load reservations", err)
	}
	var packages []models.DeliveryPackage
	for rows.Next() {
		var p models.DeliveryPackage
		if err := rows.Scan(&p.ProductID, &p.Quantity, &p.WarehouseAddress); err != nil {
			rows.Close()
			return nil, infraErr("scan reservations", err)
		}
		packages = append(packages, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, infraErr("load reservations", err)
	}

	if len(packages) == 0 {
		return nil, status.Errorf(codes.NotFound, "no reservations for order %d", orderID)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE reservations SET status = 'committed', updated_at = CURRENT_TIMESTAMP WHERE order_id = $1 AND status = 'reserved'",
		orderID,
	); err != nil {
		return nil, infraErr("commit reservations", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, infraErr("commit tx", err)
	}

	return &CommitResult{Success: true, Message: "committed", DeliveryPackages: packages}, nil
}

func (e *Engine) RollbackStock(ctx context.Context, orderID int) (*RollbackResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, infraErr("begin rollback", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, warehouse_id, product_id, quantity FROM reservations WHERE order_id = $1 AND status = 'reserved'",
		orderID,
	)
	if err != nil {
		return nil, infraErr("load reservations", err)
	}
	type held struct {
		id          int
		warehouseID int
		productID   int
		quantity    int
	}
	var holds []held
	for rows.Next() {
		var h held
		if err := rows.Scan(&h.id, &h.warehouseID, &h.productID, &h.quantity); err != nil {
			rows.Close()
			return nil, infraErr("scan reservations", err)
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, infraErr("load reservations", err)
	}

	// Already rolled back (or committed, or never reserved): success with no
	// further effect, so duplicate compensation events are harmless.
	if len(holds) == 0 {
		return &RollbackResult{RolledBack: true, Message: "nothing to roll back"}, nil
	}

	for _, h := range holds {
		if _, err := tx.ExecContext(ctx,
			"UPDATE warehouse_stock SET available = available + $1, version = version + 1 WHERE warehouse_id = $2 AND product_id = $3",
			h.quantity, h.warehouseID, h.productID,
		); err != nil {
			return nil, infraErr("restore stock", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE reservations SET status = 'rolled_back', updated_at = CURRENT_TIMESTAMP WHERE id = $1",
			h.id,
		); err != nil {
			return nil, infraErr("mark rolled back", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, infraErr("commit tx", err)
	}

	e.logger.Info("Stock rolled back", zap.Int("order_id", orderID), zap.Int("reservations", len(holds)))
	return &RollbackResult{RolledBack: true, Message: "rolled back"}, nil
}

func (e *Engine) liveReservations(ctx context.Context, orderID int) ([]ReservedFrom, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT warehouse_id, quantity FROM reservations WHERE order_id = $1 AND status IN ('reserved', 'committed') ORDER BY warehouse_id ASC",
		orderID,
	)
	if err != nil {
		return nil, infraErr("load reservations", err)
	}
	defer rows.Close()

	var out []ReservedFrom
	for rows.Next() {
		var r ReservedFrom
		if err := rows.Scan(&r.WarehouseID, &r.Quantity); err != nil {
			return nil, infraErr("scan reservations", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("load reservations", err)
	}
	return out, nil
}
