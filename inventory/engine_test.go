package inventory

import (
	"context"
	"errors"
	"testing"

	"fulfillment-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(db, zaptest.NewLogger(t)), mock
}

func expectNoExistingReservations(mock sqlmock.Sqlmock, orderID int) {
	mock.ExpectQuery("SELECT warehouse_id, quantity FROM reservations").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "quantity"}))
}

func TestCheckStock(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		qty       int
		available bool
	}{
		{"enough stock", 10, 5, true},
		{"exact stock", 5, 5, true},
		{"short", 3, 5, false},
		{"empty", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, mock := newTestEngine(t)
			mock.ExpectQuery("SELECT COALESCE").
				WithArgs(1).
				WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(tt.total))

			res, err := engine.CheckStock(context.Background(), 1, tt.qty)
			require.NoError(t, err)
			assert.Equal(t, tt.available, res.Available)
			assert.Equal(t, tt.total, res.TotalAvailable)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckStock_RejectsNonPositiveQuantity(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CheckStock(context.Background(), 1, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestReserveStock_SingleWarehouse(t *testing.T) {
	engine, mock := newTestEngine(t)

	expectNoExistingReservations(mock, 42)
	mock.ExpectQuery("SELECT warehouse_id, available, version FROM warehouse_stock").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "available", "version"}).
			AddRow(1, 10, 0))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(5, 1, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(1, 1, 42, 5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.ReserveStock(context.Background(), 1, 5, 42)
	require.NoError(t, err)
	assert.True(t, res.Success)

	total := 0
	for _, r := range res.ReservedFrom {
		total += r.Quantity
	}
	assert.Equal(t, 5, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStock_SpansWarehousesInAscendingOrder(t *testing.T) {
	engine, mock := newTestEngine(t)

	expectNoExistingReservations(mock, 7)
	mock.ExpectQuery("SELECT warehouse_id, available, version FROM warehouse_stock").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "available", "version"}).
			AddRow(1, 3, 2).
			AddRow(2, 10, 0))
	// Warehouse 1 covers 3 of 8
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(3, 1, 1, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(1, 1, 7, 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	// Warehouse 2 covers the remaining 5
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(5, 2, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(2, 1, 7, 5).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	res, err := engine.ReserveStock(context.Background(), 1, 8, 7)
	require.NoError(t, err)
	require.Len(t, res.ReservedFrom, 2)
	assert.Equal(t, ReservedFrom{WarehouseID: 1, Quantity: 3}, res.ReservedFrom[0])
	assert.Equal(t, ReservedFrom{WarehouseID: 2, Quantity: 5}, res.ReservedFrom[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStock_RetriesSameWarehouseOnVersionConflict(t *testing.T) {
	engine, mock := newTestEngine(t)

	expectNoExistingReservations(mock, 9)
	mock.ExpectQuery("SELECT warehouse_id, available, version FROM warehouse_stock").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "available", "version"}).
			AddRow(1, 10, 0))
	// First CAS loses to a concurrent writer
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(4, 1, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	// Re-read sees the bumped version, second CAS wins
	mock.ExpectQuery("SELECT available, version FROM warehouse_stock").
		WithArgs(1, 1).
		WillReturnRows(sqlmock.NewRows([]string{"available", "version"}).AddRow(6, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(4, 1, 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(1, 1, 9, 4).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.ReserveStock(context.Background(), 1, 4, 9)
	require.NoError(t, err)
	assert.Equal(t, []ReservedFrom{{WarehouseID: 1, Quantity: 4}}, res.ReservedFrom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStock_IdempotentPerOrder(t *testing.T) {
	engine, mock := newTestEngine(t)

	// Order 42 already holds live reservations; no stock is touched.
	mock.ExpectQuery("SELECT warehouse_id, quantity FROM reservations").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "quantity"}).
			AddRow(1, 5))

	res, err := engine.ReserveStock(context.Background(), 1, 5, 42)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []ReservedFrom{{WarehouseID: 1, Quantity: 5}}, res.ReservedFrom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStock_CapacityFailureReleasesPartials(t *testing.T) {
	engine, mock := newTestEngine(t)

	expectNoExistingReservations(mock, 11)
	mock.ExpectQuery("SELECT warehouse_id, available, version FROM warehouse_stock").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "available", "version"}).
			AddRow(1, 3, 0))
	// Partial reservation of 3 out of 8 succeeds
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(3, 1, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(1, 1, 11, 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	// Local compensation: the partial hold is returned to warehouse 1
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(3, 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE reservations SET status = 'rolled_back'").
		WithArgs(11, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := engine.ReserveStock(context.Background(), 1, 8, 11)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStock_InsertFailureRestoresDecrement(t *testing.T) {
	engine, mock := newTestEngine(t)

	expectNoExistingReservations(mock, 13)
	mock.ExpectQuery("SELECT warehouse_id, available, version FROM warehouse_stock").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "available", "version"}).
			AddRow(1, 10, 0))
	// The decrement lands but the reservation row does not; the transaction
	// rollback must return the units, leaving no stock to leak.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(5, 1, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(1, 1, 13, 5).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := engine.ReserveStock(context.Background(), 1, 5, 13)
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStock_ReturnsDeliveryPackages(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT r.product_id, r.quantity, w.address").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "address"}).
			AddRow(1, 3, "1 Dock Rd").
			AddRow(1, 2, "2 Dock Rd"))
	mock.ExpectExec("UPDATE reservations SET status = 'committed'").
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	res, err := engine.CommitStock(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.DeliveryPackages, 2)
	assert.Equal(t, "1 Dock Rd", res.DeliveryPackages[0].WarehouseAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStock_SecondCallIsNoOp(t *testing.T) {
	engine, mock := newTestEngine(t)

	// All rows already committed: same package list, zero rows updated.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT r.product_id, r.quantity, w.address").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "address"}).
			AddRow(1, 5, "1 Dock Rd"))
	mock.ExpectExec("UPDATE reservations SET status = 'committed'").
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := engine.CommitStock(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 5, res.DeliveryPackages[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStock_UnknownOrder(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT r.product_id, r.quantity, w.address").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "address"}))
	mock.ExpectRollback()

	_, err := engine.CommitStock(context.Background(), 99)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackStock_RestoresReservedQuantity(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, warehouse_id, product_id, quantity FROM reservations").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "warehouse_id", "product_id", "quantity"}).
			AddRow(10, 1, 1, 5))
	mock.ExpectExec("UPDATE warehouse_stock SET available").
		WithArgs(5, 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE reservations SET status = 'rolled_back'").
		WithArgs(10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := engine.RollbackStock(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.RolledBack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackStock_IdempotentWhenNothingReserved(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, warehouse_id, product_id, quantity FROM reservations").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "warehouse_id", "product_id", "quantity"}))
	mock.ExpectRollback()

	res, err := engine.RollbackStock(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.RolledBack)
	assert.NoError(t, mock.ExpectationsWereMet())
}
