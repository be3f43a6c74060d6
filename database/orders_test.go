package database

import (
	"context"
	"testing"

	"fulfillment-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE orders SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, err := TransitionOrder(context.Background(), db, 42, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrder_StaleTransitionMatchesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Order already cancelled: the conditional UPDATE touches zero rows.
	mock.ExpectExec("UPDATE orders SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := TransitionOrder(context.Background(), db, 42, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestTransitionOrder_NoEntryIntoPending(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = TransitionOrder(context.Background(), db, 42, models.OrderStatusPending)
	assert.Error(t, err)
}

func TestAllowedPredecessors(t *testing.T) {
	// Cancelled is terminal and delivered orders cannot be cancelled.
	assert.NotContains(t, models.AllowedPredecessors[models.OrderStatusCancelled], models.OrderStatusDelivered)
	for _, preds := range models.AllowedPredecessors {
		assert.NotContains(t, preds, models.OrderStatusCancelled)
	}
}
