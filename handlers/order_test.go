package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// asUser stands in for the auth middleware in handler tests.
func asUser(userID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

func newOrderRouter(t *testing.T, userID int) (*gin.Engine, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewOrderHandler(db, nil, zaptest.NewLogger(t))
	router := gin.New()
	router.Use(asUser(userID))
	router.GET("/orders/:id", h.GetOrder)
	return router, mock
}

func TestGetOrder(t *testing.T) {
	router, mock := newOrderRouter(t, 7)

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "product_id", "quantity", "total_amount", "status",
			"recipient_name", "recipient_phone", "recipient_email", "shipping_address",
			"created_at", "updated_at",
		}).AddRow(42, 7, 1, 2, 39.98, "pending",
			"Ada Lovelace", "", "ada@example.com", "1 Analytical Way",
			time.Now(), time.Now()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":42`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder_NotFound(t *testing.T) {
	router, mock := newOrderRouter(t, 7)

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/99", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrder_ForeignOrderForbidden(t *testing.T) {
	router, mock := newOrderRouter(t, 99)

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "product_id", "quantity", "total_amount", "status",
			"recipient_name", "recipient_phone", "recipient_email", "shipping_address",
			"created_at", "updated_at",
		}).AddRow(42, 7, 1, 2, 39.98, "pending",
			"Ada Lovelace", "", "ada@example.com", "1 Analytical Way",
			time.Now(), time.Now()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetOrder_BadID(t *testing.T) {
	router, _ := newOrderRouter(t, 7)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/abc", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
