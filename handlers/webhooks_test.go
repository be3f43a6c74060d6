package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fulfillment-svc/ledger"
	"fulfillment-svc/saga"
	"fulfillment-svc/shipment"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newWebhookRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	led := ledger.New(db)
	orchestrator := saga.New(saga.Deps{DB: db, Ledger: led, Logger: logger})
	coordinator := shipment.NewCoordinator(db, nil, nil, nil, led, logger)

	h := NewWebhookHandler(orchestrator, coordinator, logger)
	router := gin.New()
	router.POST("/webhooks/payment", h.PaymentWebhook)
	router.POST("/webhooks/delivery", h.DeliveryWebhook)
	return router, mock
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestPaymentWebhook_UnknownTypeRejected(t *testing.T) {
	router, mock := newWebhookRouter(t)

	w := postJSON(router, "/webhooks/payment",
		`{"event_id":"evt-1","type":"payment-pending","order_id":42}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown payment event type")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentWebhook_MissingTypeRejected(t *testing.T) {
	router, _ := newWebhookRouter(t)

	w := postJSON(router, "/webhooks/payment", `{"event_id":"evt-1","order_id":42}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhook_DuplicateAccepted(t *testing.T) {
	router, mock := newWebhookRouter(t)

	// Redelivery of an already-applied event still gets a 2xx so the gateway
	// stops retrying.
	mock.ExpectQuery("SELECT id, order_id, amount, status FROM payments WHERE gateway_ref").
		WithArgs("ref-42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "amount", "status"}).
			AddRow(5, 42, 39.98, "pending"))
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("payment:evt-1", "payment").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := postJSON(router, "/webhooks/payment",
		`{"event_id":"evt-1","type":"payment-completed","order_id":42,"payment_id":"ref-42"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryWebhook_UnknownEventRejected(t *testing.T) {
	router, mock := newWebhookRouter(t)

	w := postJSON(router, "/webhooks/delivery",
		`{"event_id":"evt-1","shipment_id":"trk-1","event":"returned"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown delivery event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryWebhook_UnknownShipment(t *testing.T) {
	router, mock := newWebhookRouter(t)

	mock.ExpectQuery("SELECT id, order_id FROM shipments WHERE external_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id"}))

	w := postJSON(router, "/webhooks/delivery",
		`{"event_id":"evt-2","shipment_id":"trk-missing","event":"picked_up"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
