package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"fulfillment-svc/database"
	"fulfillment-svc/middleware"
	"fulfillment-svc/models"
	"fulfillment-svc/saga"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	db     *sql.DB
	saga   *saga.Orchestrator
	logger *zap.Logger
}

func NewOrderHandler(db *sql.DB, orchestrator *saga.Orchestrator, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		db:     db,
		saga:   orchestrator,
		logger: logger,
	}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("fulfillment").Start(c.Request.Context(), "CreateOrderHandler")
	defer span.End()

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.saga.CreateOrder(ctx, req, middleware.UserID(c))
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("order.id", order.ID))
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("fulfillment").Start(c.Request.Context(), "GetOrderHandler")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := database.GetOrder(ctx, h.db, orderID)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}
	if order.UserID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed for this user"})
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := otel.Tracer("fulfillment").Start(c.Request.Context(), "CancelOrderHandler")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	if err := h.saga.CancelOrder(ctx, orderID, middleware.UserID(c)); err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(models.OrderStatusCancelled)})
}

func (h *OrderHandler) RequestRefund(c *gin.Context) {
	ctx, span := otel.Tracer("fulfillment").Start(c.Request.Context(), "RequestRefundHandler")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	refund, err := h.saga.RequestRefund(ctx, orderID, req.Reason, middleware.UserID(c))
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, refund)
}

// respondError maps the saga's error taxonomy onto HTTP statuses. Anything
// unclassified is an internal failure the caller gets no detail about.
func (h *OrderHandler) respondError(c *gin.Context, err error) {
	respondError(c, h.logger, err)
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrCapacity):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
