package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"pos-service/internal/gateway"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	settlement *service.SettlementService
	debt       *service.DebtService
	reconciler *service.Reconciler
}

// NewHandler creates a new HTTP handler
func NewHandler(settlement *service.SettlementService, debt *service.DebtService, reconciler *service.Reconciler) *Handler {
	return &Handler{
		settlement: settlement,
		debt:       debt,
		reconciler: reconciler,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/transactions", h.createTransaction)
		v1.GET("/transactions/:id", h.getTransaction)
		v1.POST("/transactions/:id/repay", h.repayDebt)
		v1.GET("/transactions/:id/payments", h.listRepayments)

		v1.POST("/payments/qris/create", h.createCharge(models.PaymentTypeQRIS))
		v1.POST("/payments/snap/create", h.createCharge(models.PaymentTypeSnap))
		v1.GET("/payments/qris/:orderId/status", h.pollPaymentStatus)
		v1.POST("/payments/qris/:orderId/cancel", h.cancelPayment)
		v1.POST("/payments/webhook", h.paymentWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createTransaction handles direct settlement of a completed cart
func (h *Handler) createTransaction(c *gin.Context) {
	var req service.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	txn, items, err := h.settlement.CreateTransaction(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": txn, "items": items})
}

// getTransaction handles get transaction by ID
func (h *Handler) getTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	txn, items, err := h.settlement.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn, "items": items})
}

// repayDebt handles a debt repayment against a transaction
func (h *Handler) repayDebt(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req service.RepayDebtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	txn, err := h.debt.RepayDebt(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// listRepayments returns the repayment audit trail of a transaction
func (h *Handler) listRepayments(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	payments, err := h.debt.ListRepayments(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// createCharge initiates a gateway charge of the given type
func (h *Handler) createCharge(paymentType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.CreateChargeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}

		resp, err := h.reconciler.CreateCharge(c.Request.Context(), paymentType, &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// pollPaymentStatus reconciles a payment against the gateway on demand
func (h *Handler) pollPaymentStatus(c *gin.Context) {
	payment, err := h.reconciler.PollStatus(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":   payment.OrderID,
		"status":     payment.Status,
		"amount":     payment.Amount,
		"expires_at": payment.ExpiresAt,
		"paid_at":    payment.PaidAt,
	})
}

// cancelPayment cancels a still-pending payment
func (h *Handler) cancelPayment(c *gin.Context) {
	payment, err := h.reconciler.Cancel(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": payment.OrderID,
		"status":   payment.Status,
	})
}

// paymentWebhook handles gateway-pushed notifications. Idempotent no-ops
// answer 200; a signature mismatch answers 403 with no state change.
func (h *Handler) paymentWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var notif service.WebhookNotification
	if err := bindWebhook(raw, &notif); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification payload", "details": err.Error()})
		return
	}
	notif.SetRaw(raw)

	payment, err := h.reconciler.HandleWebhook(c.Request.Context(), &notif)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": payment.OrderID,
		"status":   payment.Status,
	})
}

// bindWebhook parses the raw notification body. The raw bytes are kept
// so the stored payment record can retain the provider payload verbatim.
func bindWebhook(raw []byte, notif *service.WebhookNotification) error {
	if err := json.Unmarshal(raw, notif); err != nil {
		return err
	}
	if notif.OrderID == "" {
		return errors.New("order_id is required")
	}
	if notif.TransactionStatus == "" {
		return errors.New("transaction_status is required")
	}
	return nil
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID"})
		return 0, false
	}
	return id, true
}

// respondError maps errors to the response taxonomy: validation and
// business-rule conflicts 400, not-found 404, bad signature 403, gateway
// failure 502, anything else 500 with a generic message.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})

	case errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrCustomerRequired),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrProductInactive),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrOverpayment),
		errors.Is(err, store.ErrTransactionSettled),
		errors.Is(err, store.ErrTransactionVoid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, gateway.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway unavailable"})

	case errors.Is(err, gateway.ErrRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway rejected the request"})

	case errors.Is(err, gateway.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	default:
		util.GetLogger().Error("Internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
