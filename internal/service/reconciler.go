package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-service/internal/gateway"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	orderLockTTL   = 10 * time.Second
	statusCacheTTL = 3 * time.Second
)

// Reconciler drives payment record transitions from webhook, poll and
// cancel signals. Transitions only ever move out of pending; whichever
// signal lands first wins and later ones are discarded.
type Reconciler struct {
	payments PaymentStore
	ledger   LedgerStore
	gateway  gateway.Client
	cache    PaymentCache
	notifier Notifier
	logger   *zap.Logger

	serverKey     string
	defaultExpiry time.Duration
}

// NewReconciler creates a new payment reconciler
func NewReconciler(
	payments PaymentStore,
	ledger LedgerStore,
	gatewayClient gateway.Client,
	cache PaymentCache,
	notifier Notifier,
	serverKey string,
	defaultExpiry time.Duration,
) *Reconciler {
	return &Reconciler{
		payments:      payments,
		ledger:        ledger,
		gateway:       gatewayClient,
		cache:         cache,
		notifier:      notifier,
		logger:        util.GetLogger(),
		serverKey:     serverKey,
		defaultExpiry: defaultExpiry,
	}
}

// CreateChargeRequest initiates one gateway charge for a cart
type CreateChargeRequest struct {
	Items     []CartItemRequest `json:"items" binding:"required,min=1,dive"`
	CashierID *int64            `json:"cashier_id,omitempty"`
	Tax       int64             `json:"tax" binding:"min=0"`
	Discount  int64             `json:"discount" binding:"min=0"`
}

// CreateChargeResponse carries what the POS client needs to render
type CreateChargeResponse struct {
	OrderID     string    `json:"order_id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	QRString    string    `json:"qr_string,omitempty"`
	QRCodeURL   string    `json:"qr_code_url,omitempty"`
	Token       string    `json:"token,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateCharge prices the cart, initiates a charge at the gateway and
// persists the pending payment record with the cart attached for the
// settlement worker. The gateway call happens before the local insert,
// never inside a DB transaction.
func (r *Reconciler) CreateCharge(ctx context.Context, paymentType string, req *CreateChargeRequest) (*CreateChargeResponse, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.CreateCharge")
	defer span.End()

	if paymentType != models.PaymentTypeQRIS && paymentType != models.PaymentTypeSnap {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, paymentType)
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	amount, chargeItems, prices, err := r.priceCart(ctx, req)
	if err != nil {
		return nil, err
	}

	orderID := generateOrderID(time.Now())

	start := time.Now()
	result, err := r.gateway.Charge(ctx, gateway.ChargeRequest{
		OrderID:     orderID,
		Amount:      amount,
		PaymentType: paymentType,
		Items:       chargeItems,
	})
	util.GatewayRequestLatency.WithLabelValues("charge").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	// The stored cart replays as a settlement command once the gateway
	// confirms payment. Unit prices are pinned so a catalog price change
	// between charge and confirmation cannot reprice the settled sale.
	cart, err := json.Marshal(&CreateTransactionRequest{
		Items:         req.Items,
		PaymentMethod: recordedMethod(paymentType),
		PaidAmount:    amount,
		CashierID:     req.CashierID,
		Tax:           req.Tax,
		Discount:      req.Discount,
		ChargedPrices: prices,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cart: %w", err)
	}

	payment := &models.Payment{
		OrderID:         orderID,
		Amount:          amount,
		Type:            paymentType,
		Status:          models.GatewayStatusPending,
		GatewayResponse: result.Raw,
		Cart:            cart,
		ExpiresAt:       result.ExpiresAt,
	}
	if err := r.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to persist payment record: %w", err)
	}

	if err := r.cache.SetPaymentStatus(ctx, orderID, payment.Status, statusCacheTTL); err != nil {
		r.logger.Warn("Failed to cache payment status", zap.Error(err))
	}

	util.PaymentChargesTotal.WithLabelValues(paymentType).Inc()
	r.logger.Info("Gateway charge created",
		zap.String("order_id", orderID),
		zap.String("type", paymentType),
		zap.Int64("amount", amount),
		zap.Time("expires_at", payment.ExpiresAt))

	return &CreateChargeResponse{
		OrderID:     orderID,
		Amount:      amount,
		Type:        paymentType,
		Status:      payment.Status,
		QRString:    result.QRString,
		QRCodeURL:   result.ActionURL,
		Token:       result.Token,
		RedirectURL: result.RedirectURL,
		ExpiresAt:   payment.ExpiresAt,
	}, nil
}

// WebhookNotification is the gateway-pushed payload
type WebhookNotification struct {
	OrderID           string `json:"order_id" binding:"required"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status" binding:"required"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key"`

	raw json.RawMessage
}

// SetRaw attaches the raw payload for audit storage
func (n *WebhookNotification) SetRaw(raw []byte) { n.raw = raw }

// HandleWebhook validates a notification's authenticity and applies the
// reported status. Replays of an already-applied status are accepted
// no-ops; a forged signature is rejected with no state change.
func (r *Reconciler) HandleWebhook(ctx context.Context, notif *WebhookNotification) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleWebhook")
	defer span.End()

	if !gateway.VerifySignature(notif.OrderID, notif.StatusCode, notif.GrossAmount, r.serverKey, notif.SignatureKey) {
		util.WebhookRejectedTotal.WithLabelValues("bad_signature").Inc()
		r.logger.Warn("Rejected webhook with invalid signature",
			zap.String("order_id", notif.OrderID))
		return nil, ErrInvalidSignature
	}

	payment, err := r.payments.GetPaymentByOrderID(ctx, notif.OrderID)
	if err != nil {
		util.WebhookRejectedTotal.WithLabelValues("unknown_order").Inc()
		return nil, err
	}

	if !r.grossAmountMatches(notif.GrossAmount, payment.Amount) {
		// Authentic but inconsistent; log and drop rather than guess.
		util.WebhookRejectedTotal.WithLabelValues("amount_mismatch").Inc()
		r.logger.Warn("Dropping webhook with mismatched gross amount",
			zap.String("order_id", notif.OrderID),
			zap.String("gross_amount", notif.GrossAmount),
			zap.Int64("expected", payment.Amount))
		return payment, nil
	}

	status := gateway.ParseStatus(notif.TransactionStatus, notif.FraudStatus)
	if status == gateway.StatusUnknown {
		util.WebhookRejectedTotal.WithLabelValues("unknown_status").Inc()
		r.logger.Warn("Dropping webhook with unknown transaction status",
			zap.String("order_id", notif.OrderID),
			zap.String("transaction_status", notif.TransactionStatus))
		return payment, nil
	}

	return r.applyTransition(ctx, payment, status, notif.raw, "webhook")
}

// PollStatus reconciles against the gateway on demand. It is the client
// fallback when webhook delivery is delayed or missed.
func (r *Reconciler) PollStatus(ctx context.Context, orderID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.PollStatus")
	defer span.End()

	payment, err := r.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalGatewayStatus(payment.Status) {
		return payment, nil
	}

	// Short-TTL cache absorbs tight client polling loops.
	if cached, err := r.cache.GetPaymentStatus(ctx, orderID); err == nil && cached == payment.Status {
		if time.Now().Before(payment.ExpiresAt) {
			return payment, nil
		}
	}

	start := time.Now()
	status, raw, err := r.gateway.QueryStatus(ctx, orderID)
	util.GatewayRequestLatency.WithLabelValues("status").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	return r.applyTransition(ctx, payment, status, raw, "poll")
}

// Cancel cancels a still-pending payment at the gateway and locally.
// Cancelling an already-terminal payment is a no-op.
func (r *Reconciler) Cancel(ctx context.Context, orderID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Cancel")
	defer span.End()

	payment, err := r.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalGatewayStatus(payment.Status) {
		return payment, nil
	}

	start := time.Now()
	status, raw, err := r.gateway.Cancel(ctx, orderID)
	util.GatewayRequestLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	// A concurrent settlement can beat the cancel; apply whatever the
	// gateway actually reports.
	return r.applyTransition(ctx, payment, status, raw, "cancel")
}

// applyTransition is the guarded state-machine step shared by every
// signal source. Pending stays pending unless expired; terminal statuses
// apply at most once via the store's conditional update; signals against
// an already-terminal record are discarded.
func (r *Reconciler) applyTransition(ctx context.Context, payment *models.Payment, status gateway.Status, raw json.RawMessage, source string) (*models.Payment, error) {
	if locked, err := r.cache.AcquireOrderLock(ctx, payment.OrderID, orderLockTTL); err == nil && locked {
		defer func() {
			if err := r.cache.ReleaseOrderLock(context.Background(), payment.OrderID); err != nil {
				r.logger.Warn("Failed to release order lock", zap.Error(err))
			}
		}()
	}

	if models.IsTerminalGatewayStatus(payment.Status) {
		util.PaymentSignalsDropped.WithLabelValues(source).Inc()
		r.logger.Debug("Dropping signal for terminal payment",
			zap.String("order_id", payment.OrderID),
			zap.String("stored_status", payment.Status),
			zap.String("reported_status", string(status)))
		return payment, nil
	}

	if status == gateway.StatusPending {
		if time.Now().Before(payment.ExpiresAt) {
			return payment, nil
		}
		// Pending past expiry is expired on next observation.
		status = gateway.StatusExpire
	}
	if status == gateway.StatusUnknown {
		util.PaymentSignalsDropped.WithLabelValues(source).Inc()
		r.logger.Warn("Dropping unknown status signal",
			zap.String("order_id", payment.OrderID),
			zap.String("source", source))
		return payment, nil
	}

	var paidAt *time.Time
	if status == gateway.StatusSettlement {
		now := time.Now()
		paidAt = &now
	}

	moved, err := r.payments.TransitionPayment(ctx, payment.OrderID, string(status), raw, paidAt)
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}
	if !moved {
		// Lost the race; reload and report whatever won.
		util.PaymentSignalsDropped.WithLabelValues(source).Inc()
		return r.payments.GetPaymentByOrderID(ctx, payment.OrderID)
	}

	payment.Status = string(status)
	payment.PaidAt = paidAt
	if raw != nil {
		payment.GatewayResponse = raw
	}

	if err := r.cache.SetPaymentStatus(ctx, payment.OrderID, payment.Status, statusCacheTTL); err != nil {
		r.logger.Warn("Failed to cache payment status", zap.Error(err))
	}

	util.PaymentTransitionsTotal.WithLabelValues(payment.Status, source).Inc()
	r.logger.Info("Payment transitioned",
		zap.String("order_id", payment.OrderID),
		zap.String("status", payment.Status),
		zap.String("source", source))

	if status == gateway.StatusSettlement {
		event := &models.PaymentSuccessEvent{
			BaseEvent: newEvent(models.EventTypePaymentSuccess),
			OrderID:   payment.OrderID,
			Amount:    payment.Amount,
			Type:      payment.Type,
		}
		if err := r.notifier.PublishPaymentSuccess(ctx, event); err != nil {
			r.logger.Error("Failed to publish payment:success event", zap.Error(err))
		}
	} else {
		event := &models.PaymentUpdateEvent{
			BaseEvent: newEvent(models.EventTypePaymentUpdate),
			OrderID:   payment.OrderID,
			Status:    payment.Status,
		}
		if err := r.notifier.PublishPaymentUpdate(ctx, event); err != nil {
			r.logger.Error("Failed to publish payment:update event", zap.Error(err))
		}
	}

	return payment, nil
}

func (r *Reconciler) priceCart(ctx context.Context, req *CreateChargeRequest) (int64, []gateway.ChargeItem, map[int64]int64, error) {
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return 0, nil, nil, ErrInvalidQuantity
		}
		ids = append(ids, item.ProductID)
	}

	products, err := r.ledger.GetProductsByIDs(ctx, ids)
	if err != nil {
		return 0, nil, nil, err
	}
	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	var subtotal int64
	chargeItems := make([]gateway.ChargeItem, 0, len(req.Items))
	prices := make(map[int64]int64, len(req.Items))
	for _, item := range req.Items {
		product, ok := productMap[item.ProductID]
		if !ok {
			return 0, nil, nil, fmt.Errorf("%w: %d", store.ErrProductNotFound, item.ProductID)
		}
		if !product.Active {
			return 0, nil, nil, fmt.Errorf("%w: %d", store.ErrProductInactive, item.ProductID)
		}
		subtotal += product.Price * int64(item.Quantity)
		prices[product.ID] = product.Price
		chargeItems = append(chargeItems, gateway.ChargeItem{
			ID:       fmt.Sprintf("%d", product.ID),
			Name:     product.Name,
			Price:    product.Price,
			Quantity: item.Quantity,
		})
	}

	total := subtotal + req.Tax - req.Discount
	if total <= 0 {
		return 0, nil, nil, ErrInvalidDiscount
	}
	return total, chargeItems, prices, nil
}

// recordedMethod maps a gateway payment type to the method recorded on
// the settled sale. Snap is a hosted card checkout.
func recordedMethod(paymentType string) string {
	if paymentType == models.PaymentTypeSnap {
		return models.PaymentMethodCard
	}
	return models.PaymentMethodQRIS
}

// grossAmountMatches compares the provider's decimal string ("20000.00")
// against the stored integer amount.
func (r *Reconciler) grossAmountMatches(grossAmount string, amount int64) bool {
	if grossAmount == "" {
		return true
	}
	reported, err := decimal.NewFromString(grossAmount)
	if err != nil {
		return false
	}
	return reported.Equal(decimal.NewFromInt(amount))
}
