package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// SettlementService atomically converts a cart into a settled sale with
// consistent stock and debt side effects.
type SettlementService struct {
	store    LedgerStore
	notifier Notifier
	logger   *zap.Logger
}

// NewSettlementService creates a new settlement service
func NewSettlementService(store LedgerStore, notifier Notifier) *SettlementService {
	return &SettlementService{
		store:    store,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// CreateTransactionRequest is the validated settlement command
type CreateTransactionRequest struct {
	Items         []CartItemRequest `json:"items" binding:"required,min=1,dive"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	PaidAmount    int64             `json:"paid_amount" binding:"min=0"`
	CustomerID    *int64            `json:"customer_id,omitempty"`
	CashierID     *int64            `json:"cashier_id,omitempty"`
	Tax           int64             `json:"tax" binding:"min=0"`
	Discount      int64             `json:"discount" binding:"min=0"`

	// InvoiceNumber is set by the settlement worker to the gateway
	// order id so a payment settles at most one sale. Client requests
	// always get a generated invoice.
	InvoiceNumber string `json:"-"`

	// ChargedPrices pins unit prices captured when the gateway charge
	// was created, keyed by product id. Honored only together with
	// InvoiceNumber, which clients cannot set, so direct requests
	// always price from the catalog.
	ChargedPrices map[int64]int64 `json:"charged_prices,omitempty"`
}

// CartItemRequest is one cart line
type CartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateTransaction executes the settlement as one all-or-nothing unit of
// work and emits transaction:created after it commits.
func (s *SettlementService) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*models.Transaction, []models.TransactionItem, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	if err := validatePaymentMethod(req.PaymentMethod); err != nil {
		util.TransactionsFailedTotal.WithLabelValues("invalid_method").Inc()
		return nil, nil, err
	}
	if len(req.Items) == 0 {
		util.TransactionsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, nil, ErrEmptyCart
	}
	if req.PaymentMethod == models.PaymentMethodDebt && req.CustomerID == nil {
		util.TransactionsFailedTotal.WithLabelValues("customer_required").Inc()
		return nil, nil, ErrCustomerRequired
	}

	products, err := s.validateCart(ctx, req.Items)
	if err != nil {
		util.TransactionsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, nil, err
	}

	var customer *models.Customer
	if req.CustomerID != nil {
		customer, err = s.store.GetCustomerByID(ctx, *req.CustomerID)
		if err != nil {
			util.TransactionsFailedTotal.WithLabelValues("unknown_customer").Inc()
			return nil, nil, err
		}
	}

	items := make([]models.TransactionItem, 0, len(req.Items))
	var subtotal int64
	for _, line := range req.Items {
		price := products[line.ProductID].Price
		if req.InvoiceNumber != "" {
			if pinned, ok := req.ChargedPrices[line.ProductID]; ok {
				price = pinned
			}
		}
		lineTotal := price * int64(line.Quantity)
		subtotal += lineTotal
		items = append(items, models.TransactionItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: price,
			LineTotal: lineTotal,
		})
	}

	total := subtotal + req.Tax - req.Discount
	if total < 0 {
		util.TransactionsFailedTotal.WithLabelValues("invalid_discount").Inc()
		return nil, nil, ErrInvalidDiscount
	}

	remaining := total - req.PaidAmount
	if remaining < 0 {
		remaining = 0
	}
	change := req.PaidAmount - total
	if change < 0 {
		change = 0
	}

	invoice := req.InvoiceNumber
	if invoice == "" {
		invoice = generateInvoiceNumber(time.Now())
	}

	txn := &models.Transaction{
		InvoiceNumber: invoice,
		CustomerID:    req.CustomerID,
		CashierID:     req.CashierID,
		Subtotal:      subtotal,
		Tax:           req.Tax,
		Discount:      req.Discount,
		Total:         total,
		Paid:          req.PaidAmount,
		Remaining:     remaining,
		Change:        change,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: models.DerivePaymentStatus(total, remaining),
		Status:        models.TransactionStatusCompleted,
	}

	if err := s.store.CreateTransaction(ctx, txn, items); err != nil {
		reason := "db_error"
		if errors.Is(err, store.ErrInsufficientStock) {
			reason = "insufficient_stock"
		}
		util.TransactionsFailedTotal.WithLabelValues(reason).Inc()
		return nil, nil, err
	}

	util.TransactionsCreatedTotal.WithLabelValues(txn.PaymentMethod).Inc()
	s.logger.Info("Transaction settled",
		zap.Int64("transaction_id", txn.ID),
		zap.String("invoice", txn.InvoiceNumber),
		zap.String("payment_method", txn.PaymentMethod),
		zap.Int64("total", txn.Total),
		zap.Int64("remaining", txn.Remaining))

	event := &models.TransactionCreatedEvent{
		BaseEvent:   newEvent(models.EventTypeTransactionCreated),
		Transaction: *txn,
		Items:       items,
		Customer:    customer,
	}
	if err := s.notifier.PublishTransactionCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish transaction:created event", zap.Error(err))
	}

	return txn, items, nil
}

// GetTransaction retrieves a transaction with its items
func (s *SettlementService) GetTransaction(ctx context.Context, id int64) (*models.Transaction, []models.TransactionItem, error) {
	return s.store.GetTransactionByID(ctx, id)
}

// validateCart resolves every cart line against an existing, active
// product and rejects duplicates of unknown or inactive references.
func (s *SettlementService) validateCart(ctx context.Context, items []CartItemRequest) (map[int64]*models.Product, error) {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	for _, id := range ids {
		product, ok := productMap[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", store.ErrProductNotFound, id)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: %d", store.ErrProductInactive, id)
		}
	}

	return productMap, nil
}

func validatePaymentMethod(method string) error {
	switch method {
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodQRIS,
		models.PaymentMethodDebt, models.PaymentMethodSplit:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, method)
}
