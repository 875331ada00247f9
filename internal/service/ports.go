package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"

	"github.com/google/uuid"
)

// Validation errors detected at the service boundary
var (
	ErrEmptyCart            = errors.New("cart must contain at least one item")
	ErrInvalidQuantity      = errors.New("item quantity must be positive")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrCustomerRequired     = errors.New("customer is required for debt sales")
	ErrInvalidDiscount      = errors.New("discount exceeds the amount due")
	ErrInvalidSignature     = errors.New("webhook signature mismatch")
)

// LedgerStore is the persistence dependency of the settlement and
// repayment ledgers. Implemented by *store.Store; the unit-of-work
// boundary lives behind this interface.
type LedgerStore interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction, items []models.TransactionItem) error
	RepayDebt(ctx context.Context, transactionID int64, payment *models.DebtPayment) (*models.Transaction, error)
	GetTransactionByID(ctx context.Context, id int64) (*models.Transaction, []models.TransactionItem, error)
	GetTransactionByInvoice(ctx context.Context, invoice string) (*models.Transaction, error)
	GetDebtPaymentsByTransactionID(ctx context.Context, transactionID int64) ([]models.DebtPayment, error)
}

// PaymentStore is the reconciler's persistence dependency
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	TransitionPayment(ctx context.Context, orderID, toStatus string, rawResponse []byte, paidAt *time.Time) (bool, error)
}

// Notifier is the outbound event port. Emission is fire-and-forget after
// the local commit; publish failures never roll back state.
type Notifier interface {
	PublishTransactionCreated(ctx context.Context, event *models.TransactionCreatedEvent) error
	PublishPaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error
	PublishPaymentUpdate(ctx context.Context, event *models.PaymentUpdateEvent) error
}

// PaymentCache serializes reconciler work per order id and caches the
// normalized status for the poll endpoint. Implemented by the Redis
// client; the DB transition guard stays authoritative when the cache is
// unavailable.
type PaymentCache interface {
	AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderID string) error
	GetPaymentStatus(ctx context.Context, orderID string) (string, error)
	SetPaymentStatus(ctx context.Context, orderID, status string, ttl time.Duration) error
}

func newEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func generateInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.New().String()[:8]))
}

func generateOrderID(now time.Time) string {
	return fmt.Sprintf("POS-%s-%s", now.Format("20060102150405"), strings.ToUpper(uuid.New().String()[:8]))
}
