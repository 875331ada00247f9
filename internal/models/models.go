package models

import (
	"encoding/json"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID            int64     `db:"id" json:"id"`
	SKU           string    `db:"sku" json:"sku"`
	Name          string    `db:"name" json:"name"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Customer holds a running debt balance across all of their credit sales
type Customer struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Phone       string    `db:"phone" json:"phone,omitempty"`
	CurrentDebt int64     `db:"current_debt" json:"current_debt"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is one settled sale with its monetary breakdown
type Transaction struct {
	ID            int64     `db:"id" json:"id"`
	InvoiceNumber string    `db:"invoice_number" json:"invoice_number"`
	CustomerID    *int64    `db:"customer_id" json:"customer_id,omitempty"`
	CashierID     *int64    `db:"cashier_id" json:"cashier_id,omitempty"`
	Subtotal      int64     `db:"subtotal" json:"subtotal"`
	Tax           int64     `db:"tax" json:"tax"`
	Discount      int64     `db:"discount" json:"discount"`
	Total         int64     `db:"total" json:"total"`
	Paid          int64     `db:"paid" json:"paid"`
	Remaining     int64     `db:"remaining" json:"remaining"`
	Change        int64     `db:"change" json:"change"`
	PaymentMethod string    `db:"payment_method" json:"payment_method"`
	PaymentStatus string    `db:"payment_status" json:"payment_status"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TransactionItem is one line of a sale; written once at settlement
type TransactionItem struct {
	ID            int64 `db:"id" json:"id"`
	TransactionID int64 `db:"transaction_id" json:"transaction_id"`
	ProductID     int64 `db:"product_id" json:"product_id"`
	Quantity      int   `db:"quantity" json:"quantity"`
	UnitPrice     int64 `db:"unit_price" json:"unit_price"`
	LineTotal     int64 `db:"line_total" json:"line_total"`
}

// DebtPayment is an append-only repayment event against one transaction
type DebtPayment struct {
	ID            int64     `db:"id" json:"id"`
	TransactionID int64     `db:"transaction_id" json:"transaction_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Method        string    `db:"method" json:"method"`
	Notes         string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Payment is one externally tracked payment attempt, keyed by order id.
// It is correlated to a Transaction by order id / invoice number, not a
// foreign key: an attempt may never produce a sale.
type Payment struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         string          `db:"order_id" json:"order_id"`
	Amount          int64           `db:"amount" json:"amount"`
	Type            string          `db:"type" json:"type"`
	Status          string          `db:"status" json:"status"`
	GatewayResponse json.RawMessage `db:"gateway_response" json:"gateway_response,omitempty"`
	Cart            json.RawMessage `db:"cart" json:"cart,omitempty"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment methods
const (
	PaymentMethodCash  = "CASH"
	PaymentMethodCard  = "CARD"
	PaymentMethodQRIS  = "QRIS"
	PaymentMethodDebt  = "DEBT"
	PaymentMethodSplit = "SPLIT"
)

// Payment statuses of a settled transaction
const (
	PaymentStatusPaid    = "PAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusUnpaid  = "UNPAID"
)

// Transaction lifecycle statuses
const (
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusVoid      = "VOID"
)

// Normalized gateway payment record statuses
const (
	GatewayStatusPending    = "pending"
	GatewayStatusSettlement = "settlement"
	GatewayStatusCancel     = "cancel"
	GatewayStatusDeny       = "deny"
	GatewayStatusExpire     = "expire"
)

// Gateway payment types
const (
	PaymentTypeQRIS = "qris"
	PaymentTypeSnap = "snap"
)

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// DerivePaymentStatus is the single source of the PAID/PARTIAL/UNPAID rule.
// Both the settlement and repayment ledgers derive from here.
func DerivePaymentStatus(total, remaining int64) string {
	switch {
	case remaining <= 0:
		return PaymentStatusPaid
	case remaining < total:
		return PaymentStatusPartial
	default:
		return PaymentStatusUnpaid
	}
}

// IsTerminalGatewayStatus reports whether a payment record status permits
// no further transitions.
func IsTerminalGatewayStatus(status string) bool {
	switch status {
	case GatewayStatusSettlement, GatewayStatusCancel, GatewayStatusDeny, GatewayStatusExpire:
		return true
	}
	return false
}
