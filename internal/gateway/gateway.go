// Package gateway wraps the external payment provider behind a normalized
// interface. All outbound request shaping, authentication and signature
// details live here; the reconciler only ever sees the Status enum.
package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Status is the normalized payment status reported by the provider
type Status string

const (
	StatusPending    Status = "pending"
	StatusSettlement Status = "settlement"
	StatusCancel     Status = "cancel"
	StatusDeny       Status = "deny"
	StatusExpire     Status = "expire"
	StatusUnknown    Status = "unknown"
)

var (
	// ErrUnavailable wraps transport-level failures so callers can
	// answer 502 and let the client retry safely.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrRejected is returned when the provider refuses a request
	// outright: authentication failure, malformed charge, declined
	// transaction. Unlike ErrUnavailable, retrying the same request
	// will not succeed.
	ErrRejected = errors.New("payment gateway rejected the request")

	// ErrOrderNotFound is returned when the provider has no record of
	// the order id.
	ErrOrderNotFound = errors.New("order not found at gateway")
)

// ChargeRequest describes one charge to initiate
type ChargeRequest struct {
	OrderID     string
	Amount      int64
	PaymentType string // models.PaymentTypeQRIS or models.PaymentTypeSnap
	Items       []ChargeItem
}

// ChargeItem is one cart line forwarded to the provider
type ChargeItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// ChargeResult is the normalized outcome of a charge request
type ChargeResult struct {
	OrderID     string
	GatewayRef  string
	QRString    string
	ActionURL   string
	Token       string
	RedirectURL string
	ExpiresAt   time.Time
	Raw         json.RawMessage
}

// Client is the narrow interface the reconciler depends on
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	QueryStatus(ctx context.Context, orderID string) (Status, json.RawMessage, error)
	Cancel(ctx context.Context, orderID string) (Status, json.RawMessage, error)
}

// ParseStatus maps the provider's transaction_status/fraud_status pair to
// the normalized enum. Capture with a fraud accept is settlement; capture
// without it stays pending.
func ParseStatus(transactionStatus, fraudStatus string) Status {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" {
			return StatusSettlement
		}
		return StatusPending
	case "settlement":
		return StatusSettlement
	case "pending", "authorize":
		return StatusPending
	case "cancel":
		return StatusCancel
	case "deny":
		return StatusDeny
	case "expire":
		return StatusExpire
	default:
		return StatusUnknown
	}
}

// Signature computes the notification digest:
// sha512(orderID + statusCode + grossAmount + serverKey).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a webhook payload's signature_key
func VerifySignature(orderID, statusCode, grossAmount, serverKey, signature string) bool {
	return Signature(orderID, statusCode, grossAmount, serverKey) == signature
}
