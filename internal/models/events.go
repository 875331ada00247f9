package models

import "time"

// Event types
const (
	EventTypeTransactionCreated = "transaction:created"
	EventTypePaymentSuccess     = "payment:success"
	EventTypePaymentUpdate      = "payment:update"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionCreatedEvent is published after a sale commits, with the
// fully hydrated transaction
type TransactionCreatedEvent struct {
	BaseEvent
	Transaction Transaction       `json:"transaction"`
	Items       []TransactionItem `json:"items"`
	Customer    *Customer         `json:"customer,omitempty"`
}

// PaymentSuccessEvent is published when a payment record reaches
// settlement; the settlement worker consumes it to materialize the sale
type PaymentSuccessEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Type    string `json:"type"`
}

// PaymentUpdateEvent is published on any other durable payment record
// transition (cancel, deny, expire)
type PaymentUpdateEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
