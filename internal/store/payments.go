package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"
)

// CreatePayment persists a new payment record in pending state
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, type, status, gateway_response, cart, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Amount, payment.Type, payment.Status,
		jsonbParam(payment.GatewayResponse), jsonbParam(payment.Cart), payment.ExpiresAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// jsonbParam adapts raw JSON for a jsonb parameter. lib/pq encodes []byte
// as bytea, so raw JSON must go over the wire as text; empty input becomes
// SQL NULL.
func jsonbParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// GetPaymentByOrderID retrieves a payment record by order id
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// TransitionPayment moves a payment record out of pending into a terminal
// status. The WHERE clause on the current status is the transition guard:
// it returns false when the record already left pending, so racing webhook
// and poll signals cannot overwrite a terminal state or fire twice.
func (s *Store) TransitionPayment(ctx context.Context, orderID, toStatus string, rawResponse []byte, paidAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_response = COALESCE($3, gateway_response),
		    paid_at = COALESCE($4, paid_at),
		    updated_at = NOW()
		WHERE order_id = $1 AND status = $5`,
		orderID, toStatus, jsonbParam(rawResponse), paidAt, models.GatewayStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
