package service

import (
	"context"
	"errors"
	"fmt"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// DebtService appends repayment events against settled credit sales and
// keeps the running balances consistent.
type DebtService struct {
	store  LedgerStore
	logger *zap.Logger
}

// NewDebtService creates a new debt repayment service
func NewDebtService(store LedgerStore) *DebtService {
	return &DebtService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// RepayDebtRequest is one repayment command
type RepayDebtRequest struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Method string `json:"method" binding:"required"`
	Notes  string `json:"notes,omitempty"`
}

// RepayDebt records a repayment against a transaction. Over-payment is
// rejected, not clamped; the balance check serializes on the row lock
// inside the unit of work.
func (s *DebtService) RepayDebt(ctx context.Context, transactionID int64, req *RepayDebtRequest) (*models.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "DebtService.RepayDebt")
	defer span.End()

	if req.Amount <= 0 {
		util.DebtRepaymentsRejected.WithLabelValues("invalid_amount").Inc()
		return nil, ErrInvalidAmount
	}
	switch req.Method {
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodQRIS:
	default:
		util.DebtRepaymentsRejected.WithLabelValues("invalid_method").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, req.Method)
	}

	payment := &models.DebtPayment{
		Amount: req.Amount,
		Method: req.Method,
		Notes:  req.Notes,
	}

	txn, err := s.store.RepayDebt(ctx, transactionID, payment)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOverpayment):
			util.DebtRepaymentsRejected.WithLabelValues("overpayment").Inc()
		case errors.Is(err, store.ErrTransactionSettled):
			util.DebtRepaymentsRejected.WithLabelValues("already_paid").Inc()
		case errors.Is(err, store.ErrTransactionVoid):
			util.DebtRepaymentsRejected.WithLabelValues("void").Inc()
		}
		return nil, err
	}

	util.DebtRepaymentsTotal.Inc()
	s.logger.Info("Debt repayment recorded",
		zap.Int64("transaction_id", txn.ID),
		zap.Int64("amount", req.Amount),
		zap.Int64("remaining", txn.Remaining),
		zap.String("payment_status", txn.PaymentStatus))

	return txn, nil
}

// ListRepayments returns the append-only repayment trail for a
// transaction.
func (s *DebtService) ListRepayments(ctx context.Context, transactionID int64) ([]models.DebtPayment, error) {
	if _, _, err := s.store.GetTransactionByID(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.store.GetDebtPaymentsByTransactionID(ctx, transactionID)
}
