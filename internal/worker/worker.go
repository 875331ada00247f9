package worker

import (
	"context"
	"encoding/json"
	"errors"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// SettlementWorker consumes payment:success events and materializes the
// sale through the settlement ledger. Settlement of the payment and
// creation of the sale record are two steps joined by this trigger.
type SettlementWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	settlement   *service.SettlementService
	logger       *zap.Logger
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(
	consumer *broker.Consumer,
	st *store.Store,
	settlement *service.SettlementService,
) *SettlementWorker {
	w := &SettlementWorker{
		consumer:   consumer,
		store:      st,
		settlement: settlement,
		logger:     util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSuccess(w.handlePaymentSuccess)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting settlement worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SettlementWorker) Stop() error {
	w.logger.Info("Stopping settlement worker")
	return w.consumer.Close()
}

// handlePaymentSuccess replays the cart stored on the payment record as
// a settlement command. The gateway order id doubles as the invoice
// number, so the transactions table's unique constraint caps each
// payment at one sale even across event redeliveries.
func (w *SettlementWorker) handlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	payment, err := w.store.GetPaymentByOrderID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	existing, err := w.store.GetTransactionByInvoice(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	if existing != nil {
		w.logger.Info("Sale already materialized for payment",
			zap.String("order_id", payment.OrderID),
			zap.Int64("transaction_id", existing.ID))
		return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}

	var req service.CreateTransactionRequest
	if err := json.Unmarshal(payment.Cart, &req); err != nil {
		w.logger.Error("Payment record carries an unreadable cart",
			zap.String("order_id", payment.OrderID),
			zap.Error(err))
		return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}
	req.InvoiceNumber = payment.OrderID

	if _, _, err := w.settlement.CreateTransaction(ctx, &req); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			// The stock moved between charge and confirmation. The
			// payment stays settled; the discrepancy needs an operator.
			w.logger.Error("Settled payment could not materialize a sale",
				zap.String("order_id", payment.OrderID),
				zap.Error(err))
			return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
		}
		return err
	}

	w.logger.Info("Sale materialized from settled payment",
		zap.String("order_id", payment.OrderID))
	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
