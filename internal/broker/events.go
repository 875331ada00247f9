package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"pos-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes domain events; it implements the service
// layer's Notifier port.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishTransactionCreated publishes a transaction:created event
func (ep *EventPublisher) PublishTransactionCreated(ctx context.Context, event *models.TransactionCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, event.Transaction.InvoiceNumber, event)
}

// PublishPaymentSuccess publishes a payment:success event
func (ep *EventPublisher) PublishPaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	return ep.producer.PublishEvent(ctx, event.OrderID, event)
}

// PublishPaymentUpdate publishes a payment:update event
func (ep *EventPublisher) PublishPaymentUpdate(ctx context.Context, event *models.PaymentUpdateEvent) error {
	return ep.producer.PublishEvent(ctx, event.OrderID, event)
}

// EventHandler routes consumed events to registered handlers
type EventHandler struct {
	onPaymentSuccess func(context.Context, *models.PaymentSuccessEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentSuccess registers a handler for payment:success events
func (eh *EventHandler) OnPaymentSuccess(handler func(context.Context, *models.PaymentSuccessEvent) error) {
	eh.onPaymentSuccess = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess:
		if eh.onPaymentSuccess != nil {
			var event models.PaymentSuccessEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal payment:success event: %w", err)
			}
			return eh.onPaymentSuccess(ctx, &event)
		}

	default:
		log.Printf("Ignoring event type: %s", baseEvent.EventType)
	}

	return nil
}
