package service

import (
	"context"
	"testing"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCreateTransactionCashSale(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Coffee", 10000, 5)
	notifier := &fakeNotifier{}
	svc := NewSettlementService(fs, notifier)

	txn, items, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 2}},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    20000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(20000), txn.Total)
	assert.Equal(t, int64(0), txn.Remaining)
	assert.Equal(t, int64(0), txn.Change)
	assert.Equal(t, models.PaymentStatusPaid, txn.PaymentStatus)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.NotEmpty(t, txn.InvoiceNumber)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(20000), items[0].LineTotal)

	assert.Equal(t, 3, fs.products[1].StockQuantity)

	require.Len(t, notifier.transactionsCreated, 1)
	assert.Equal(t, models.EventTypeTransactionCreated, notifier.transactionsCreated[0].EventType)
}

func TestCreateTransactionOverpaidCashGivesChange(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Coffee", 10000, 5)
	svc := NewSettlementService(fs, &fakeNotifier{})

	txn, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    15000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), txn.Change)
	assert.Equal(t, int64(0), txn.Remaining)
	assert.Equal(t, models.PaymentStatusPaid, txn.PaymentStatus)
}

func TestCreateTransactionDebtSale(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Rice 5kg", 50000, 10)
	fs.addCustomer(7, "Budi")
	svc := NewSettlementService(fs, &fakeNotifier{})

	txn, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: models.PaymentMethodDebt,
		PaidAmount:    20000,
		CustomerID:    int64Ptr(7),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(50000), txn.Total)
	assert.Equal(t, int64(30000), txn.Remaining)
	assert.Equal(t, models.PaymentStatusPartial, txn.PaymentStatus)
	assert.Equal(t, int64(30000), fs.customers[7].CurrentDebt)
}

func TestCreateTransactionDebtRequiresCustomer(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Rice 5kg", 50000, 10)
	svc := NewSettlementService(fs, &fakeNotifier{})

	_, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: models.PaymentMethodDebt,
		PaidAmount:    20000,
	})
	assert.ErrorIs(t, err, ErrCustomerRequired)
}

func TestCreateTransactionInsufficientStockLeavesNothingBehind(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Coffee", 10000, 5)
	fs.addProduct(2, "Tea", 8000, 1)
	notifier := &fakeNotifier{}
	svc := NewSettlementService(fs, notifier)

	_, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items: []CartItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 3},
		},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    44000,
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	// Full rollback: nothing persisted, no stock moved, no event.
	assert.Equal(t, 5, fs.products[1].StockQuantity)
	assert.Equal(t, 1, fs.products[2].StockQuantity)
	assert.Empty(t, fs.transactions)
	assert.Empty(t, notifier.transactionsCreated)
}

func TestCreateTransactionUnknownProduct(t *testing.T) {
	fs := newFakeStore()
	svc := NewSettlementService(fs, &fakeNotifier{})

	_, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 99, Quantity: 1}},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    1000,
	})
	assert.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestCreateTransactionInactiveProduct(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Old Item", 10000, 5)
	fs.products[1].Active = false
	svc := NewSettlementService(fs, &fakeNotifier{})

	_, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    10000,
	})
	assert.ErrorIs(t, err, store.ErrProductInactive)
}

func TestCreateTransactionRejectsEmptyCartAndBadMethod(t *testing.T) {
	svc := NewSettlementService(newFakeStore(), &fakeNotifier{})

	_, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         nil,
		PaymentMethod: models.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, _, err = svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: "VOUCHER",
	})
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestCreateTransactionPinsChargedPricesOnReplay(t *testing.T) {
	fs := newFakeStore()
	// Catalog price moved to 12000 after the charge was created at 10000.
	fs.addProduct(1, "Coffee", 12000, 5)
	svc := NewSettlementService(fs, &fakeNotifier{})

	txn, items, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 2}},
		PaymentMethod: models.PaymentMethodQRIS,
		PaidAmount:    20000,
		InvoiceNumber: "POS-20250601120000-AAAA0001",
		ChargedPrices: map[int64]int64{1: 10000},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(20000), txn.Total)
	assert.Equal(t, int64(0), txn.Remaining)
	assert.Equal(t, models.PaymentStatusPaid, txn.PaymentStatus)
	assert.Equal(t, int64(10000), items[0].UnitPrice)
}

func TestCreateTransactionIgnoresChargedPricesFromClients(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Coffee", 12000, 5)
	svc := NewSettlementService(fs, &fakeNotifier{})

	// No invoice number means a direct client request; a smuggled price
	// map must not override the catalog.
	txn, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    12000,
		ChargedPrices: map[int64]int64{1: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(12000), txn.Total)
	assert.Equal(t, models.PaymentStatusPaid, txn.PaymentStatus)
}

func TestCreateTransactionTaxAndDiscount(t *testing.T) {
	fs := newFakeStore()
	fs.addProduct(1, "Coffee", 10000, 10)
	svc := NewSettlementService(fs, &fakeNotifier{})

	txn, _, err := svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 3}},
		PaymentMethod: models.PaymentMethodCash,
		PaidAmount:    31000,
		Tax:           3000,
		Discount:      2000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(30000), txn.Subtotal)
	assert.Equal(t, int64(31000), txn.Total)
	assert.Equal(t, models.PaymentStatusPaid, txn.PaymentStatus)

	_, _, err = svc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		Items:         []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PaymentMethod: models.PaymentMethodCash,
		Discount:      50000,
	})
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}
