package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pos-service/internal/gateway"
	"pos-service/internal/models"
	"pos-service/internal/store"
)

// fakeStore is an in-memory LedgerStore + PaymentStore with the same
// all-or-nothing semantics as the SQL implementation.
type fakeStore struct {
	mu           sync.Mutex
	products     map[int64]*models.Product
	customers    map[int64]*models.Customer
	transactions map[int64]*models.Transaction
	itemsByTxn   map[int64][]models.TransactionItem
	debtPayments map[int64][]models.DebtPayment
	payments     map[string]*models.Payment
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     make(map[int64]*models.Product),
		customers:    make(map[int64]*models.Customer),
		transactions: make(map[int64]*models.Transaction),
		itemsByTxn:   make(map[int64][]models.TransactionItem),
		debtPayments: make(map[int64][]models.DebtPayment),
		payments:     make(map[string]*models.Payment),
	}
}

func (f *fakeStore) addProduct(id int64, name string, price int64, stock int) {
	f.products[id] = &models.Product{
		ID: id, SKU: fmt.Sprintf("SKU-%d", id), Name: name,
		Price: price, StockQuantity: stock, Active: true,
	}
}

func (f *fakeStore) addCustomer(id int64, name string) {
	f.customers[id] = &models.Customer{ID: id, Name: name}
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCustomerByID(_ context.Context, id int64) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrCustomerNotFound, id)
	}
	clone := *c
	return &clone, nil
}

func (f *fakeStore) CreateTransaction(_ context.Context, txn *models.Transaction, items []models.TransactionItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Validate everything before mutating anything, like the SQL
	// transaction's rollback would.
	for _, item := range items {
		p, ok := f.products[item.ProductID]
		if !ok {
			return fmt.Errorf("%w: %d", store.ErrProductNotFound, item.ProductID)
		}
		if p.StockQuantity < item.Quantity {
			return fmt.Errorf("%w: product %d", store.ErrInsufficientStock, item.ProductID)
		}
	}
	if txn.PaymentMethod == models.PaymentMethodDebt && txn.Remaining > 0 {
		if txn.CustomerID == nil {
			return store.ErrCustomerNotFound
		}
		if _, ok := f.customers[*txn.CustomerID]; !ok {
			return fmt.Errorf("%w: %d", store.ErrCustomerNotFound, *txn.CustomerID)
		}
	}

	f.nextID++
	txn.ID = f.nextID
	txn.CreatedAt = time.Now()
	txn.UpdatedAt = txn.CreatedAt

	for i := range items {
		items[i].TransactionID = txn.ID
		f.nextID++
		items[i].ID = f.nextID
		f.products[items[i].ProductID].StockQuantity -= items[i].Quantity
	}

	if txn.PaymentMethod == models.PaymentMethodDebt && txn.Remaining > 0 {
		f.customers[*txn.CustomerID].CurrentDebt += txn.Remaining
	}

	clone := *txn
	f.transactions[txn.ID] = &clone
	f.itemsByTxn[txn.ID] = append([]models.TransactionItem(nil), items...)
	return nil
}

func (f *fakeStore) RepayDebt(_ context.Context, transactionID int64, payment *models.DebtPayment) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	txn, ok := f.transactions[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrTransactionNotFound, transactionID)
	}
	if txn.Status == models.TransactionStatusVoid {
		return nil, store.ErrTransactionVoid
	}
	if txn.Remaining <= 0 {
		return nil, store.ErrTransactionSettled
	}
	if payment.Amount > txn.Remaining {
		return nil, fmt.Errorf("%w: amount=%d remaining=%d", store.ErrOverpayment, payment.Amount, txn.Remaining)
	}

	f.nextID++
	payment.ID = f.nextID
	payment.TransactionID = transactionID
	payment.CreatedAt = time.Now()
	f.debtPayments[transactionID] = append(f.debtPayments[transactionID], *payment)

	txn.Paid += payment.Amount
	txn.Remaining -= payment.Amount
	txn.PaymentStatus = models.DerivePaymentStatus(txn.Total, txn.Remaining)
	txn.UpdatedAt = time.Now()

	if txn.CustomerID != nil {
		f.customers[*txn.CustomerID].CurrentDebt -= payment.Amount
	}

	clone := *txn
	return &clone, nil
}

func (f *fakeStore) GetTransactionByID(_ context.Context, id int64) (*models.Transaction, []models.TransactionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.transactions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", store.ErrTransactionNotFound, id)
	}
	clone := *txn
	return &clone, append([]models.TransactionItem(nil), f.itemsByTxn[id]...), nil
}

func (f *fakeStore) GetTransactionByInvoice(_ context.Context, invoice string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, txn := range f.transactions {
		if txn.InvoiceNumber == invoice {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetDebtPaymentsByTransactionID(_ context.Context, transactionID int64) ([]models.DebtPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DebtPayment(nil), f.debtPayments[transactionID]...), nil
}

func (f *fakeStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	payment.ID = f.nextID
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	clone := *payment
	f.payments[payment.OrderID] = &clone
	return nil
}

func (f *fakeStore) GetPaymentByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrPaymentNotFound, orderID)
	}
	clone := *p
	return &clone, nil
}

func (f *fakeStore) TransitionPayment(_ context.Context, orderID, toStatus string, rawResponse []byte, paidAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[orderID]
	if !ok {
		return false, fmt.Errorf("%w: %s", store.ErrPaymentNotFound, orderID)
	}
	if p.Status != models.GatewayStatusPending {
		return false, nil
	}
	p.Status = toStatus
	if rawResponse != nil {
		p.GatewayResponse = rawResponse
	}
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

// fakeGateway returns scripted results and records calls
type fakeGateway struct {
	chargeResult *gateway.ChargeResult
	chargeErr    error
	status       gateway.Status
	statusErr    error
	cancelStatus gateway.Status

	chargeCalls int
	statusCalls int
	cancelCalls int
}

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.chargeCalls++
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeResult != nil {
		result := *g.chargeResult
		result.OrderID = req.OrderID
		return &result, nil
	}
	return &gateway.ChargeResult{
		OrderID:   req.OrderID,
		QRString:  "qr-payload",
		ExpiresAt: time.Now().Add(15 * time.Minute),
		Raw:       json.RawMessage(`{"transaction_status":"pending"}`),
	}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ string) (gateway.Status, json.RawMessage, error) {
	g.statusCalls++
	if g.statusErr != nil {
		return gateway.StatusUnknown, nil, g.statusErr
	}
	return g.status, json.RawMessage(`{"source":"poll"}`), nil
}

func (g *fakeGateway) Cancel(_ context.Context, _ string) (gateway.Status, json.RawMessage, error) {
	g.cancelCalls++
	return g.cancelStatus, json.RawMessage(`{"source":"cancel"}`), nil
}

// fakeCache is an always-available PaymentCache
type fakeCache struct {
	mu       sync.Mutex
	statuses map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: make(map[string]string)}
}

func (c *fakeCache) AcquireOrderLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (c *fakeCache) ReleaseOrderLock(_ context.Context, _ string) error { return nil }

func (c *fakeCache) GetPaymentStatus(_ context.Context, orderID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[orderID], nil
}

func (c *fakeCache) SetPaymentStatus(_ context.Context, orderID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[orderID] = status
	return nil
}

// fakeNotifier records every emitted event
type fakeNotifier struct {
	mu                  sync.Mutex
	transactionsCreated []*models.TransactionCreatedEvent
	paymentSuccesses    []*models.PaymentSuccessEvent
	paymentUpdates      []*models.PaymentUpdateEvent
}

func (n *fakeNotifier) PublishTransactionCreated(_ context.Context, event *models.TransactionCreatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transactionsCreated = append(n.transactionsCreated, event)
	return nil
}

func (n *fakeNotifier) PublishPaymentSuccess(_ context.Context, event *models.PaymentSuccessEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentSuccesses = append(n.paymentSuccesses, event)
	return nil
}

func (n *fakeNotifier) PublishPaymentUpdate(_ context.Context, event *models.PaymentUpdateEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentUpdates = append(n.paymentUpdates, event)
	return nil
}
