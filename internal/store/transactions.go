package store

import (
	"context"
	"database/sql"
	"fmt"

	"pos-service/internal/models"
)

// CreateTransaction persists a sale, its items, the stock decrement and
// the debt increment as one unit of work. The transaction struct must
// arrive with its monetary fields already computed; IDs and timestamps
// are filled in from the inserted rows. Any failure rolls everything
// back, including a stock decrement that would go below zero.
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction, items []models.TransactionItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO transactions
			(invoice_number, customer_id, cashier_id, subtotal, tax, discount,
			 total, paid, remaining, change, payment_method, payment_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		txn.InvoiceNumber, txn.CustomerID, txn.CashierID, txn.Subtotal, txn.Tax,
		txn.Discount, txn.Total, txn.Paid, txn.Remaining, txn.Change,
		txn.PaymentMethod, txn.PaymentStatus, txn.Status,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for i := range items {
		items[i].TransactionID = txn.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].TransactionID, items[i].ProductID, items[i].Quantity,
			items[i].UnitPrice, items[i].LineTotal,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert transaction item: %w", err)
		}

		// Guarded decrement: zero rows affected means the stock check
		// failed under this transaction's isolation.
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity - $1
			WHERE id = $2 AND stock_quantity >= $1`,
			items[i].Quantity, items[i].ProductID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: product %d", ErrInsufficientStock, items[i].ProductID)
		}
	}

	if txn.PaymentMethod == models.PaymentMethodDebt && txn.Remaining > 0 {
		if txn.CustomerID == nil {
			return ErrCustomerNotFound
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE customers SET current_debt = current_debt + $1, updated_at = NOW()
			WHERE id = $2`,
			txn.Remaining, *txn.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to increment customer debt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %d", ErrCustomerNotFound, *txn.CustomerID)
		}
	}

	return tx.Commit()
}

// RepayDebt appends a repayment record, moves the transaction balance and
// decrements the customer's running debt atomically. Validation happens
// against the row locked inside the unit of work so concurrent repayments
// serialize on the balance check.
func (s *Store) RepayDebt(ctx context.Context, transactionID int64, payment *models.DebtPayment) (*models.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var txn models.Transaction
	err = tx.GetContext(ctx, &txn,
		"SELECT * FROM transactions WHERE id = $1 FOR UPDATE", transactionID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, transactionID)
	}
	if err != nil {
		return nil, err
	}

	if txn.Status == models.TransactionStatusVoid {
		return nil, ErrTransactionVoid
	}
	if txn.Remaining <= 0 {
		return nil, ErrTransactionSettled
	}
	if payment.Amount > txn.Remaining {
		return nil, fmt.Errorf("%w: amount=%d remaining=%d", ErrOverpayment, payment.Amount, txn.Remaining)
	}

	payment.TransactionID = txn.ID
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO debt_payments (transaction_id, amount, method, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		payment.TransactionID, payment.Amount, payment.Method, payment.Notes,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert debt payment: %w", err)
	}

	txn.Paid += payment.Amount
	txn.Remaining -= payment.Amount
	txn.PaymentStatus = models.DerivePaymentStatus(txn.Total, txn.Remaining)

	err = tx.QueryRowxContext(ctx, `
		UPDATE transactions
		SET paid = $1, remaining = $2, payment_status = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`,
		txn.Paid, txn.Remaining, txn.PaymentStatus, txn.ID,
	).Scan(&txn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction balance: %w", err)
	}

	if txn.CustomerID != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE customers SET current_debt = current_debt - $1, updated_at = NOW()
			WHERE id = $2`,
			payment.Amount, *txn.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement customer debt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionByID retrieves a transaction with its items
func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*models.Transaction, []models.TransactionItem, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn, "SELECT * FROM transactions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	var items []models.TransactionItem
	err = s.db.SelectContext(ctx, &items,
		"SELECT * FROM transaction_items WHERE transaction_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, nil, err
	}

	return &txn, items, nil
}

// GetTransactionByInvoice retrieves a transaction by its invoice number
func (s *Store) GetTransactionByInvoice(ctx context.Context, invoice string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn,
		"SELECT * FROM transactions WHERE invoice_number = $1", invoice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetDebtPaymentsByTransactionID lists the repayment audit trail
func (s *Store) GetDebtPaymentsByTransactionID(ctx context.Context, transactionID int64) ([]models.DebtPayment, error) {
	var payments []models.DebtPayment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM debt_payments WHERE transaction_id = $1 ORDER BY created_at", transactionID)
	return payments, err
}
