package store

import (
	"context"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const transactionColumns = `id, order_id, amount, method, status, provider,
	provider_txn_id, provider_payment_id, provider_response, created_at, updated_at`

// InsertTransaction records a payment attempt
func (s *queries) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (order_id, amount, method, status, provider,
			provider_txn_id, provider_payment_id, provider_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		txn.OrderID, txn.Amount, txn.Method, txn.Status, txn.Provider,
		txn.ProviderTxnID, txn.ProviderPaymentID, txn.ProviderResponse).
		Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return apperr.Storage("insert transaction", err)
	}
	return nil
}

// GetTransactionByProviderTxnID retrieves the latest attempt for a provider intent id
func (s *queries) GetTransactionByProviderTxnID(ctx context.Context, providerTxnID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := getOne(ctx, s.q, &txn, "transaction", providerTxnID, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE provider_txn_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, providerTxnID); err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions retrieves every payment attempt for an order, oldest first
func (s *queries) ListTransactions(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	err := s.selectInto(ctx, &txns, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, apperr.Storage("list transactions", err)
	}
	return txns, nil
}

// MarkTransactionSucceeded moves a pending transaction to success.
// It reports false when the transaction is no longer pending.
func (s *queries) MarkTransactionSucceeded(ctx context.Context, id uuid.UUID, providerPaymentID string, response models.Options) (bool, error) {
	return s.settleTransaction(ctx, id, models.TxnStatusSuccess, providerPaymentID, response,
		models.TxnStatusPending)
}

// MarkTransactionFailed moves a pending transaction to failed.
func (s *queries) MarkTransactionFailed(ctx context.Context, id uuid.UUID, providerPaymentID string, response models.Options) (bool, error) {
	return s.settleTransaction(ctx, id, models.TxnStatusFailed, providerPaymentID, response,
		models.TxnStatusPending)
}

// settleTransaction is a conditional update: the row changes only while its
// status is one of from.
func (s *queries) settleTransaction(ctx context.Context, id uuid.UUID, status, providerPaymentID string, response models.Options, from ...string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2,
			provider_payment_id = COALESCE(NULLIF($3, ''), provider_payment_id),
			provider_response = provider_response || $4::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($5)`,
		id, status, providerPaymentID, response, pq.Array(from))
	return rowsChanged(res, err, "settle transaction")
}
