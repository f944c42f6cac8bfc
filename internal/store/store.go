package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrDuplicateTicket reports that an order insert lost the ticket number race.
var ErrDuplicateTicket = errors.New("duplicate ticket number")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	ticketConstraint      = "orders_ticket_number_key"
)

// Txn is the set of queries that can run inside a database transaction.
// *Store satisfies it too, running each call on its own.
type Txn interface {
	GetServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Service, error)
	GetSettingValues(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	TicketExists(ctx context.Context, ticket string) (bool, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	InsertAttachment(ctx context.Context, file *models.Attachment) error
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID uuid.UUID, method string) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransactionByProviderTxnID(ctx context.Context, providerTxnID string) (*models.Transaction, error)
	MarkTransactionSucceeded(ctx context.Context, id uuid.UUID, providerPaymentID string, response models.Options) (bool, error)
	MarkTransactionFailed(ctx context.Context, id uuid.UUID, providerPaymentID string, response models.Options) (bool, error)
}

// queries holds every statement; Store and Tx embed it over a pool or a transaction.
type queries struct {
	q sqlx.ExtContext
}

type Store struct {
	queries
	db *sqlx.DB
}

// Tx is a store bound to an open database transaction.
type Tx struct {
	queries
	tx *sqlx.Tx
}

var (
	_ Txn = (*Store)(nil)
	_ Txn = (*Tx)(nil)
)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction, committing only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(Txn) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{queries: queries{q: tx}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit transaction", err)
	}
	return nil
}

func pqCode(err error) (string, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

// getOne wraps a single-row lookup, translating no rows into apperr.ErrNotFound.
func getOne(ctx context.Context, q sqlx.QueryerContext, dest interface{}, entity string, id interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	if err != nil {
		return apperr.Storage("get "+entity, err)
	}
	return nil
}

func rowsChanged(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(op, err)
	}
	return n > 0, nil
}

func (s *queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.q, dest, query, args...)
}

func (s *queries) selectInto(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.q, dest, query, args...)
}
