// Package repository stores balances, holdings and the transaction log in postgres
package repository

import (
	"github.com/chucky-1/papertrade/internal/model"
	"github.com/chucky-1/papertrade/internal/request"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"context"
	"errors"
)

// tradeAttempts bounds the retry loop on serialization conflicts
const tradeAttempts = 3

const schema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id TEXT PRIMARY KEY,
	cash    NUMERIC NOT NULL CHECK (cash >= 0)
);
CREATE TABLE IF NOT EXISTS holdings (
	user_id      TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	asset_type   TEXT NOT NULL,
	quantity     NUMERIC NOT NULL CHECK (quantity > 0),
	average_cost NUMERIC NOT NULL,
	PRIMARY KEY (user_id, symbol)
);
CREATE TABLE IF NOT EXISTS transactions (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	asset_type TEXT NOT NULL,
	side       TEXT NOT NULL,
	quantity   NUMERIC NOT NULL,
	price      NUMERIC NOT NULL,
	total      NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_user_created_idx ON transactions (user_id, created_at DESC);
`

// querier is satisfied by the pool and by a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Repository works with postgres
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository is constructor
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the ledger tables
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// ExecuteTrade runs fn inside a serializable transaction and commits it as one
// atomic unit. Serialization conflicts are retried a bounded number of times;
// any other error rolls everything back
func (r *Repository) ExecuteTrade(ctx context.Context, userID string, fn func(ctx context.Context, tx request.Tx) error) error {
	var err error
	for attempt := 1; attempt <= tradeAttempts; attempt++ {
		err = r.executeTrade(ctx, fn)
		if err == nil || !serializationFailure(err) {
			return err
		}
		log.Infof("trade for user %s hit a serialization conflict, attempt %d", userID, attempt)
	}
	return err
}

func (r *Repository) executeTrade(ctx context.Context, fn func(ctx context.Context, tx request.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	if err = fn(ctx, &tradeTx{tx: tx}); err != nil {
		if errRollback := tx.Rollback(ctx); errRollback != nil && !errors.Is(errRollback, pgx.ErrTxClosed) {
			log.Error(errRollback)
		}
		return err
	}
	return tx.Commit(ctx)
}

func serializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// Balance returns the cash of a user. A user without a balance record has the
// seed balance
func (r *Repository) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return getBalance(ctx, r.pool, userID)
}

// Holding returns the position of a user in one symbol, or nil if there is none
func (r *Repository) Holding(ctx context.Context, userID, symbol string) (*model.Holding, error) {
	return getHolding(ctx, r.pool, userID, symbol)
}

// Holdings returns all positions of a user
func (r *Repository) Holdings(ctx context.Context, userID string) ([]*model.Holding, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT symbol, asset_type, quantity::text, average_cost::text FROM holdings WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*model.Holding
	for rows.Next() {
		var assetType, quantity, averageCost string
		holding := model.Holding{UserID: userID}
		if err = rows.Scan(&holding.Symbol, &assetType, &quantity, &averageCost); err != nil {
			return nil, err
		}
		holding.AssetType = model.AssetType(assetType)
		if holding.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, err
		}
		if holding.AverageCost, err = decimal.NewFromString(averageCost); err != nil {
			return nil, err
		}
		holdings = append(holdings, &holding)
	}
	return holdings, rows.Err()
}

// Transactions returns the newest transactions of a user, newest first
func (r *Repository) Transactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, symbol, asset_type, side, quantity::text, price::text, total::text, created_at "+
			"FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		var assetType, side, quantity, price, total string
		transaction := model.Transaction{UserID: userID}
		err = rows.Scan(&transaction.ID, &transaction.Symbol, &assetType, &side, &quantity, &price, &total, &transaction.CreatedAt)
		if err != nil {
			return nil, err
		}
		transaction.AssetType = model.AssetType(assetType)
		transaction.Side = model.Side(side)
		if transaction.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, err
		}
		if transaction.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if transaction.Total, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		transactions = append(transactions, &transaction)
	}
	return transactions, rows.Err()
}

// tradeTx gives the trade engine a transactional view of the ledger
type tradeTx struct {
	tx pgx.Tx
}

func (t *tradeTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return getBalance(ctx, t.tx, userID)
}

func (t *tradeTx) Holding(ctx context.Context, userID, symbol string) (*model.Holding, error) {
	return getHolding(ctx, t.tx, userID, symbol)
}

func (t *tradeTx) SaveBalance(ctx context.Context, userID string, cash decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO balances (user_id, cash) VALUES ($1, $2) "+
			"ON CONFLICT (user_id) DO UPDATE SET cash = EXCLUDED.cash",
		userID, cash.String())
	return err
}

func (t *tradeTx) UpsertHolding(ctx context.Context, holding *model.Holding) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO holdings (user_id, symbol, asset_type, quantity, average_cost) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (user_id, symbol) DO UPDATE SET quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost",
		holding.UserID, holding.Symbol, string(holding.AssetType), holding.Quantity.String(), holding.AverageCost.String())
	return err
}

func (t *tradeTx) DeleteHolding(ctx context.Context, userID, symbol string) error {
	_, err := t.tx.Exec(ctx, "DELETE FROM holdings WHERE user_id = $1 AND symbol = $2", userID, symbol)
	return err
}

func (t *tradeTx) AppendTransaction(ctx context.Context, transaction *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO transactions (id, user_id, symbol, asset_type, side, quantity, price, total, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		transaction.ID, transaction.UserID, transaction.Symbol, string(transaction.AssetType), string(transaction.Side),
		transaction.Quantity.String(), transaction.Price.String(), transaction.Total.String(), transaction.CreatedAt)
	return err
}

func getBalance(ctx context.Context, q querier, userID string) (decimal.Decimal, error) {
	var cash string
	err := q.QueryRow(ctx, "SELECT cash::text FROM balances WHERE user_id = $1", userID).Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SeedCash, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(cash)
}

func getHolding(ctx context.Context, q querier, userID, symbol string) (*model.Holding, error) {
	var assetType, quantity, averageCost string
	err := q.QueryRow(ctx,
		"SELECT asset_type, quantity::text, average_cost::text FROM holdings WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&assetType, &quantity, &averageCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	holding := model.Holding{UserID: userID, Symbol: symbol, AssetType: model.AssetType(assetType)}
	if holding.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	if holding.AverageCost, err = decimal.NewFromString(averageCost); err != nil {
		return nil, err
	}
	return &holding, nil
}
