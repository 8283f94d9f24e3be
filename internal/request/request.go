// Package request has request structs and the interfaces between the layers
package request

import (
	"context"

	"github.com/chucky-1/papertrade/internal/model"
	"github.com/shopspring/decimal"
)

// Trade stores parameters of a buy or sell order
type Trade struct {
	UserID    string
	Symbol    string
	Quantity  string
	AssetType model.AssetType
}

// TradeResult is returned for a committed trade
type TradeResult struct {
	Message string
	Balance string // new cash balance, two decimal places
}

// Position is one holding enriched with a live price
type Position struct {
	Symbol      string `json:"symbol"`
	AssetType   string `json:"assetType"`
	Quantity    string `json:"quantity"`
	AverageCost string `json:"averageCost"`
	Price       string `json:"price"`
	Value       string `json:"value"`
}

// Snapshot is the valuation of a whole portfolio
type Snapshot struct {
	Cash           string     `json:"cash"`
	HoldingsValue  string     `json:"holdingsValue"`
	PortfolioValue string     `json:"portfolioValue"`
	Positions      []Position `json:"positions"`
}

// TransactionView is one transaction-log record formatted for the caller
type TransactionView struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetType"`
	Side      string `json:"side"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Total     string `json:"total"`
	CreatedAt string `json:"createdAt"`
}

// PriceOracle returns the current unit price of a symbol
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string, assetType model.AssetType) (decimal.Decimal, error)
}

// Tx is the view of the ledger inside one atomic trade commit
type Tx interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Holding(ctx context.Context, userID, symbol string) (*model.Holding, error)
	SaveBalance(ctx context.Context, userID string, cash decimal.Decimal) error
	UpsertHolding(ctx context.Context, holding *model.Holding) error
	DeleteHolding(ctx context.Context, userID, symbol string) error
	AppendTransaction(ctx context.Context, transaction *model.Transaction) error
}

// Store is the persistent state of the ledger. ExecuteTrade applies fn as one
// atomic unit: either every write fn makes is visible, or none is
type Store interface {
	ExecuteTrade(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Holding(ctx context.Context, userID, symbol string) (*model.Holding, error)
	Holdings(ctx context.Context, userID string) ([]*model.Holding, error)
	Transactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)
}
