// Package model contains the entities of the ledger
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType selects the quote source for a symbol
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// Side of an executed trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SeedCash is the virtual balance a user has before the first trade is committed
var SeedCash = decimal.RequireFromString("100000.00")

// Balance is the virtual cash of one user. Cash never goes below zero
type Balance struct {
	UserID string
	Cash   decimal.Decimal
}

// Holding is the position of one user in one symbol. The record exists only
// while quantity is greater than zero
type Holding struct {
	UserID      string
	Symbol      string
	AssetType   AssetType
	Quantity    decimal.Decimal
	AverageCost decimal.Decimal
}

// Transaction is one executed trade. Records are append-only
type Transaction struct {
	ID        string
	UserID    string
	Symbol    string
	AssetType AssetType
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
}
