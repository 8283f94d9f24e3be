// Package service have business logic
package service

import (
	"github.com/chucky-1/papertrade/internal/model"
	"github.com/chucky-1/papertrade/internal/request"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Errors of the trade engine. Every one of them aborts the trade before any
// state is committed
var (
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrInsufficientFunds    = errors.New("insufficient virtual balance")
	ErrNoPosition           = errors.New("no position to sell")
	ErrInsufficientPosition = errors.New("sell quantity exceeds holdings")
)

// Service implements business logic
type Service struct {
	store  request.Store
	oracle request.PriceOracle
	quotes request.PriceOracle // cached, snapshot only

	muUsers sync.Mutex
	users   map[string]*sync.Mutex
}

// NewService is constructor. oracle is used for trades and always quotes
// fresh; quotes may serve cached prices and is used for snapshots
func NewService(store request.Store, oracle, quotes request.PriceOracle) *Service {
	return &Service{
		store:  store,
		oracle: oracle,
		quotes: quotes,
		users:  make(map[string]*sync.Mutex),
	}
}

// Buy executes a market buy: debits cash, upserts the holding with a new
// weighted average cost and appends a BUY transaction, all atomically
func (s *Service) Buy(ctx context.Context, r *request.Trade) (*request.TradeResult, error) {
	quantity, err := parseQuantity(r.Quantity)
	if err != nil {
		return nil, err
	}
	symbol := normalize(r.Symbol)

	price, err := s.oracle.GetPrice(ctx, symbol, r.AssetType)
	if err != nil {
		return nil, err
	}
	totalCost := price.Mul(quantity)

	mu := s.userLock(r.UserID)
	mu.Lock()
	defer mu.Unlock()

	var newCash decimal.Decimal
	err = s.store.ExecuteTrade(ctx, r.UserID, func(ctx context.Context, tx request.Tx) error {
		cash, err := tx.Balance(ctx, r.UserID)
		if err != nil {
			return err
		}
		if cash.LessThan(totalCost) {
			return ErrInsufficientFunds
		}
		newCash = cash.Sub(totalCost)
		if err = tx.SaveBalance(ctx, r.UserID, newCash); err != nil {
			return err
		}

		holding, err := tx.Holding(ctx, r.UserID, symbol)
		if err != nil {
			return err
		}
		if holding == nil {
			holding = &model.Holding{
				UserID:      r.UserID,
				Symbol:      symbol,
				AssetType:   r.AssetType,
				Quantity:    quantity,
				AverageCost: price,
			}
		} else {
			holding.AverageCost = weightedAverage(holding.Quantity, holding.AverageCost, quantity, price)
			holding.Quantity = holding.Quantity.Add(quantity)
		}
		if err = tx.UpsertHolding(ctx, holding); err != nil {
			return err
		}

		return tx.AppendTransaction(ctx, &model.Transaction{
			ID:        uuid.New().String(),
			UserID:    r.UserID,
			Symbol:    symbol,
			AssetType: r.AssetType,
			Side:      model.SideBuy,
			Quantity:  quantity,
			Price:     price,
			Total:     totalCost,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("user %s bought %s %s at %s", r.UserID, quantity, symbol, price)
	return &request.TradeResult{Message: "Purchase completed", Balance: newCash.StringFixed(2)}, nil
}

// Sell executes a market sell: credits cash, shrinks or deletes the holding
// and appends a SELL transaction, all atomically. The position is checked
// before the price fetch so a doomed sell fails without an external call
func (s *Service) Sell(ctx context.Context, r *request.Trade) (*request.TradeResult, error) {
	quantity, err := parseQuantity(r.Quantity)
	if err != nil {
		return nil, err
	}
	symbol := normalize(r.Symbol)

	holding, err := s.store.Holding(ctx, r.UserID, symbol)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		return nil, ErrNoPosition
	}
	if holding.Quantity.LessThan(quantity) {
		return nil, ErrInsufficientPosition
	}

	price, err := s.oracle.GetPrice(ctx, symbol, r.AssetType)
	if err != nil {
		return nil, err
	}
	proceeds := price.Mul(quantity)

	mu := s.userLock(r.UserID)
	mu.Lock()
	defer mu.Unlock()

	var newCash decimal.Decimal
	err = s.store.ExecuteTrade(ctx, r.UserID, func(ctx context.Context, tx request.Tx) error {
		// The position is validated again inside the transaction so the
		// commit observes a consistent prior state
		holding, err := tx.Holding(ctx, r.UserID, symbol)
		if err != nil {
			return err
		}
		if holding == nil {
			return ErrNoPosition
		}
		if holding.Quantity.LessThan(quantity) {
			return ErrInsufficientPosition
		}

		cash, err := tx.Balance(ctx, r.UserID)
		if err != nil {
			return err
		}
		newCash = cash.Add(proceeds)
		if err = tx.SaveBalance(ctx, r.UserID, newCash); err != nil {
			return err
		}

		remaining := holding.Quantity.Sub(quantity)
		if remaining.LessThanOrEqual(decimal.Zero) {
			if err = tx.DeleteHolding(ctx, r.UserID, symbol); err != nil {
				return err
			}
		} else {
			// averageCost stays as it was, realized profit is not tracked
			holding.Quantity = remaining
			if err = tx.UpsertHolding(ctx, holding); err != nil {
				return err
			}
		}

		return tx.AppendTransaction(ctx, &model.Transaction{
			ID:        uuid.New().String(),
			UserID:    r.UserID,
			Symbol:    symbol,
			AssetType: r.AssetType,
			Side:      model.SideSell,
			Quantity:  quantity,
			Price:     price,
			Total:     proceeds,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("user %s sold %s %s at %s", r.UserID, quantity, symbol, price)
	return &request.TradeResult{Message: "Sale completed", Balance: newCash.StringFixed(2)}, nil
}

// Snapshot values the whole portfolio at current prices. A failed quote
// degrades that position's price to zero instead of failing the snapshot
func (s *Service) Snapshot(ctx context.Context, userID string) (*request.Snapshot, error) {
	holdings, err := s.store.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}
	cash, err := s.store.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions := make([]request.Position, 0, len(holdings))
	holdingsValue := decimal.Zero
	for _, holding := range holdings {
		price, err := s.quotes.GetPrice(ctx, holding.Symbol, holding.AssetType)
		if err != nil {
			log.Warnf("quote for %s failed: %v", holding.Symbol, err)
			price = decimal.Zero
		}
		value := price.Mul(holding.Quantity)
		holdingsValue = holdingsValue.Add(value)
		positions = append(positions, request.Position{
			Symbol:      holding.Symbol,
			AssetType:   string(holding.AssetType),
			Quantity:    holding.Quantity.StringFixed(8),
			AverageCost: holding.AverageCost.StringFixed(8),
			Price:       price.StringFixed(2),
			Value:       value.StringFixed(2),
		})
	}

	return &request.Snapshot{
		Cash:           cash.StringFixed(2),
		HoldingsValue:  holdingsValue.StringFixed(2),
		PortfolioValue: cash.Add(holdingsValue).StringFixed(2),
		Positions:      positions,
	}, nil
}

// RecentTransactions returns the transaction log of a user, newest first
func (s *Service) RecentTransactions(ctx context.Context, userID string, limit int) ([]request.TransactionView, error) {
	transactions, err := s.store.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]request.TransactionView, 0, len(transactions))
	for _, transaction := range transactions {
		views = append(views, request.TransactionView{
			Symbol:    transaction.Symbol,
			AssetType: string(transaction.AssetType),
			Side:      string(transaction.Side),
			Quantity:  transaction.Quantity.StringFixed(8),
			Price:     transaction.Price.StringFixed(2),
			Total:     transaction.Total.StringFixed(2),
			CreatedAt: transaction.CreatedAt.Format(time.RFC3339),
		})
	}
	return views, nil
}

// userLock serializes trades of one user within this instance
func (s *Service) userLock(userID string) *sync.Mutex {
	s.muUsers.Lock()
	defer s.muUsers.Unlock()
	mu, ok := s.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.users[userID] = mu
	}
	return mu
}

func parseQuantity(raw string) (decimal.Decimal, error) {
	quantity, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !quantity.IsPositive() {
		return decimal.Decimal{}, ErrInvalidQuantity
	}
	return quantity, nil
}

// normalize returns the canonical uppercase form of a symbol
func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// weightedAverage returns the average cost per unit after buying quantity
// more units at price
func weightedAverage(existingQty, existingAvg, quantity, price decimal.Decimal) decimal.Decimal {
	total := existingAvg.Mul(existingQty).Add(price.Mul(quantity))
	return total.Div(existingQty.Add(quantity))
}
