package service

import (
	"github.com/chucky-1/papertrade/internal/model"
	"github.com/chucky-1/papertrade/internal/oracle"
	"github.com/chucky-1/papertrade/internal/request"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"context"
	"errors"
	"sort"
	"testing"
)

type fakeOracle struct {
	prices map[string]string
	calls  int
}

func (f *fakeOracle) GetPrice(_ context.Context, symbol string, _ model.AssetType) (decimal.Decimal, error) {
	f.calls++
	raw, ok := f.prices[symbol]
	if !ok {
		return decimal.Decimal{}, oracle.ErrPriceUnavailable
	}
	return decimal.RequireFromString(raw), nil
}

// fakeStore keeps the ledger in memory. ExecuteTrade stages fn on a copy and
// publishes it only on success, mirroring the transactional contract
type fakeStore struct {
	balances     map[string]decimal.Decimal
	holdings     map[string]*model.Holding // key userID|symbol
	transactions []*model.Transaction
	failAppend   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[string]decimal.Decimal),
		holdings: make(map[string]*model.Holding),
	}
}

func holdingKey(userID, symbol string) string {
	return userID + "|" + symbol
}

func (f *fakeStore) clone() *fakeStore {
	c := newFakeStore()
	c.failAppend = f.failAppend
	for k, v := range f.balances {
		c.balances[k] = v
	}
	for k, v := range f.holdings {
		holding := *v
		c.holdings[k] = &holding
	}
	c.transactions = append(c.transactions, f.transactions...)
	return c
}

func (f *fakeStore) ExecuteTrade(ctx context.Context, _ string, fn func(context.Context, request.Tx) error) error {
	staged := f.clone()
	if err := fn(ctx, staged); err != nil {
		return err
	}
	f.balances = staged.balances
	f.holdings = staged.holdings
	f.transactions = staged.transactions
	return nil
}

func (f *fakeStore) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	cash, ok := f.balances[userID]
	if !ok {
		return model.SeedCash, nil
	}
	return cash, nil
}

func (f *fakeStore) Holding(_ context.Context, userID, symbol string) (*model.Holding, error) {
	holding, ok := f.holdings[holdingKey(userID, symbol)]
	if !ok {
		return nil, nil
	}
	copied := *holding
	return &copied, nil
}

func (f *fakeStore) Holdings(_ context.Context, userID string) ([]*model.Holding, error) {
	var holdings []*model.Holding
	for _, holding := range f.holdings {
		if holding.UserID == userID {
			copied := *holding
			holdings = append(holdings, &copied)
		}
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Symbol < holdings[j].Symbol
	})
	return holdings, nil
}

func (f *fakeStore) Transactions(_ context.Context, userID string, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	for i := len(f.transactions) - 1; i >= 0 && len(transactions) < limit; i-- {
		if f.transactions[i].UserID == userID {
			transactions = append(transactions, f.transactions[i])
		}
	}
	return transactions, nil
}

func (f *fakeStore) SaveBalance(_ context.Context, userID string, cash decimal.Decimal) error {
	f.balances[userID] = cash
	return nil
}

func (f *fakeStore) UpsertHolding(_ context.Context, holding *model.Holding) error {
	copied := *holding
	f.holdings[holdingKey(holding.UserID, holding.Symbol)] = &copied
	return nil
}

func (f *fakeStore) DeleteHolding(_ context.Context, userID, symbol string) error {
	delete(f.holdings, holdingKey(userID, symbol))
	return nil
}

func (f *fakeStore) AppendTransaction(_ context.Context, transaction *model.Transaction) error {
	if f.failAppend {
		return errors.New("append failed")
	}
	f.transactions = append(f.transactions, transaction)
	return nil
}

func TestService_BuySellLifecycle(t *testing.T) {
	store := newFakeStore()
	orc := &fakeOracle{prices: map[string]string{"AAPL": "185.92"}}
	srv := NewService(store, orc, orc)
	ctx := context.Background()

	// First buy seeds the balance and creates the holding
	result, err := srv.Buy(ctx, &request.Trade{UserID: "u1", Symbol: "aapl", Quantity: "10", AssetType: model.AssetStock})
	assert.NoError(t, err)
	assert.Equal(t, "Purchase completed", result.Message)
	assert.Equal(t, "98140.80", result.Balance)

	holding := store.holdings[holdingKey("u1", "AAPL")]
	assert.NotNil(t, holding)
	assert.True(t, holding.Quantity.Equal(decimal.RequireFromString("10")))
	assert.True(t, holding.AverageCost.Equal(decimal.RequireFromString("185.92")))
	assert.Len(t, store.transactions, 1)
	assert.Equal(t, model.SideBuy, store.transactions[0].Side)
	assert.True(t, store.transactions[0].Total.Equal(decimal.RequireFromString("1859.20")))

	// Second buy at a new price recomputes the weighted average
	orc.prices["AAPL"] = "190.00"
	result, err = srv.Buy(ctx, &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "5", AssetType: model.AssetStock})
	assert.NoError(t, err)
	assert.Equal(t, "97190.80", result.Balance)

	holding = store.holdings[holdingKey("u1", "AAPL")]
	assert.True(t, holding.Quantity.Equal(decimal.RequireFromString("15")))
	assert.True(t, holding.AverageCost.Equal(decimal.RequireFromString("187.28")))

	// Selling the whole position deletes the holding record
	orc.prices["AAPL"] = "200.00"
	result, err = srv.Sell(ctx, &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "15", AssetType: model.AssetStock})
	assert.NoError(t, err)
	assert.Equal(t, "Sale completed", result.Message)
	assert.Equal(t, "100190.80", result.Balance)

	assert.Nil(t, store.holdings[holdingKey("u1", "AAPL")])
	assert.Len(t, store.transactions, 3)
	assert.Equal(t, model.SideSell, store.transactions[2].Side)
	assert.True(t, store.transactions[2].Total.Equal(decimal.RequireFromString("3000.00")))
}

func TestService_Buy_InvalidQuantity(t *testing.T) {
	testTable := []struct {
		name     string
		quantity string
	}{
		{name: "negative", quantity: "-5"},
		{name: "zero", quantity: "0"},
		{name: "unparseable", quantity: "ten"},
		{name: "empty", quantity: ""},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			store := newFakeStore()
			orc := &fakeOracle{prices: map[string]string{"AAPL": "185.92"}}
			srv := NewService(store, orc, orc)

			_, err := srv.Buy(context.Background(), &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: testCase.quantity, AssetType: model.AssetStock})
			assert.ErrorIs(t, err, ErrInvalidQuantity)
			assert.Equal(t, 0, orc.calls, "oracle must not be called for an invalid quantity")
			assert.Empty(t, store.transactions)
		})
	}
}

func TestService_Buy_PriceUnavailable(t *testing.T) {
	store := newFakeStore()
	orc := &fakeOracle{prices: map[string]string{}}
	srv := NewService(store, orc, orc)

	_, err := srv.Buy(context.Background(), &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "10", AssetType: model.AssetStock})
	assert.ErrorIs(t, err, oracle.ErrPriceUnavailable)

	// Nothing may change when the oracle fails
	assert.Empty(t, store.balances)
	assert.Empty(t, store.holdings)
	assert.Empty(t, store.transactions)
}

func TestService_Buy_InsufficientFunds(t *testing.T) {
	store := newFakeStore()
	orc := &fakeOracle{prices: map[string]string{"AAPL": "185.92"}}
	srv := NewService(store, orc, orc)

	_, err := srv.Buy(context.Background(), &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "1000", AssetType: model.AssetStock})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, store.balances)
	assert.Empty(t, store.holdings)
	assert.Empty(t, store.transactions)
}

func TestService_Buy_CommitFailureRollsBack(t *testing.T) {
	store := newFakeStore()
	store.failAppend = true
	orc := &fakeOracle{prices: map[string]string{"AAPL": "185.92"}}
	srv := NewService(store, orc, orc)

	_, err := srv.Buy(context.Background(), &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "10", AssetType: model.AssetStock})
	assert.Error(t, err)

	// The staged debit and holding must not leak out of the failed commit
	assert.Empty(t, store.balances)
	assert.Empty(t, store.holdings)
	assert.Empty(t, store.transactions)
}

func TestService_Sell_NoPosition(t *testing.T) {
	store := newFakeStore()
	orc := &fakeOracle{prices: map[string]string{"TSLA": "248.45"}}
	srv := NewService(store, orc, orc)

	_, err := srv.Sell(context.Background(), &request.Trade{UserID: "u1", Symbol: "TSLA", Quantity: "1", AssetType: model.AssetStock})
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Equal(t, 0, orc.calls, "position check happens before the price fetch")
	assert.Empty(t, store.balances)
	assert.Empty(t, store.transactions)
}

func TestService_Sell_InsufficientPosition(t *testing.T) {
	store := newFakeStore()
	store.holdings[holdingKey("u1", "AAPL")] = &model.Holding{
		UserID:      "u1",
		Symbol:      "AAPL",
		AssetType:   model.AssetStock,
		Quantity:    decimal.RequireFromString("3"),
		AverageCost: decimal.RequireFromString("185.92"),
	}
	orc := &fakeOracle{prices: map[string]string{"AAPL": "200.00"}}
	srv := NewService(store, orc, orc)

	_, err := srv.Sell(context.Background(), &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "5", AssetType: model.AssetStock})
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	assert.Equal(t, 0, orc.calls)
	assert.Empty(t, store.transactions)
}

func TestService_Sell_PartialKeepsAverageCost(t *testing.T) {
	store := newFakeStore()
	store.holdings[holdingKey("u1", "BINANCE:BTCUSDT")] = &model.Holding{
		UserID:      "u1",
		Symbol:      "BINANCE:BTCUSDT",
		AssetType:   model.AssetCrypto,
		Quantity:    decimal.RequireFromString("0.5"),
		AverageCost: decimal.RequireFromString("60000"),
	}
	orc := &fakeOracle{prices: map[string]string{"BINANCE:BTCUSDT": "64000"}}
	srv := NewService(store, orc, orc)

	result, err := srv.Sell(context.Background(), &request.Trade{UserID: "u1", Symbol: "BINANCE:BTCUSDT", Quantity: "0.2", AssetType: model.AssetCrypto})
	assert.NoError(t, err)
	assert.Equal(t, "112800.00", result.Balance)

	holding := store.holdings[holdingKey("u1", "BINANCE:BTCUSDT")]
	assert.NotNil(t, holding)
	assert.True(t, holding.Quantity.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, holding.AverageCost.Equal(decimal.RequireFromString("60000")))
}

func TestService_Snapshot(t *testing.T) {
	store := newFakeStore()
	store.balances["u1"] = decimal.RequireFromString("97190.80")
	store.holdings[holdingKey("u1", "AAPL")] = &model.Holding{
		UserID:      "u1",
		Symbol:      "AAPL",
		AssetType:   model.AssetStock,
		Quantity:    decimal.RequireFromString("15"),
		AverageCost: decimal.RequireFromString("187.28"),
	}
	store.holdings[holdingKey("u1", "BINANCE:BTCUSDT")] = &model.Holding{
		UserID:      "u1",
		Symbol:      "BINANCE:BTCUSDT",
		AssetType:   model.AssetCrypto,
		Quantity:    decimal.RequireFromString("0.12345678"),
		AverageCost: decimal.RequireFromString("60000"),
	}
	quotes := &fakeOracle{prices: map[string]string{"AAPL": "200.00"}} // no crypto quote
	srv := NewService(store, &fakeOracle{}, quotes)

	snapshot, err := srv.Snapshot(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Equal(t, "97190.80", snapshot.Cash)
	assert.Equal(t, "3000.00", snapshot.HoldingsValue)
	assert.Equal(t, "100190.80", snapshot.PortfolioValue)
	assert.Len(t, snapshot.Positions, 2)

	assert.Equal(t, "AAPL", snapshot.Positions[0].Symbol)
	assert.Equal(t, "15.00000000", snapshot.Positions[0].Quantity)
	assert.Equal(t, "200.00", snapshot.Positions[0].Price)
	assert.Equal(t, "3000.00", snapshot.Positions[0].Value)

	// The missing quote degrades this position to a zero price, the
	// snapshot itself still succeeds
	assert.Equal(t, "BINANCE:BTCUSDT", snapshot.Positions[1].Symbol)
	assert.Equal(t, "0.12345678", snapshot.Positions[1].Quantity)
	assert.Equal(t, "0.00", snapshot.Positions[1].Price)
	assert.Equal(t, "0.00", snapshot.Positions[1].Value)
}

func TestService_Snapshot_Empty(t *testing.T) {
	srv := NewService(newFakeStore(), &fakeOracle{}, &fakeOracle{})

	snapshot, err := srv.Snapshot(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Equal(t, "100000.00", snapshot.Cash)
	assert.Equal(t, "0.00", snapshot.HoldingsValue)
	assert.Equal(t, "100000.00", snapshot.PortfolioValue)
	assert.Empty(t, snapshot.Positions)
}

func TestService_RecentTransactions(t *testing.T) {
	store := newFakeStore()
	orc := &fakeOracle{prices: map[string]string{"AAPL": "185.92"}}
	srv := NewService(store, orc, orc)
	ctx := context.Background()

	_, err := srv.Buy(ctx, &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "10", AssetType: model.AssetStock})
	assert.NoError(t, err)
	orc.prices["AAPL"] = "190.00"
	_, err = srv.Buy(ctx, &request.Trade{UserID: "u1", Symbol: "AAPL", Quantity: "5", AssetType: model.AssetStock})
	assert.NoError(t, err)

	views, err := srv.RecentTransactions(ctx, "u1", 20)
	assert.NoError(t, err)
	assert.Len(t, views, 2)

	// Newest first
	assert.Equal(t, "190.00", views[0].Price)
	assert.Equal(t, "5.00000000", views[0].Quantity)
	assert.Equal(t, "950.00", views[0].Total)
	assert.Equal(t, "BUY", views[0].Side)
	assert.Equal(t, "185.92", views[1].Price)

	views, err = srv.RecentTransactions(ctx, "u1", 1)
	assert.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestService_weightedAverage(t *testing.T) {
	testTable := []struct {
		name        string
		existingQty string
		existingAvg string
		quantity    string
		price       string
		expect      string
	}{
		{
			name:        "same price keeps the average",
			existingQty: "10",
			existingAvg: "100",
			quantity:    "10",
			price:       "100",
			expect:      "100",
		},
		{
			name:        "higher price pulls the average up",
			existingQty: "10",
			existingAvg: "185.92",
			quantity:    "5",
			price:       "190.00",
			expect:      "187.28",
		},
		{
			name:        "fractional quantities",
			existingQty: "0.5",
			existingAvg: "60000",
			quantity:    "0.5",
			price:       "64000",
			expect:      "62000",
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			avg := weightedAverage(
				decimal.RequireFromString(testCase.existingQty),
				decimal.RequireFromString(testCase.existingAvg),
				decimal.RequireFromString(testCase.quantity),
				decimal.RequireFromString(testCase.price),
			)
			assert.True(t, avg.Equal(decimal.RequireFromString(testCase.expect)),
				"expected %s, got %s", testCase.expect, avg)
		})
	}
}

func TestService_normalize(t *testing.T) {
	assert.Equal(t, "AAPL", normalize(" aapl "))
	assert.Equal(t, "BINANCE:BTCUSDT", normalize("binance:btcusdt"))
}
