// Package oracle fetches live unit prices for symbols
package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chucky-1/papertrade/internal/model"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"context"
	"errors"
)

// ErrPriceUnavailable is returned when no live quote can be obtained
var ErrPriceUnavailable = errors.New("price unavailable")

// A plain ticker is searched on these exchanges, first quote wins
var stockExchanges = []string{"NASDAQ", "NYSE", "AMEX"}

// Oracle quotes stocks from the TradingView scanner and crypto pairs from Binance
type Oracle struct {
	client     *http.Client
	scannerURL string
	binanceURL string
}

// New is constructor
func New(client *http.Client, scannerURL, binanceURL string) *Oracle {
	return &Oracle{client: client, scannerURL: scannerURL, binanceURL: binanceURL}
}

type scanRequest struct {
	Symbols scanSymbols `json:"symbols"`
	Columns []string    `json:"columns"`
}

type scanSymbols struct {
	Tickers []string  `json:"tickers"`
	Query   scanQuery `json:"query"`
}

type scanQuery struct {
	Types []string `json:"types"`
}

type scanResponse struct {
	Data []scanRow `json:"data"`
}

type scanRow struct {
	Symbol string        `json:"s"`
	Values []json.Number `json:"d"`
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice returns the current unit price of a symbol
func (o *Oracle) GetPrice(ctx context.Context, symbol string, assetType model.AssetType) (decimal.Decimal, error) {
	if assetType == model.AssetCrypto {
		return o.cryptoPrice(ctx, symbol)
	}
	return o.stockPrice(ctx, symbol)
}

func (o *Oracle) stockPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var tickers []string
	if strings.Contains(symbol, ":") {
		tickers = []string{symbol}
	} else {
		for _, exchange := range stockExchanges {
			tickers = append(tickers, fmt.Sprint(exchange, ":", symbol))
		}
	}
	body, err := json.Marshal(&scanRequest{
		Symbols: scanSymbols{Tickers: tickers, Query: scanQuery{Types: []string{}}},
		Columns: []string{"close"},
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.scannerURL+"/global/scan", bytes.NewReader(body))
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("%w: scanner returned %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var result scanResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	for _, row := range result.Data {
		if len(row.Values) == 0 || row.Values[0] == "" {
			continue
		}
		price, err := decimal.NewFromString(row.Values[0].String())
		if err != nil || !price.IsPositive() {
			continue
		}
		return price, nil
	}
	return decimal.Decimal{}, ErrPriceUnavailable
}

// cryptoPrice quotes a pair on Binance. A symbol may carry an exchange
// prefix, for example BINANCE:BTCUSDT
func (o *Oracle) cryptoPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair := symbol
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		pair = symbol[i+1:]
	}

	u := fmt.Sprint(o.binanceURL, "/api/v3/ticker/price?symbol=", url.QueryEscape(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("%w: binance returned %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var result tickerResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	price, err := decimal.NewFromString(result.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, ErrPriceUnavailable
	}
	return price, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Error(err)
	}
}
