// Package server implements the http side of the application
package server

import (
	"github.com/chucky-1/papertrade/internal/model"
	"github.com/chucky-1/papertrade/internal/oracle"
	"github.com/chucky-1/papertrade/internal/request"
	"github.com/chucky-1/papertrade/internal/service"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const (
	userKey        = "userID"
	userHeader     = "X-User-ID"
	defaultTxLimit = 20
	maxTxLimit     = 100
)

// Trader is the ledger core the server exposes
type Trader interface {
	Buy(ctx context.Context, r *request.Trade) (*request.TradeResult, error)
	Sell(ctx context.Context, r *request.Trade) (*request.TradeResult, error)
	Snapshot(ctx context.Context, userID string) (*request.Snapshot, error)
	RecentTransactions(ctx context.Context, userID string, limit int) ([]request.TransactionView, error)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tradeRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Quantity  string `json:"quantity" binding:"required"`
	AssetType string `json:"assetType"`
}

type tradeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Balance string `json:"balance"`
}

// Server routes trade, portfolio and transaction requests to the trader
type Server struct {
	router *gin.Engine
	trader Trader
}

// New wires the router and middleware
func New(trader Trader) *Server {
	s := &Server{router: gin.New(), trader: trader}
	s.router.Use(logging(), gin.Recovery())

	api := s.router.Group("/api", identity())
	api.POST("/trade/buy", s.buy)
	api.POST("/trade/sell", s.sell)
	api.GET("/portfolio", s.portfolio)
	api.GET("/transactions", s.transactions)

	s.router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return s
}

// Run starts the http listener
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler returns the underlying http handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buy(c *gin.Context) {
	s.trade(c, s.trader.Buy, "Failed to complete purchase")
}

func (s *Server) sell(c *gin.Context) {
	s.trade(c, s.trader.Sell, "Failed to complete sale")
}

func (s *Server) trade(c *gin.Context, exec func(context.Context, *request.Trade) (*request.TradeResult, error), failure string) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	assetType, ok := assetTypeOf(req.AssetType)
	if !ok {
		c.JSON(http.StatusBadRequest, apiError{Code: "INVALID_ASSET_TYPE", Message: "assetType must be stock or crypto"})
		return
	}

	result, err := exec(c.Request.Context(), &request.Trade{
		UserID:    c.GetString(userKey),
		Symbol:    req.Symbol,
		Quantity:  req.Quantity,
		AssetType: assetType,
	})
	if err != nil {
		tradeError(c, err, failure)
		return
	}
	c.JSON(http.StatusOK, tradeResponse{Success: true, Message: result.Message, Balance: result.Balance})
}

func tradeError(c *gin.Context, err error, failure string) {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, apiError{Code: "INVALID_QUANTITY", Message: "Quantity must be greater than zero"})
	case errors.Is(err, service.ErrInsufficientFunds):
		c.JSON(http.StatusConflict, apiError{Code: "INSUFFICIENT_FUNDS", Message: "Insufficient virtual balance"})
	case errors.Is(err, service.ErrNoPosition):
		c.JSON(http.StatusConflict, apiError{Code: "NO_POSITION", Message: "No position to sell"})
	case errors.Is(err, service.ErrInsufficientPosition):
		c.JSON(http.StatusConflict, apiError{Code: "INSUFFICIENT_POSITION", Message: "Sell quantity exceeds holdings"})
	case errors.Is(err, oracle.ErrPriceUnavailable):
		c.JSON(http.StatusBadGateway, apiError{Code: "PRICE_UNAVAILABLE", Message: "Price unavailable"})
	default:
		log.Error(err)
		c.JSON(http.StatusInternalServerError, apiError{Code: "TRADE_FAILED", Message: failure})
	}
}

func (s *Server) portfolio(c *gin.Context) {
	snapshot, err := s.trader.Snapshot(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		log.Error(err)
		c.JSON(http.StatusInternalServerError, apiError{Code: "SNAPSHOT_FAILED", Message: "Failed to build portfolio"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) transactions(c *gin.Context) {
	limit := defaultTxLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, apiError{Code: "BAD_REQUEST", Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxTxLimit {
		limit = maxTxLimit
	}

	transactions, err := s.trader.RecentTransactions(c.Request.Context(), c.GetString(userKey), limit)
	if err != nil {
		log.Error(err)
		c.JSON(http.StatusInternalServerError, apiError{Code: "TRANSACTIONS_FAILED", Message: "Failed to load transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": transactions})
}

func assetTypeOf(raw string) (model.AssetType, bool) {
	switch raw {
	case "", string(model.AssetStock):
		return model.AssetStock, true
	case string(model.AssetCrypto):
		return model.AssetCrypto, true
	default:
		return "", false
	}
}

// identity trusts the user id resolved by the fronting application
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Code: "UNAUTHORIZED", Message: "missing user identity"})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

func logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Info("http request")
	}
}
