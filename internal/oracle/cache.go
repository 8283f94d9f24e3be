package oracle

import (
	"fmt"
	"time"

	"github.com/chucky-1/papertrade/internal/model"
	"github.com/chucky-1/papertrade/internal/request"
	"github.com/go-redis/cache/v8"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"context"
)

// Cached serves quotes from redis with a short TTL. The portfolio snapshot
// reads through it; trades always use the inner oracle directly
type Cached struct {
	inner request.PriceOracle
	cache *cache.Cache
	ttl   time.Duration
}

// NewCached is constructor
func NewCached(inner request.PriceOracle, cache *cache.Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl}
}

// GetPrice returns a cached unit price, falling through to the inner oracle
func (c *Cached) GetPrice(ctx context.Context, symbol string, assetType model.AssetType) (decimal.Decimal, error) {
	key := fmt.Sprint("quote:", assetType, ":", symbol)

	getCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	var cached string
	if err := c.cache.Get(getCtx, key, &cached); err == nil {
		price, err := decimal.NewFromString(cached)
		if err == nil {
			return price, nil
		}
	}

	price, err := c.inner.GetPrice(ctx, symbol, assetType)
	if err != nil {
		return decimal.Decimal{}, err
	}

	setCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err = c.cache.Set(&cache.Item{
		Ctx:   setCtx,
		Key:   key,
		Value: price.String(),
		TTL:   c.ttl,
	})
	if err != nil {
		log.Error(err)
	}
	return price, nil
}
