package service

import (
	"context"
	"errors"

	"stockfolio/internal/cache"
	"stockfolio/internal/market"
	"stockfolio/internal/metrics"

	"github.com/sirupsen/logrus"
)

// QuoteSource is satisfied by market.QuoteChain.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

type PriceProvider interface {
	CurrentPrice(ctx context.Context, symbol string) (market.Quote, error)
}

// PriceService answers from the quote cache and only asks the upstream
// chain on a miss. Failed lookups are not cached.
type PriceService struct {
	quotes QuoteSource
	cache  cache.Cache[market.Quote]
	log    *logrus.Logger
}

func NewPriceService(q QuoteSource, c cache.Cache[market.Quote], log *logrus.Logger) *PriceService {
	return &PriceService{quotes: q, cache: c, log: log}
}

func (p *PriceService) CurrentPrice(ctx context.Context, symbol string) (market.Quote, error) {
	if q, ok := p.cache.Get(ctx, symbol); ok {
		metrics.RecordPriceLookup("cache", "hit")
		return q, nil
	}

	q, err := p.quotes.Quote(ctx, symbol)
	if err != nil {
		outcome := "error"
		if errors.Is(err, market.ErrUnavailable) {
			outcome = "unavailable"
		}
		metrics.RecordPriceLookup("none", outcome)
		return market.Quote{}, err
	}
	metrics.RecordPriceLookup(q.Source, "ok")
	p.cache.Set(ctx, symbol, q)
	return q, nil
}
