package service

import (
	"context"
	"strings"
	"time"

	"stockfolio/internal/cache"
	"stockfolio/internal/market"
	"stockfolio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	newsWindow   = 60 * 24 * time.Hour
	newsArticles = 6
)

type Searcher interface {
	Search(ctx context.Context, query string) []market.SearchResult
}

type RateSource interface {
	Rate(ctx context.Context, base, target string) (decimal.Decimal, string, error)
}

type NewsSource interface {
	News(ctx context.Context, symbol string, from, to time.Time) ([]market.Article, error)
}

type ExchangeRate struct {
	Rate      decimal.Decimal `json:"rate"`
	Base      string          `json:"base"`
	Target    string          `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
	Fallback  bool            `json:"fallback,omitempty"`
}

// StockDetails is the public single-symbol view.
type StockDetails struct {
	Symbol string        `json:"symbol"`
	Logo   string        `json:"logo"`
	Quote  *market.Quote `json:"quote"`
}

type FXConfig struct {
	Base     string
	Target   string
	Fallback decimal.Decimal
}

// MarketService backs the public lookup endpoints: search, exchange rate,
// news and stock details.
type MarketService struct {
	search      Searcher
	searchCache cache.Cache[[]market.SearchResult]
	rates       RateSource
	rateCache   cache.Cache[ExchangeRate]
	fx          FXConfig
	news        NewsSource
	prices      PriceProvider
	logos       *market.Logos
	now         func() time.Time
	log         *logrus.Logger
}

type MarketDeps struct {
	Search      Searcher
	SearchCache cache.Cache[[]market.SearchResult]
	Rates       RateSource
	RateCache   cache.Cache[ExchangeRate]
	FX          FXConfig
	News        NewsSource
	Prices      PriceProvider
	Logos       *market.Logos
}

func NewMarketService(d MarketDeps, log *logrus.Logger) *MarketService {
	return &MarketService{
		search:      d.Search,
		searchCache: d.SearchCache,
		rates:       d.Rates,
		rateCache:   d.RateCache,
		fx:          d.FX,
		news:        d.News,
		prices:      d.Prices,
		logos:       d.Logos,
		now:         time.Now,
		log:         log,
	}
}

// Search returns at most eight matches for query. Blank queries match nothing.
func (s *MarketService) Search(ctx context.Context, query string) []market.SearchResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return []market.SearchResult{}
	}
	key := strings.ToLower(q)
	if res, ok := s.searchCache.Get(ctx, key); ok {
		return res
	}
	res := s.search.Search(ctx, q)
	if len(res) > 0 {
		s.searchCache.Set(ctx, key, res)
	}
	return res
}

// ExchangeRate never fails: when every upstream is down it answers with the
// configured rate and Fallback set. Fallback answers are not cached.
func (s *MarketService) ExchangeRate(ctx context.Context) ExchangeRate {
	key := s.fx.Base + "/" + s.fx.Target
	if r, ok := s.rateCache.Get(ctx, key); ok {
		return r
	}
	rate, source, err := s.rates.Rate(ctx, s.fx.Base, s.fx.Target)
	if err != nil {
		s.log.Warnf("exchange rate: using fallback %s: %v", s.fx.Fallback, err)
		return ExchangeRate{Rate: s.fx.Fallback, Base: s.fx.Base, Target: s.fx.Target, Timestamp: s.now().UTC(), Fallback: true}
	}
	s.log.Debugf("exchange rate %s from %s", rate, source)
	r := ExchangeRate{Rate: rate, Base: s.fx.Base, Target: s.fx.Target, Timestamp: s.now().UTC()}
	s.rateCache.Set(ctx, key, r)
	return r
}

// News lists up to six articles about symbol from the last 60 days.
func (s *MarketService) News(ctx context.Context, symbol string) ([]market.Article, error) {
	sym := models.NormalizeSymbol(symbol)
	if !models.ValidSymbol(sym) {
		return nil, invalid("Invalid symbol %q", symbol)
	}
	to := s.now().UTC()
	articles, err := s.news.News(ctx, sym, to.Add(-newsWindow), to)
	if err != nil {
		return nil, err
	}
	if len(articles) > newsArticles {
		articles = articles[:newsArticles]
	}
	return articles, nil
}

// Quote prices one symbol for the public endpoints.
func (s *MarketService) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	sym := models.NormalizeSymbol(symbol)
	if !models.ValidSymbol(sym) {
		return market.Quote{}, invalid("Invalid symbol %q", symbol)
	}
	return s.prices.CurrentPrice(ctx, sym)
}

// Details is like Quote but still answers, with a nil quote, when no upstream
// can price the symbol.
func (s *MarketService) Details(ctx context.Context, symbol string) (StockDetails, error) {
	sym := models.NormalizeSymbol(symbol)
	if !models.ValidSymbol(sym) {
		return StockDetails{}, invalid("Invalid symbol %q", symbol)
	}
	d := StockDetails{Symbol: sym, Logo: s.logos.URL(sym)}
	if q, err := s.prices.CurrentPrice(ctx, sym); err == nil {
		d.Quote = &q
	} else {
		s.log.WithField("symbol", sym).Warnf("details quote unavailable: %v", err)
	}
	return d, nil
}
