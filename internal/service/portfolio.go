package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockfolio/internal/accounting"
	"stockfolio/internal/market"
	"stockfolio/internal/metrics"
	"stockfolio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// HoldingStore is implemented by database.Repo and database.Memory.
type HoldingStore interface {
	ListHoldings(ctx context.Context, owner string) ([]models.Holding, error)
	GetHolding(ctx context.Context, owner, symbol string) (models.Holding, error)
	Mutate(ctx context.Context, owner, symbol string, fn func(prior *models.Holding) (models.Mutation, error)) error
	ListTransactions(ctx context.Context, owner string) ([]models.Transaction, error)
}

const (
	SourceAverageCost = "averageCost"

	valuationConcurrency = 8
)

type PortfolioService struct {
	store  HoldingStore
	prices PriceProvider
	logos  *market.Logos
	now    func() time.Time
	log    *logrus.Logger
}

func NewPortfolioService(store HoldingStore, prices PriceProvider, logos *market.Logos, log *logrus.Logger) *PortfolioService {
	return &PortfolioService{store: store, prices: prices, logos: logos, now: time.Now, log: log}
}

// Position is one row of the portfolio view.
type Position struct {
	models.Holding
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	PriceSource          string          `json:"priceSource"`
	TotalCost            decimal.Decimal `json:"totalCost"`
	CurrentValue         decimal.Decimal `json:"currentValue"`
	UnrealizedPnl        decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnlPercent decimal.Decimal `json:"unrealizedPnlPercent"`
	NetPnl               decimal.Decimal `json:"netPnl"`
	NetPnlPercent        decimal.Decimal `json:"netPnlPercent"`
	Logo                 string          `json:"logo"`
}

type Portfolio struct {
	Stocks  []Position         `json:"stocks"`
	Summary accounting.Summary `json:"summary"`
}

// TradeResult is the outcome of Trade. Holding is nil when a sale closed the
// position.
type TradeResult struct {
	Holding     *models.Holding    `json:"holding,omitempty"`
	Transaction models.Transaction `json:"transaction"`
	RealizedPnl decimal.Decimal    `json:"realizedPnl"`
	Closed      bool               `json:"closed"`
}

func validateTrade(symbol string, units, price decimal.Decimal) (string, error) {
	sym := models.NormalizeSymbol(symbol)
	if !models.ValidSymbol(sym) {
		return "", invalid("Invalid symbol %q", symbol)
	}
	if !units.IsPositive() {
		return "", invalid("Units must be greater than zero")
	}
	if price.IsNegative() {
		return "", invalid("Price must not be negative")
	}
	return sym, nil
}

func tradeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, accounting.ErrInsufficientUnits):
		return "rejected"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Buy opens a position or adds to an existing one.
func (s *PortfolioService) Buy(ctx context.Context, owner, symbol string, units, price decimal.Decimal) (models.Holding, error) {
	sym, err := validateTrade(symbol, units, price)
	if err != nil {
		return models.Holding{}, err
	}

	var out models.Holding
	err = s.store.Mutate(ctx, owner, sym, func(prior *models.Holding) (models.Mutation, error) {
		h, tx := accounting.ApplyBuy(prior, s.trade(owner, sym, units, price))
		out = h
		return models.Mutation{Holding: &h, Transaction: tx}, nil
	})
	metrics.RecordTrade(string(models.Buy), tradeOutcome(err))
	if err != nil {
		s.log.WithFields(logrus.Fields{"owner": owner, "symbol": sym}).Errorf("buy failed: %v", err)
		return models.Holding{}, err
	}
	return out, nil
}

// Trade applies a BUY or SELL to a position that must already exist.
func (s *PortfolioService) Trade(ctx context.Context, owner, symbol string, kind models.Kind, units, price decimal.Decimal) (TradeResult, error) {
	if !kind.Valid() {
		return TradeResult{}, invalid("Invalid action. Must be BUY or SELL.")
	}
	sym, err := validateTrade(symbol, units, price)
	if err != nil {
		return TradeResult{}, err
	}

	var res TradeResult
	err = s.store.Mutate(ctx, owner, sym, func(prior *models.Holding) (models.Mutation, error) {
		if prior == nil {
			return models.Mutation{}, fmt.Errorf("holding %s: %w", sym, models.ErrNotFound)
		}
		t := s.trade(owner, sym, units, price)
		if kind == models.Buy {
			h, tx := accounting.ApplyBuy(prior, t)
			res = TradeResult{Holding: &h, Transaction: tx, RealizedPnl: decimal.Zero}
			return models.Mutation{Holding: &h, Transaction: tx}, nil
		}
		sale, err := accounting.ApplySell(*prior, t)
		if err != nil {
			return models.Mutation{}, err
		}
		res = TradeResult{Transaction: sale.Transaction, RealizedPnl: sale.RealizedPnl, Closed: sale.Closed}
		m := sale.Mutation()
		res.Holding = m.Holding
		return m, nil
	})
	metrics.RecordTrade(string(kind), tradeOutcome(err))
	if err != nil {
		return TradeResult{}, err
	}
	if res.Closed {
		s.log.WithFields(logrus.Fields{"owner": owner, "symbol": sym}).Infof("position closed, realized %s", res.RealizedPnl)
	}
	return res, nil
}

func (s *PortfolioService) trade(owner, symbol string, units, price decimal.Decimal) accounting.Trade {
	return accounting.Trade{Owner: owner, Symbol: symbol, Units: units, Price: price, At: s.now().UTC()}
}

func (s *PortfolioService) Holding(ctx context.Context, owner, symbol string) (models.Holding, error) {
	return s.store.GetHolding(ctx, owner, models.NormalizeSymbol(symbol))
}

// DeleteHolding drops the position and logs a CLOSE entry, so a later
// replay of the log does not fold the discarded units into a new position.
func (s *PortfolioService) DeleteHolding(ctx context.Context, owner, symbol string) error {
	sym := models.NormalizeSymbol(symbol)
	err := s.store.Mutate(ctx, owner, sym, func(prior *models.Holding) (models.Mutation, error) {
		if prior == nil {
			return models.Mutation{}, fmt.Errorf("holding %s: %w", sym, models.ErrNotFound)
		}
		return accounting.ApplyClose(*prior, s.now().UTC()), nil
	})
	metrics.RecordTrade(string(models.Close), tradeOutcome(err))
	return err
}

func (s *PortfolioService) Transactions(ctx context.Context, owner string) ([]models.Transaction, error) {
	return s.store.ListTransactions(ctx, owner)
}

// Portfolio values every holding concurrently. A symbol whose price cannot
// be fetched is valued at its average cost.
func (s *PortfolioService) Portfolio(ctx context.Context, owner string) (Portfolio, error) {
	holdings, err := s.store.ListHoldings(ctx, owner)
	if err != nil {
		return Portfolio{}, err
	}

	positions := make([]Position, len(holdings))
	vals := make([]accounting.Valuation, len(holdings))
	var g errgroup.Group
	g.SetLimit(valuationConcurrency)
	for i, h := range holdings {
		g.Go(func() error {
			price, source := s.priceOrCost(ctx, h)
			vals[i] = accounting.ValueHolding(h, price)
			positions[i] = s.position(h, vals[i], source)
			return nil
		})
	}
	_ = g.Wait()

	return Portfolio{Stocks: positions, Summary: accounting.Summarize(vals)}, nil
}

func (s *PortfolioService) priceOrCost(ctx context.Context, h models.Holding) (decimal.Decimal, string) {
	q, err := s.prices.CurrentPrice(ctx, h.Symbol)
	if err != nil {
		s.log.WithField("symbol", h.Symbol).Warnf("price unavailable, valuing at average cost: %v", err)
		return h.AverageCost, SourceAverageCost
	}
	return q.Price, q.Source
}

func (s *PortfolioService) position(h models.Holding, v accounting.Valuation, source string) Position {
	return Position{
		Holding:              h,
		CurrentPrice:         v.CurrentPrice,
		PriceSource:          source,
		TotalCost:            v.TotalCost,
		CurrentValue:         v.CurrentValue,
		UnrealizedPnl:        v.UnrealizedPnl,
		UnrealizedPnlPercent: v.UnrealizedPnlPercent,
		NetPnl:               v.NetPnl,
		NetPnlPercent:        v.NetPnlPercent,
		Logo:                 s.logos.URL(h.Symbol),
	}
}
