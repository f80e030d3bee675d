// Package accounting folds buy and sell trades into weighted-average cost
// positions and values them against market prices. Every function here is
// pure: persistence and price lookup belong to the callers.
package accounting

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"stockfolio/internal/models"

	"github.com/shopspring/decimal"
)

var ErrInsufficientUnits = errors.New("insufficient units")

// InsufficientUnitsError is returned by ApplySell when a sale exceeds the
// quantity held.
type InsufficientUnitsError struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientUnitsError) Error() string {
	return fmt.Sprintf("Cannot sell %s units. Only %s available.", e.Requested.String(), e.Available.String())
}

func (e *InsufficientUnitsError) Is(target error) bool { return target == ErrInsufficientUnits }

var hundred = decimal.NewFromInt(100)

// Trade is a single buy or sell request already validated by the caller.
type Trade struct {
	Owner  string
	Symbol string
	Units  decimal.Decimal
	Price  decimal.Decimal
	At     time.Time
}

// Sale is the outcome of ApplySell.
type Sale struct {
	Holding     models.Holding
	Transaction models.Transaction
	RealizedPnl decimal.Decimal
	Closed      bool
}

// Mutation converts the sale into the store's unit of work; a closed
// position carries no holding.
func (s Sale) Mutation() models.Mutation {
	if s.Closed {
		return models.Mutation{Transaction: s.Transaction}
	}
	h := s.Holding
	return models.Mutation{Holding: &h, Transaction: s.Transaction}
}

// ApplyBuy folds a purchase into prior, which may be nil for a first buy.
func ApplyBuy(prior *models.Holding, t Trade) (models.Holding, models.Transaction) {
	if prior == nil {
		h := models.Holding{
			Owner:       t.Owner,
			Symbol:      t.Symbol,
			Quantity:    t.Units,
			AverageCost: t.Price,
			RealizedPnl: decimal.Zero,
			CreatedAt:   t.At,
			UpdatedAt:   t.At,
		}
		return h, record(h, models.Buy, t, decimal.Zero)
	}

	h := *prior
	h.AverageCost = weightedAverage(h.Quantity, h.AverageCost, t.Units, t.Price)
	h.Quantity = h.Quantity.Add(t.Units)
	h.UpdatedAt = t.At
	return h, record(h, models.Buy, t, decimal.Zero)
}

// ApplySell realizes P/L on units sold at the existing average cost. The
// holding passed in is never modified; on error nothing is produced.
func ApplySell(h models.Holding, t Trade) (Sale, error) {
	if t.Units.GreaterThan(h.Quantity) {
		return Sale{}, &InsufficientUnitsError{Symbol: h.Symbol, Requested: t.Units, Available: h.Quantity}
	}

	delta := t.Price.Sub(h.AverageCost).Mul(t.Units)

	next := h
	next.Quantity = h.Quantity.Sub(t.Units)
	next.RealizedPnl = h.RealizedPnl.Add(delta)
	next.UpdatedAt = t.At

	return Sale{
		Holding:     next,
		Transaction: record(next, models.Sell, t, delta),
		RealizedPnl: delta,
		Closed:      next.Quantity.IsZero(),
	}, nil
}

// ApplyClose records the owner discarding h entirely. The entry carries the
// quantity and average cost given up and realizes nothing.
func ApplyClose(h models.Holding, at time.Time) models.Mutation {
	t := Trade{Owner: h.Owner, Symbol: h.Symbol, Units: h.Quantity, Price: h.AverageCost, At: at}
	return models.Mutation{Transaction: record(h, models.Close, t, decimal.Zero)}
}

func weightedAverage(oldQty, oldAvg, units, price decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(units)
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	return oldQty.Mul(oldAvg).Add(units.Mul(price)).Div(total)
}

func record(h models.Holding, kind models.Kind, t Trade, pnl decimal.Decimal) models.Transaction {
	return models.Transaction{
		Owner:       h.Owner,
		Symbol:      h.Symbol,
		Kind:        kind,
		Units:       t.Units,
		Price:       t.Price,
		RealizedPnl: pnl,
		OccurredAt:  t.At,
	}
}

type Valuation struct {
	Symbol               string          `json:"symbol"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	TotalCost            decimal.Decimal `json:"totalCost"`
	CurrentValue         decimal.Decimal `json:"currentValue"`
	UnrealizedPnl        decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnlPercent decimal.Decimal `json:"unrealizedPnlPercent"`
	RealizedPnl          decimal.Decimal `json:"realizedPnl"`
	NetPnl               decimal.Decimal `json:"netPnl"`
	NetPnlPercent        decimal.Decimal `json:"netPnlPercent"`
}

// ValueHolding prices h at price. Callers substitute the average cost when no
// market price is available.
func ValueHolding(h models.Holding, price decimal.Decimal) Valuation {
	totalCost := h.AverageCost.Mul(h.Quantity)
	unrealized := price.Sub(h.AverageCost).Mul(h.Quantity)
	net := unrealized.Add(h.RealizedPnl)

	v := Valuation{
		Symbol:               h.Symbol,
		CurrentPrice:         price,
		TotalCost:            totalCost,
		CurrentValue:         price.Mul(h.Quantity),
		UnrealizedPnl:        unrealized,
		UnrealizedPnlPercent: decimal.Zero,
		RealizedPnl:          h.RealizedPnl,
		NetPnl:               net,
		NetPnlPercent:        decimal.Zero,
	}
	if h.AverageCost.IsPositive() {
		v.UnrealizedPnlPercent = price.Sub(h.AverageCost).Mul(hundred).Div(h.AverageCost)
	}
	if totalCost.IsPositive() {
		v.NetPnlPercent = net.Mul(hundred).Div(totalCost)
	}
	return v
}

type Summary struct {
	TotalInvested decimal.Decimal `json:"totalInvested"`
	CurrentValue  decimal.Decimal `json:"currentValue"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnl   decimal.Decimal `json:"realizedPnl"`
	NetPnl        decimal.Decimal `json:"netPnl"`
	NetPnlPercent decimal.Decimal `json:"netPnlPercent"`
}

func Summarize(vals []Valuation) Summary {
	s := Summary{
		TotalInvested: decimal.Zero,
		CurrentValue:  decimal.Zero,
		UnrealizedPnl: decimal.Zero,
		RealizedPnl:   decimal.Zero,
		NetPnl:        decimal.Zero,
		NetPnlPercent: decimal.Zero,
	}
	for _, v := range vals {
		s.TotalInvested = s.TotalInvested.Add(v.TotalCost)
		s.CurrentValue = s.CurrentValue.Add(v.CurrentValue)
		s.UnrealizedPnl = s.UnrealizedPnl.Add(v.UnrealizedPnl)
		s.RealizedPnl = s.RealizedPnl.Add(v.RealizedPnl)
		s.NetPnl = s.NetPnl.Add(v.NetPnl)
	}
	if s.TotalInvested.IsPositive() {
		s.NetPnlPercent = s.NetPnl.Mul(hundred).Div(s.TotalInvested)
	}
	return s
}

// Replay folds one owner's transaction log, oldest first, into the holdings
// it implies. Closed positions are absent from the result, and a CLOSE entry
// discards everything folded for its symbol up to that point.
func Replay(txs []models.Transaction) (map[string]models.Holding, error) {
	ordered := make([]models.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})

	out := map[string]models.Holding{}
	for _, tx := range ordered {
		t := Trade{Owner: tx.Owner, Symbol: tx.Symbol, Units: tx.Units, Price: tx.Price, At: tx.OccurredAt}
		prior, open := out[tx.Symbol]
		switch tx.Kind {
		case models.Buy:
			var p *models.Holding
			if open {
				p = &prior
			}
			h, _ := ApplyBuy(p, t)
			out[tx.Symbol] = h
		case models.Sell:
			if !open {
				return nil, fmt.Errorf("replay %s sell %s at %s: %w", tx.Symbol, tx.ID, tx.OccurredAt.Format(time.RFC3339), models.ErrNotFound)
			}
			sale, err := ApplySell(prior, t)
			if err != nil {
				return nil, fmt.Errorf("replay %s sell %s: %w", tx.Symbol, tx.ID, err)
			}
			if sale.Closed {
				delete(out, tx.Symbol)
				continue
			}
			out[tx.Symbol] = sale.Holding
		case models.Close:
			delete(out, tx.Symbol)
		default:
			return nil, fmt.Errorf("replay %s: unknown kind %q", tx.ID, tx.Kind)
		}
	}
	return out, nil
}
