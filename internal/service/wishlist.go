package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockfolio/internal/market"
	"stockfolio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type WishlistStore interface {
	AddWishlist(ctx context.Context, item models.WishlistItem) error
	ListWishlist(ctx context.Context, owner string) ([]models.WishlistItem, error)
	RemoveWishlist(ctx context.Context, owner, symbol string) error
}

// WatchedSymbol is a wishlist entry with its live quote; Quote is nil when no
// upstream could price it.
type WatchedSymbol struct {
	models.WishlistItem
	Logo  string        `json:"logo"`
	Quote *market.Quote `json:"quote"`
}

type WishlistService struct {
	store  WishlistStore
	prices PriceProvider
	logos  *market.Logos
	now    func() time.Time
	log    *logrus.Logger
}

func NewWishlistService(store WishlistStore, prices PriceProvider, logos *market.Logos, log *logrus.Logger) *WishlistService {
	return &WishlistService{store: store, prices: prices, logos: logos, now: time.Now, log: log}
}

// Add watches symbol with optional notes and target price.
func (s *WishlistService) Add(ctx context.Context, owner, symbol, notes string, target *decimal.Decimal) (models.WishlistItem, error) {
	sym := models.NormalizeSymbol(symbol)
	if !models.ValidSymbol(sym) {
		return models.WishlistItem{}, invalid("Invalid symbol %q", symbol)
	}
	if target != nil && !target.IsPositive() {
		return models.WishlistItem{}, invalid("Target price must be greater than zero")
	}
	item := models.WishlistItem{Owner: owner, Symbol: sym, Notes: strings.TrimSpace(notes), TargetPrice: target, AddedAt: s.now().UTC()}
	if err := s.store.AddWishlist(ctx, item); err != nil {
		return models.WishlistItem{}, err
	}
	return item, nil
}

func (s *WishlistService) Remove(ctx context.Context, owner, symbol string) error {
	sym := models.NormalizeSymbol(symbol)
	if err := s.store.RemoveWishlist(ctx, owner, sym); err != nil {
		return fmt.Errorf("wishlist %s: %w", sym, err)
	}
	return nil
}

func (s *WishlistService) List(ctx context.Context, owner string) ([]WatchedSymbol, error) {
	items, err := s.store.ListWishlist(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]WatchedSymbol, len(items))
	var g errgroup.Group
	g.SetLimit(valuationConcurrency)
	for i, it := range items {
		g.Go(func() error {
			w := WatchedSymbol{WishlistItem: it, Logo: s.logos.URL(it.Symbol)}
			if q, err := s.prices.CurrentPrice(ctx, it.Symbol); err == nil {
				w.Quote = &q
			} else {
				s.log.WithField("symbol", it.Symbol).Warnf("wishlist quote unavailable: %v", err)
			}
			out[i] = w
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}
