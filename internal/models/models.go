package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
	// Close is logged when an owner deletes a position outright. It is never
	// accepted as a trade action.
	Close Kind = "CLOSE"
)

// Valid reports whether k is a trade action a client may submit.
func (k Kind) Valid() bool { return k == Buy || k == Sell }

// Holding is the materialized position of one owner in one symbol.
type Holding struct {
	Owner       string          `db:"user_id" json:"userId"`
	Symbol      string          `db:"symbol" json:"symbol"`
	Quantity    decimal.Decimal `db:"quantity" json:"units"`
	AverageCost decimal.Decimal `db:"average_cost" json:"avgPrice"`
	RealizedPnl decimal.Decimal `db:"realized_pnl" json:"realizedPnl"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

type Transaction struct {
	ID          string          `db:"id" json:"id"`
	Owner       string          `db:"user_id" json:"userId"`
	Symbol      string          `db:"symbol" json:"symbol"`
	Kind        Kind            `db:"kind" json:"type"`
	Units       decimal.Decimal `db:"units" json:"units"`
	Price       decimal.Decimal `db:"price" json:"price"`
	RealizedPnl decimal.Decimal `db:"realized_pnl" json:"realizedPnl"`
	OccurredAt  time.Time       `db:"occurred_at" json:"date"`
}

// Mutation is the result of folding one trade into a holding. A nil Holding
// means the position was closed and must be removed.
type Mutation struct {
	Holding     *Holding
	Transaction Transaction
}

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type WishlistItem struct {
	Owner       string           `db:"user_id" json:"-"`
	Symbol      string           `db:"symbol" json:"symbol"`
	Notes       string           `db:"notes" json:"notes"`
	TargetPrice *decimal.Decimal `db:"target_price" json:"targetPrice,omitempty"`
	AddedAt     time.Time        `db:"added_at" json:"addedAt"`
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-^=]{1,15}$`)

func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidSymbol reports whether s is an already normalized ticker.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}
