package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"stockfolio/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

const holdingColumns = `user_id, symbol, quantity, average_cost, realized_pnl, created_at, updated_at`

const transactionColumns = `id, user_id, symbol, kind, units, price, realized_pnl, occurred_at`

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

// Migrate applies every embedded migration in file name order. Each file is
// written to be safe to run again.
func (r *Repo) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		r.log.Debugf("applied %s", name)
	}
	return nil
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	q := `INSERT INTO users (id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, q, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, models.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`, email)
	return u, notFound(err)
}

func (r *Repo) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`, id)
	return u, notFound(err)
}

func (r *Repo) ListHoldings(ctx context.Context, owner string) ([]models.Holding, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 ORDER BY symbol`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.StructScan(&h); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r *Repo) GetHolding(ctx context.Context, owner, symbol string) (models.Holding, error) {
	var h models.Holding
	err := r.db.GetContext(ctx, &h, `SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 AND symbol = $2`, owner, symbol)
	return h, notFound(err)
}

// Mutate runs fn against the current holding for (owner, symbol) and persists
// its result, the holding change plus the appended transaction, in one
// database transaction. Concurrent calls for the same pair are serialized by
// a transaction-scoped advisory lock, which also covers a holding that does
// not exist yet. An error from fn rolls back without writing anything.
func (r *Repo) Mutate(ctx context.Context, owner, symbol string, fn func(prior *models.Holding) (models.Mutation, error)) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, owner, symbol); err != nil {
		return fmt.Errorf("lock %s/%s: %w", owner, symbol, err)
	}

	var prior *models.Holding
	var current models.Holding
	err = tx.GetContext(ctx, &current, `SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 AND symbol = $2`, owner, symbol)
	switch {
	case err == nil:
		prior = &current
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	m, err := fn(prior)
	if err != nil {
		return err
	}

	if m.Holding == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = $1 AND symbol = $2`, owner, symbol); err != nil {
			return err
		}
	} else if err := upsertHolding(ctx, tx, *m.Holding); err != nil {
		return err
	}

	t := m.Transaction
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	insert := `INSERT INTO transactions (` + transactionColumns + `) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8)`
	if _, err := tx.ExecContext(ctx, insert, t.ID, t.Owner, t.Symbol, string(t.Kind), t.Units.String(), t.Price.String(), t.RealizedPnl.String(), t.OccurredAt); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertHolding(ctx context.Context, tx *sqlx.Tx, h models.Holding) error {
	q := `INSERT INTO holdings (` + holdingColumns + `) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
		ON CONFLICT (user_id, symbol) DO UPDATE SET quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost,
		realized_pnl = EXCLUDED.realized_pnl, updated_at = EXCLUDED.updated_at`
	_, err := tx.ExecContext(ctx, q, h.Owner, h.Symbol, h.Quantity.String(), h.AverageCost.String(), h.RealizedPnl.String(), h.CreatedAt, h.UpdatedAt)
	return err
}

// ReplaceHoldings swaps the owner's whole projection for holdings.
func (r *Repo) ReplaceHoldings(ctx context.Context, owner string, holdings []models.Holding) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = $1`, owner); err != nil {
		return err
	}
	for _, h := range holdings {
		if err := upsertHolding(ctx, tx, h); err != nil {
			return fmt.Errorf("write %s: %w", h.Symbol, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) ListTransactions(ctx context.Context, owner string) ([]models.Transaction, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY occurred_at DESC, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.StructScan(&t); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r *Repo) ListOwners(ctx context.Context) ([]string, error) {
	res := []string{}
	err := r.db.SelectContext(ctx, &res, `SELECT user_id FROM transactions UNION SELECT user_id FROM holdings ORDER BY user_id`)
	return res, err
}

func (r *Repo) AddWishlist(ctx context.Context, item models.WishlistItem) error {
	q := `INSERT INTO wishlist (user_id, symbol, notes, target_price, added_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, symbol) DO NOTHING`
	res, err := r.db.ExecContext(ctx, q, item.Owner, item.Symbol, item.Notes, item.TargetPrice, item.AddedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wishlist %s: %w", item.Symbol, models.ErrConflict)
	}
	return nil
}

func (r *Repo) ListWishlist(ctx context.Context, owner string) ([]models.WishlistItem, error) {
	res := []models.WishlistItem{}
	err := r.db.SelectContext(ctx, &res, `SELECT user_id, symbol, notes, target_price, added_at FROM wishlist WHERE user_id = $1 ORDER BY added_at DESC`, owner)
	return res, err
}

func (r *Repo) RemoveWishlist(ctx context.Context, owner, symbol string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM wishlist WHERE user_id = $1 AND symbol = $2`, owner, symbol)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}
