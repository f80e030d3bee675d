// Command rebuild re-derives every owner's holdings from the transaction log
// and reports where the stored projection has drifted. With -apply it
// rewrites the drifted rows.
package main

import (
	"context"
	"flag"
	"os"
	"sort"

	"stockfolio/internal/accounting"
	"stockfolio/internal/database"
	"stockfolio/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type driftKind string

const (
	driftMismatch  driftKind = "mismatch"
	driftNoHistory driftKind = "no_history"
	driftMissing   driftKind = "missing"
)

type drift struct {
	Symbol   string
	Kind     driftKind
	Stored   *models.Holding
	Replayed *models.Holding
}

func main() {
	apply := flag.Bool("apply", false, "rewrite drifted holdings")
	owner := flag.String("owner", "", "only rebuild this owner")
	flag.Parse()

	log := logrus.New()
	_ = godotenv.Load()
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := database.New(db, log)

	owners := []string{*owner}
	if *owner == "" {
		if owners, err = repo.ListOwners(ctx); err != nil {
			log.Fatalf("list owners: %v", err)
		}
	}

	var drifted, failed int
	for _, o := range owners {
		n, err := rebuildOwner(ctx, repo, o, *apply, log)
		if err != nil {
			failed++
			log.WithField("owner", o).Errorf("rebuild failed: %v", err)
			continue
		}
		drifted += n
	}
	log.Infof("checked %d owners: %d drifted holdings, %d failures (apply=%t)", len(owners), drifted, failed, *apply)
	if failed > 0 {
		os.Exit(1)
	}
}

type projectionStore interface {
	ListHoldings(ctx context.Context, owner string) ([]models.Holding, error)
	ListTransactions(ctx context.Context, owner string) ([]models.Transaction, error)
	ReplaceHoldings(ctx context.Context, owner string, holdings []models.Holding) error
}

func rebuildOwner(ctx context.Context, store projectionStore, owner string, apply bool, log *logrus.Logger) (int, error) {
	txs, err := store.ListTransactions(ctx, owner)
	if err != nil {
		return 0, err
	}
	replayed, err := accounting.Replay(txs)
	if err != nil {
		return 0, err
	}
	stored, err := store.ListHoldings(ctx, owner)
	if err != nil {
		return 0, err
	}

	next, drifts := reconcile(stored, replayed)
	mismatches := 0
	for _, d := range drifts {
		entry := log.WithFields(logrus.Fields{"owner": owner, "symbol": d.Symbol, "kind": d.Kind})
		switch d.Kind {
		case driftMismatch:
			mismatches++
			entry.Warnf("stored %s @ %s (realized %s), log says %s @ %s (realized %s)",
				d.Stored.Quantity, d.Stored.AverageCost, d.Stored.RealizedPnl,
				d.Replayed.Quantity, d.Replayed.AverageCost, d.Replayed.RealizedPnl)
		default:
			entry.Info("left as is")
		}
	}
	if apply && mismatches > 0 {
		if err := store.ReplaceHoldings(ctx, owner, next); err != nil {
			return mismatches, err
		}
		log.WithField("owner", owner).Infof("rewrote %d holdings", mismatches)
	}
	return mismatches, nil
}

// reconcile returns the corrected projection and what differed. Only
// holdings present both in the store and in the log are corrected. A stored
// holding without history, and a position the log holds open but the store
// lacks, are reported but kept as they are.
func reconcile(stored []models.Holding, replayed map[string]models.Holding) ([]models.Holding, []drift) {
	var drifts []drift
	next := make([]models.Holding, 0, len(stored))
	seen := map[string]bool{}

	for _, s := range stored {
		seen[s.Symbol] = true
		r, ok := replayed[s.Symbol]
		if !ok {
			drifts = append(drifts, drift{Symbol: s.Symbol, Kind: driftNoHistory, Stored: &s})
			next = append(next, s)
			continue
		}
		if s.Quantity.Equal(r.Quantity) && s.AverageCost.Equal(r.AverageCost) && s.RealizedPnl.Equal(r.RealizedPnl) {
			next = append(next, s)
			continue
		}
		fixed := s
		fixed.Quantity, fixed.AverageCost, fixed.RealizedPnl = r.Quantity, r.AverageCost, r.RealizedPnl
		if r.UpdatedAt.After(fixed.UpdatedAt) {
			fixed.UpdatedAt = r.UpdatedAt
		}
		drifts = append(drifts, drift{Symbol: s.Symbol, Kind: driftMismatch, Stored: &s, Replayed: &r})
		next = append(next, fixed)
	}

	var missing []string
	for sym := range replayed {
		if !seen[sym] {
			missing = append(missing, sym)
		}
	}
	sort.Strings(missing)
	for _, sym := range missing {
		r := replayed[sym]
		drifts = append(drifts, drift{Symbol: sym, Kind: driftMissing, Replayed: &r})
	}
	return next, drifts
}
