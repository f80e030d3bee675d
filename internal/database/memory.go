package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"stockfolio/internal/models"

	"github.com/google/uuid"
)

// Memory is a process-local store with the same behaviour as Repo. It backs
// STORE=memory and the handler tests.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]models.User
	holdings     map[string]models.Holding
	transactions []models.Transaction
	wishlist     map[string]models.WishlistItem

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		users:    map[string]models.User{},
		holdings: map[string]models.Holding{},
		wishlist: map[string]models.WishlistItem{},
		locks:    map[string]*sync.Mutex{},
	}
}

func key(owner, symbol string) string { return owner + "\x00" + symbol }

func (m *Memory) lockFor(owner, symbol string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[key(owner, symbol)]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key(owner, symbol)] = l
	}
	return l
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %s: %w", u.Email, models.ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, models.ErrNotFound
}

func (m *Memory) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return u, nil
}

func (m *Memory) ListHoldings(_ context.Context, owner string) ([]models.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []models.Holding{}
	for _, h := range m.holdings {
		if h.Owner == owner {
			res = append(res, h)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res, nil
}

func (m *Memory) GetHolding(_ context.Context, owner, symbol string) (models.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[key(owner, symbol)]
	if !ok {
		return models.Holding{}, models.ErrNotFound
	}
	return h, nil
}

func (m *Memory) Mutate(ctx context.Context, owner, symbol string, fn func(prior *models.Holding) (models.Mutation, error)) error {
	l := m.lockFor(owner, symbol)
	l.Lock()
	defer l.Unlock()

	var prior *models.Holding
	if h, err := m.GetHolding(ctx, owner, symbol); err == nil {
		prior = &h
	}

	mut, err := fn(prior)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mut.Holding == nil {
		delete(m.holdings, key(owner, symbol))
	} else {
		m.holdings[key(owner, symbol)] = *mut.Holding
	}
	t := mut.Transaction
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.transactions = append(m.transactions, t)
	return nil
}

func (m *Memory) ReplaceHoldings(_ context.Context, owner string, holdings []models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, h := range m.holdings {
		if h.Owner == owner {
			delete(m.holdings, k)
		}
	}
	for _, h := range holdings {
		m.holdings[key(owner, h.Symbol)] = h
	}
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, owner string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []models.Transaction{}
	for _, t := range m.transactions {
		if t.Owner == owner {
			res = append(res, t)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].OccurredAt.After(res[j].OccurredAt) })
	return res, nil
}

func (m *Memory) ListOwners(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	for _, t := range m.transactions {
		seen[t.Owner] = true
	}
	for _, h := range m.holdings {
		seen[h.Owner] = true
	}
	res := make([]string, 0, len(seen))
	for o := range seen {
		res = append(res, o)
	}
	sort.Strings(res)
	return res, nil
}

func (m *Memory) AddWishlist(_ context.Context, item models.WishlistItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(item.Owner, item.Symbol)
	if _, ok := m.wishlist[k]; ok {
		return fmt.Errorf("wishlist %s: %w", item.Symbol, models.ErrConflict)
	}
	m.wishlist[k] = item
	return nil
}

func (m *Memory) ListWishlist(_ context.Context, owner string) ([]models.WishlistItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []models.WishlistItem{}
	for _, w := range m.wishlist {
		if w.Owner == owner {
			res = append(res, w)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AddedAt.After(res[j].AddedAt) })
	return res, nil
}

func (m *Memory) RemoveWishlist(_ context.Context, owner, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wishlist[key(owner, symbol)]; !ok {
		return models.ErrNotFound
	}
	delete(m.wishlist, key(owner, symbol))
	return nil
}
