package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockfolio/internal/auth"
	"stockfolio/internal/cache"
	"stockfolio/internal/database"
	"stockfolio/internal/market"
	"stockfolio/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	decimal.MarshalJSONWithoutQuotes = true
}

type tableQuotes map[string]string

func (t tableQuotes) Quote(_ context.Context, symbol string) (market.Quote, error) {
	p, ok := t[symbol]
	if !ok {
		return market.Quote{}, market.ErrUnavailable
	}
	return market.Quote{Symbol: symbol, Price: decimal.RequireFromString(p), Source: "table"}, nil
}

type noSearch struct{}

func (noSearch) Search(context.Context, string) []market.SearchResult {
	return []market.SearchResult{{Symbol: "AAPL", Name: "Apple Inc", Logo: "l"}}
}

type downRates struct{}

func (downRates) Rate(context.Context, string, string) (decimal.Decimal, string, error) {
	return decimal.Zero, "", market.ErrUnavailable
}

type noNews struct{}

func (noNews) News(context.Context, string, time.Time, time.Time) ([]market.Article, error) {
	return nil, market.ErrNotConfigured
}

func newServer(t *testing.T, quotes tableQuotes) *gin.Engine {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := database.NewMemory()
	tokens := auth.NewTokens("test-secret", time.Hour)
	logos := market.NewLogos("https://logo.test")
	prices := service.NewPriceService(quotes, cache.NewMemory[market.Quote](5*time.Minute, nil), log)

	h := NewHandler(Deps{
		Portfolio: service.NewPortfolioService(store, prices, logos, log),
		Users:     service.NewUserService(store, tokens, log),
		Wishlist:  service.NewWishlistService(store, prices, logos, log),
		Markets: service.NewMarketService(service.MarketDeps{
			Search:      noSearch{},
			SearchCache: cache.NewMemory[[]market.SearchResult](time.Hour, nil),
			Rates:       downRates{},
			RateCache:   cache.NewMemory[service.ExchangeRate](time.Hour, nil),
			FX:          service.FXConfig{Base: "USD", Target: "THB", Fallback: decimal.RequireFromString("31.45")},
			News:        noNews{},
			Prices:      prices,
			Logos:       logos,
		}, log),
		Tokens: tokens,
		Store:  store,
	}, log)

	r := gin.New()
	h.Register(r)
	return r
}

type result struct {
	Code int
	Body map[string]interface{}
}

func (r result) data() map[string]interface{} {
	d, _ := r.Body["data"].(map[string]interface{})
	return d
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) result {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := result{Code: w.Code, Body: map[string]interface{}{}}
	_ = json.Unmarshal(w.Body.Bytes(), &out.Body)
	return out
}

func signUp(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()
	res := call(t, r, http.MethodPost, "/api/auth/signup", "", gin.H{"email": email, "password": "Secret123", "name": "Test"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	tok, _ := res.data()["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func TestAuthFlow(t *testing.T) {
	r := newServer(t, nil)
	signUp(t, r, "a@example.com")

	res := call(t, r, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "A@example.com", "password": "Secret123", "name": "Dup"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Email already registered", res.Body["error"])
	assert.Equal(t, false, res.Body["success"])

	res = call(t, r, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "b@example.com", "password": "weak", "name": "B"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(t, r, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "a@example.com", "password": "Secret123"})
	require.Equal(t, http.StatusOK, res.Code)
	user, _ := res.data()["user"].(map[string]interface{})
	assert.Equal(t, "a@example.com", user["email"])
	assert.NotContains(t, user, "passwordHash")

	res = call(t, r, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "a@example.com", "password": "Nope12345"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Invalid email or password", res.Body["error"])

	res = call(t, r, http.MethodGet, "/api/portfolio/stocks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestPortfolioLifecycle(t *testing.T) {
	r := newServer(t, tableQuotes{"ABC": "100"})
	tok := signUp(t, r, "p@example.com")

	res := call(t, r, http.MethodPost, "/api/portfolio/stocks", tok, gin.H{"symbol": "abc", "units": 10, "buyPrice": 100})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	assert.Equal(t, "ABC", res.data()["symbol"])

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", tok, gin.H{"action": "BUY", "units": 10, "price": 120})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.EqualValues(t, 20, res.data()["units"])
	assert.EqualValues(t, 110, res.data()["avgPrice"])

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", tok, gin.H{"action": "SELL", "units": 25, "price": 150})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Cannot sell 25 units. Only 20 available.", res.Body["error"])

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", tok, gin.H{"action": "SELL", "units": 5, "price": 150})
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 200, res.data()["realizedPnl"])

	res = call(t, r, http.MethodGet, "/api/portfolio/stocks", tok, nil)
	require.Equal(t, http.StatusOK, res.Code)
	summary, _ := res.data()["summary"].(map[string]interface{})
	assert.EqualValues(t, 1650, summary["totalInvested"])
	assert.EqualValues(t, 1500, summary["currentValue"])
	assert.EqualValues(t, 50, summary["netPnl"])
	stocks, _ := res.data()["stocks"].([]interface{})
	require.Len(t, stocks, 1)
	row := stocks[0].(map[string]interface{})
	assert.Equal(t, "https://logo.test/ABC.png", row["logo"])
	assert.Equal(t, "table", row["priceSource"])

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", tok, gin.H{"action": "SELL", "units": 15, "price": 110})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "All units sold. Stock removed from portfolio.", res.data()["message"])
	assert.EqualValues(t, 0, res.data()["realizedPnl"])

	res = call(t, r, http.MethodGet, "/api/portfolio/stocks/ABC", tok, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "Stock not found", res.Body["error"])

	res = call(t, r, http.MethodGet, "/api/portfolio/transactions", tok, nil)
	require.Equal(t, http.StatusOK, res.Code)
	txs, _ := res.Body["data"].([]interface{})
	require.Len(t, txs, 4)
	assert.Equal(t, "SELL", txs[0].(map[string]interface{})["type"])
}

func TestPortfolioValidationAndOwnership(t *testing.T) {
	r := newServer(t, nil)
	alice := signUp(t, r, "alice@example.com")
	bob := signUp(t, r, "bob@example.com")

	res := call(t, r, http.MethodPost, "/api/portfolio/stocks", alice, gin.H{"symbol": "ABC", "units": 1})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Missing required fields: symbol, units, buyPrice", res.Body["error"])

	res = call(t, r, http.MethodPost, "/api/portfolio/stocks", alice, gin.H{"symbol": "ABC", "units": 0, "buyPrice": 5})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", alice, gin.H{"action": "HOLD", "units": 1, "price": 1})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Invalid action. Must be BUY or SELL.", res.Body["error"])

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", alice, gin.H{"action": "BUY", "units": 1, "price": 1})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = call(t, r, http.MethodPost, "/api/portfolio/stocks", alice, gin.H{"symbol": "ABC", "units": 2, "buyPrice": 7})
	require.Equal(t, http.StatusCreated, res.Code)

	res = call(t, r, http.MethodGet, "/api/portfolio/stocks/ABC", bob, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	res = call(t, r, http.MethodDelete, "/api/portfolio/stocks/ABC", bob, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = call(t, r, http.MethodGet, "/api/portfolio/stocks", alice, nil)
	require.Equal(t, http.StatusOK, res.Code)
	row := res.data()["stocks"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "averageCost", row["priceSource"])
	assert.EqualValues(t, 7, row["currentPrice"])

	res = call(t, r, http.MethodDelete, "/api/portfolio/stocks/abc", alice, nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = call(t, r, http.MethodGet, "/api/portfolio/transactions", alice, nil)
	require.Equal(t, http.StatusOK, res.Code)
	txs, _ := res.Body["data"].([]interface{})
	require.Len(t, txs, 2)
	assert.Equal(t, "CLOSE", txs[0].(map[string]interface{})["type"])

	res = call(t, r, http.MethodPut, "/api/portfolio/stocks/ABC", alice, gin.H{"action": "close", "units": 1, "price": 1})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestWishlistRoutes(t *testing.T) {
	r := newServer(t, tableQuotes{"AAPL": "190.5"})
	tok := signUp(t, r, "w@example.com")

	res := call(t, r, http.MethodPost, "/api/wishlist", tok, gin.H{"symbol": "aapl", "notes": " earnings in May ", "targetPrice": 175})
	require.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, "earnings in May", res.data()["notes"])
	assert.EqualValues(t, 175, res.data()["targetPrice"])
	res = call(t, r, http.MethodPost, "/api/wishlist", tok, gin.H{"symbol": "AAPL"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = call(t, r, http.MethodPost, "/api/wishlist", tok, gin.H{"symbol": "MSFT", "targetPrice": -1})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Target price must be greater than zero", res.Body["error"])

	res = call(t, r, http.MethodGet, "/api/wishlist", tok, nil)
	require.Equal(t, http.StatusOK, res.Code)
	items := res.Body["data"].([]interface{})
	require.Len(t, items, 1)
	quote := items[0].(map[string]interface{})["quote"].(map[string]interface{})
	assert.EqualValues(t, 190.5, quote["price"])
	assert.Equal(t, "earnings in May", items[0].(map[string]interface{})["notes"])

	res = call(t, r, http.MethodDelete, "/api/wishlist/AAPL", tok, nil)
	assert.Equal(t, http.StatusOK, res.Code)
	res = call(t, r, http.MethodDelete, "/api/wishlist/AAPL", tok, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestPublicRoutes(t *testing.T) {
	r := newServer(t, tableQuotes{"AAPL": "190"})

	res := call(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ok", res.Body["status"])

	res = call(t, r, http.MethodGet, "/api/stock-price?symbol=aapl", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 190, res.data()["price"])

	res = call(t, r, http.MethodGet, "/api/stock-price?symbol=MSFT", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	res = call(t, r, http.MethodGet, "/api/stock-price", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(t, r, http.MethodGet, "/api/stock-details/msft", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, res.data()["quote"])

	res = call(t, r, http.MethodGet, "/api/search-stocks?q=apple", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotContains(t, res.Body, "success")
	assert.Len(t, res.Body["results"], 1)

	res = call(t, r, http.MethodGet, "/api/exchange-rate", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 31.45, res.data()["rate"])
	assert.Equal(t, true, res.data()["fallback"])

	res = call(t, r, http.MethodGet, "/api/stock-news/AAPL", "", nil)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, "API key not configured", res.Body["error"])

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
