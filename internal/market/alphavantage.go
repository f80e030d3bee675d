package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage is the secondary quote and search source. The free key is
// limited to 5 calls a minute; throttling is reported in-band under "Note"
// or "Information" with a 200 status.
type AlphaVantage struct {
	upstream
}

func NewAlphaVantage(apiKey string, opts ...Option) *AlphaVantage {
	return &AlphaVantage{upstream: newUpstream("alphavantage", AlphaVantageBaseURL, apiKey, rate.Every(12*time.Second), 5, opts)}
}

func (a *AlphaVantage) configured() bool {
	return a.apiKey != "" && a.apiKey != "demo"
}

func (a *AlphaVantage) query(ctx context.Context, params url.Values, out map[string]interface{}) error {
	params.Set("apikey", a.apiKey)
	if err := a.getJSON(ctx, a.baseURL+"/query?"+params.Encode(), &out); err != nil {
		return err
	}
	for _, k := range []string{"Note", "Information"} {
		if msg, ok := out[k].(string); ok {
			return fmt.Errorf("alphavantage: %w: %s", ErrRateLimited, msg)
		}
	}
	if msg, ok := out["Error Message"].(string); ok {
		return fmt.Errorf("alphavantage: %s", msg)
	}
	return nil
}

func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (Quote, error) {
	if !a.configured() {
		return Quote{}, ErrNotConfigured
	}
	raw := map[string]interface{}{}
	if err := a.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, raw); err != nil {
		return Quote{}, err
	}
	gq, ok := raw["Global Quote"].(map[string]interface{})
	if !ok || len(gq) == 0 {
		return Quote{}, fmt.Errorf("alphavantage %s: %w", symbol, ErrNoPrice)
	}

	field := func(k string) decimal.Decimal {
		s, _ := gq[k].(string)
		v, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if err != nil {
			return decimal.Zero
		}
		return v
	}
	price := field("05. price")
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("alphavantage %s: %w", symbol, ErrNoPrice)
	}

	asOf := time.Now().UTC()
	if day, _ := gq["07. latest trading day"].(string); day != "" {
		if t, err := time.Parse("2006-01-02", day); err == nil {
			asOf = t
		}
	}
	return Quote{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: field("08. previous close"),
		Change:        field("09. change"),
		ChangePercent: field("10. change percent"),
		AsOf:          asOf,
		Source:        a.name,
	}, nil
}

func (a *AlphaVantage) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !a.configured() {
		return nil, ErrNotConfigured
	}
	raw := map[string]interface{}{}
	if err := a.query(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {query}}, raw); err != nil {
		return nil, err
	}
	matches, ok := raw["bestMatches"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("alphavantage search: unexpected response")
	}
	res := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		entry, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		sym, _ := entry["1. symbol"].(string)
		name, _ := entry["2. name"].(string)
		if sym == "" {
			continue
		}
		res = append(res, SearchResult{Symbol: sym, Name: name})
	}
	return res, nil
}
