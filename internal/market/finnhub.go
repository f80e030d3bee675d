package market

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const FinnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub covers quotes, symbol search and company news. The free tier
// allows 60 calls a minute.
type Finnhub struct {
	upstream
}

func NewFinnhub(apiKey string, opts ...Option) *Finnhub {
	return &Finnhub{upstream: newUpstream("finnhub", FinnhubBaseURL, apiKey, rate.Every(time.Second), 30, opts)}
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

func (f *Finnhub) endpoint(path string, params url.Values) string {
	params.Set("token", f.apiKey)
	return f.baseURL + path + "?" + params.Encode()
}

func (f *Finnhub) Quote(ctx context.Context, symbol string) (Quote, error) {
	if f.apiKey == "" {
		return Quote{}, ErrNotConfigured
	}
	var raw finnhubQuote
	if err := f.getJSON(ctx, f.endpoint("/quote", url.Values{"symbol": {symbol}}), &raw); err != nil {
		return Quote{}, err
	}
	// unknown symbols come back as all zeros
	if raw.Current <= 0 {
		return Quote{}, fmt.Errorf("finnhub %s: %w", symbol, ErrNoPrice)
	}
	q := Quote{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(raw.Current),
		PreviousClose: decimal.NewFromFloat(raw.PreviousClose),
		Change:        decimal.NewFromFloat(raw.Change),
		ChangePercent: decimal.NewFromFloat(raw.ChangePercent),
		AsOf:          time.Now().UTC(),
		Source:        f.name,
	}
	if raw.Timestamp > 0 {
		q.AsOf = time.Unix(raw.Timestamp, 0).UTC()
	}
	return q, nil
}

func (f *Finnhub) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if f.apiKey == "" {
		return nil, ErrNotConfigured
	}
	var raw struct {
		Result []struct {
			Symbol      string `json:"symbol"`
			Description string `json:"description"`
		} `json:"result"`
	}
	if err := f.getJSON(ctx, f.endpoint("/search", url.Values{"q": {query}}), &raw); err != nil {
		return nil, err
	}
	res := make([]SearchResult, 0, len(raw.Result))
	for _, r := range raw.Result {
		name := r.Description
		if name == "" {
			name = r.Symbol
		}
		res = append(res, SearchResult{Symbol: r.Symbol, Name: name})
	}
	return res, nil
}

// News lists company news published between from and to, newest first as
// Finnhub returns it.
func (f *Finnhub) News(ctx context.Context, symbol string, from, to time.Time) ([]Article, error) {
	if f.apiKey == "" {
		return nil, ErrNotConfigured
	}
	var raw []struct {
		ID       int64  `json:"id"`
		Category string `json:"category"`
		Datetime int64  `json:"datetime"`
		Headline string `json:"headline"`
		Image    string `json:"image"`
		Related  string `json:"related"`
		Source   string `json:"source"`
		Summary  string `json:"summary"`
		URL      string `json:"url"`
	}
	params := url.Values{
		"symbol": {symbol},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	}
	if err := f.getJSON(ctx, f.endpoint("/company-news", params), &raw); err != nil {
		return nil, err
	}
	res := make([]Article, 0, len(raw))
	for _, a := range raw {
		res = append(res, Article{
			ID:        a.ID,
			Category:  a.Category,
			Headline:  a.Headline,
			Summary:   a.Summary,
			Source:    a.Source,
			URL:       a.URL,
			Image:     a.Image,
			Related:   a.Related,
			Published: time.Unix(a.Datetime, 0).UTC(),
		})
	}
	return res, nil
}
