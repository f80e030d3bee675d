// Package market talks to the third-party quote, search, news and currency
// APIs. Every client shares the same shape: a base URL, an API key (empty
// means not configured), a timeout-bound http.Client and a rate limiter.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrNoPrice       = errors.New("no price in response")
	ErrRateLimited   = errors.New("upstream rate limit")
	ErrUnavailable   = errors.New("price unavailable")
)

const DefaultTimeout = 8 * time.Second

type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previousClose"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	AsOf          time.Time       `json:"asOf"`
	Source        string          `json:"source"`
}

type SearchResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Logo   string `json:"logo"`
}

type Article struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Image     string    `json:"image"`
	Related   string    `json:"related"`
	Published time.Time `json:"datetime"`
}

type QuoteProvider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (Quote, error)
}

type SymbolSearcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// APIError is a non-200 answer from an upstream.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

type upstream struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *logrus.Logger
}

type Option func(*upstream)

func WithBaseURL(u string) Option { return func(c *upstream) { c.baseURL = u } }

func WithTimeout(d time.Duration) Option {
	return func(c *upstream) { c.http = &http.Client{Timeout: d} }
}

func WithHTTPClient(h *http.Client) Option { return func(c *upstream) { c.http = h } }

func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *upstream) { c.limiter = rate.NewLimiter(r, burst) }
}

func WithLogger(l *logrus.Logger) Option { return func(c *upstream) { c.log = l } }

func newUpstream(name, baseURL, apiKey string, limit rate.Limit, burst int, opts []Option) upstream {
	u := upstream{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(&u)
	}
	return u
}

func (u *upstream) Name() string { return u.name }

// getJSON performs a rate-limited GET of rawURL and decodes the body into out.
func (u *upstream) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	if err := u.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", u.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "stockfolio/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", u.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Provider: u.name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", u.name, err)
	}
	return nil
}

// QuoteChain asks each provider in order and returns the first price.
// Providers without credentials are skipped silently.
type QuoteChain struct {
	providers []QuoteProvider
	log       *logrus.Logger
}

func NewQuoteChain(log *logrus.Logger, providers ...QuoteProvider) *QuoteChain {
	return &QuoteChain{providers: providers, log: log}
}

func (c *QuoteChain) Quote(ctx context.Context, symbol string) (Quote, error) {
	var last error
	for _, p := range c.providers {
		q, err := p.Quote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		last = err
		c.log.WithFields(logrus.Fields{"symbol": symbol, "provider": p.Name()}).Warnf("quote failed: %v", err)
		if ctx.Err() != nil {
			break
		}
	}
	if last == nil {
		return Quote{}, fmt.Errorf("quote %s: no provider configured: %w", symbol, ErrUnavailable)
	}
	return Quote{}, fmt.Errorf("quote %s: %w (last error: %v)", symbol, ErrUnavailable, last)
}

const maxSearchResults = 8

// SearchChain falls through searchers the same way QuoteChain does, but an
// exhausted chain yields no results rather than an error.
type SearchChain struct {
	searchers []SymbolSearcher
	logos     *Logos
	log       *logrus.Logger
}

func NewSearchChain(log *logrus.Logger, logos *Logos, searchers ...SymbolSearcher) *SearchChain {
	return &SearchChain{searchers: searchers, logos: logos, log: log}
}

func (c *SearchChain) Search(ctx context.Context, query string) []SearchResult {
	for _, s := range c.searchers {
		res, err := s.Search(ctx, query)
		if err != nil {
			if !errors.Is(err, ErrNotConfigured) {
				c.log.WithField("provider", s.Name()).Warnf("search %q failed: %v", query, err)
			}
			continue
		}
		if len(res) > maxSearchResults {
			res = res[:maxSearchResults]
		}
		for i := range res {
			res[i].Logo = c.logos.URL(res[i].Symbol)
		}
		return res
	}
	c.log.Warn("all stock search providers failed or are not configured")
	return []SearchResult{}
}
