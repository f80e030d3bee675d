package market

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func fast(base string) []Option {
	return []Option{WithBaseURL(base), WithRateLimit(rate.Inf, 1), WithTimeout(2 * time.Second), WithLogger(quietLogger())}
}

func TestFinnhubQuote(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "key", r.URL.Query().Get("token"))
		io.WriteString(w, `{"c":189.5,"d":1.5,"dp":0.8,"pc":188,"t":1700000000}`)
	})

	q, err := NewFinnhub("key", fast(srv.URL)...).Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("189.5")))
	assert.True(t, q.PreviousClose.Equal(decimal.NewFromInt(188)))
	assert.Equal(t, "finnhub", q.Source)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), q.AsOf)
}

func TestFinnhubQuote_ZeroPriceAndMissingKey(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"c":0,"d":null,"dp":null,"pc":0,"t":0}`)
	})

	_, err := NewFinnhub("key", fast(srv.URL)...).Quote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = NewFinnhub("", fast(srv.URL)...).Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFinnhubSearchAndNews(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			io.WriteString(w, `{"count":2,"result":[{"symbol":"AAPL","description":"APPLE INC"},{"symbol":"APLE","description":"APPLE HOSPITALITY"}]}`)
		case "/company-news":
			assert.Equal(t, "2025-01-01", r.URL.Query().Get("from"))
			io.WriteString(w, `[{"id":7,"headline":"Up","datetime":1700000000,"source":"wire","url":"https://x"}]`)
		default:
			http.NotFound(w, r)
		}
	})
	f := NewFinnhub("key", fast(srv.URL)...)

	res, err := f.Search(context.Background(), "apple")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, SearchResult{Symbol: "AAPL", Name: "APPLE INC"}, res[0])

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	news, err := f.News(context.Background(), "AAPL", from, from.AddDate(0, 2, 0))
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "Up", news[0].Headline)
	assert.Equal(t, int64(7), news[0].ID)
}

func TestAlphaVantageQuote(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		io.WriteString(w, `{"Global Quote":{"01. symbol":"IBM","05. price":"140.2500","07. latest trading day":"2025-02-03","08. previous close":"139.0000","09. change":"1.2500","10. change percent":"0.8993%"}}`)
	})

	q, err := NewAlphaVantage("key", fast(srv.URL)...).Quote(context.Background(), "IBM")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("140.25")))
	assert.True(t, q.ChangePercent.Equal(decimal.RequireFromString("0.8993")))
	assert.Equal(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), q.AsOf)
}

func TestAlphaVantage_ThrottleNoticeIsAnError(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`)
	})
	a := NewAlphaVantage("key", fast(srv.URL)...)

	_, err := a.Quote(context.Background(), "IBM")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = NewAlphaVantage("demo", fast(srv.URL)...).Quote(context.Background(), "IBM")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAlphaVantageSearch(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"bestMatches":[{"1. symbol":"TSCO.LON","2. name":"Tesco PLC"},{"1. symbol":"","2. name":"skip"}]}`)
	})
	res, err := NewAlphaVantage("key", fast(srv.URL)...).Search(context.Background(), "tesco")
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{{Symbol: "TSCO.LON", Name: "Tesco PLC"}}, res)
}

func TestYahooQuote_FallsBackToLastClose(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/MSFT", r.URL.Path)
		io.WriteString(w, `{"chart":{"result":[{"meta":{"regularMarketPrice":0,"chartPreviousClose":400},"indicators":{"quote":[{"close":[398.1,410,null]}]}}],"error":null}}`)
	})

	q, err := NewYahoo(fast(srv.URL)...).Quote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(410)))
	assert.True(t, q.Change.Equal(decimal.NewFromInt(10)))
	assert.True(t, q.ChangePercent.Equal(decimal.RequireFromString("2.5")))
}

func TestUpstreamNon200IsAPIError(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	_, err := NewFinnhub("key", fast(srv.URL)...).Quote(context.Background(), "AAPL")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "finnhub", apiErr.Provider)
}

type stubProvider struct {
	name  string
	quote Quote
	err   error
	calls int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Quote(context.Context, string) (Quote, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.quote, s.err
}

func TestQuoteChain(t *testing.T) {
	unconfigured := &stubProvider{name: "a", err: ErrNotConfigured}
	failing := &stubProvider{name: "b", err: errors.New("boom")}
	good := &stubProvider{name: "c", quote: Quote{Symbol: "X", Price: decimal.NewFromInt(5), Source: "c"}}

	q, err := NewQuoteChain(quietLogger(), unconfigured, failing, good).Quote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "c", q.Source)
	assert.EqualValues(t, 1, failing.calls)

	_, err = NewQuoteChain(quietLogger(), unconfigured, failing).Quote(context.Background(), "X")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "boom")

	_, err = NewQuoteChain(quietLogger()).Quote(context.Background(), "X")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type stubSearcher struct {
	name string
	res  []SearchResult
	err  error
}

func (s stubSearcher) Name() string { return s.name }

func (s stubSearcher) Search(context.Context, string) ([]SearchResult, error) { return s.res, s.err }

func TestSearchChain_TruncatesAndAddsLogos(t *testing.T) {
	many := make([]SearchResult, 12)
	for i := range many {
		many[i] = SearchResult{Symbol: string(rune('A' + i)), Name: "n"}
	}
	chain := NewSearchChain(quietLogger(), NewLogos("https://logo.test/"),
		stubSearcher{name: "down", err: errors.New("503")},
		stubSearcher{name: "up", res: many},
	)

	res := chain.Search(context.Background(), "q")
	require.Len(t, res, 8)
	assert.Equal(t, "https://logo.test/A.png", res[0].Logo)

	empty := NewSearchChain(quietLogger(), NewLogos(""), stubSearcher{name: "down", err: errors.New("x")})
	assert.Equal(t, []SearchResult{}, empty.Search(context.Background(), "q"))
}

func TestLogos(t *testing.T) {
	l := NewLogos("")
	assert.Equal(t, DefaultLogoBaseURL+"/AAPL.png", l.URL(" aapl "))
	assert.Equal(t, "", l.URL(""))
}

func TestExchangeRates_FallsThroughShapes(t *testing.T) {
	primary := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	secondary := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/USD", r.URL.Path)
		io.WriteString(w, `{"base":"USD","conversion_rates":{"THB":35.2}}`)
	})
	fx := NewExchangeRates([]string{primary.URL, secondary.URL}, WithRateLimit(rate.Inf, 1), WithLogger(quietLogger()))

	r, src, err := fx.Rate(context.Background(), "usd", "thb")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("35.2")))
	assert.Equal(t, secondary.URL, src)
}

func TestPickRate(t *testing.T) {
	r, ok := pickRate(map[string]interface{}{"rates": map[string]interface{}{"THB": 33.0}}, "THB")
	assert.True(t, ok)
	assert.True(t, r.Equal(decimal.NewFromInt(33)))

	r, ok = pickRate(map[string]interface{}{"THB": 31.5}, "THB")
	assert.True(t, ok)
	assert.True(t, r.Equal(decimal.RequireFromString("31.5")))

	_, ok = pickRate(map[string]interface{}{"rates": map[string]interface{}{"EUR": 0.9}}, "THB")
	assert.False(t, ok)
}
