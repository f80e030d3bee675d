package market

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const YahooBaseURL = "https://query2.finance.yahoo.com"

// Yahoo reads the public chart endpoint. It needs no key, so it is the last
// resort in the chain and can be switched off by the caller.
type Yahoo struct {
	upstream
}

func NewYahoo(opts ...Option) *Yahoo {
	return &Yahoo{upstream: newUpstream("yahoo", YahooBaseURL, "", rate.Every(500*time.Millisecond), 5, opts)}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) Quote(ctx context.Context, symbol string) (Quote, error) {
	var raw yahooChart
	endpoint := y.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?interval=1d&range=5d"
	if err := y.getJSON(ctx, endpoint, &raw); err != nil {
		return Quote{}, err
	}
	if raw.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo %s: %s", symbol, raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("yahoo %s: %w", symbol, ErrNoPrice)
	}
	r := raw.Chart.Result[0]

	price := r.Meta.RegularMarketPrice
	if price <= 0 && len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 {
				price = *closes[i]
				break
			}
		}
	}
	if price <= 0 {
		return Quote{}, fmt.Errorf("yahoo %s: %w", symbol, ErrNoPrice)
	}

	prev := r.Meta.ChartPreviousClose
	if prev <= 0 {
		prev = r.Meta.PreviousClose
	}
	q := Quote{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(price),
		PreviousClose: decimal.NewFromFloat(prev),
		AsOf:          time.Now().UTC(),
		Source:        y.name,
	}
	if prev > 0 {
		q.Change = q.Price.Sub(q.PreviousClose)
		q.ChangePercent = q.Change.Mul(decimal.NewFromInt(100)).Div(q.PreviousClose).Round(4)
	}
	if r.Meta.RegularMarketTime > 0 {
		q.AsOf = time.Unix(r.Meta.RegularMarketTime, 0).UTC()
	}
	return q, nil
}
