package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	OpenERAPIURL       = "https://open.er-api.com/v6/latest"
	ExchangeRateAPIURL = "https://api.exchangerate-api.com/v4/latest"
)

// ExchangeRates asks each configured endpoint in turn for base→target. Both
// public APIs are keyless and take the base currency as the last path segment.
type ExchangeRates struct {
	upstream
	endpoints []string
}

func NewExchangeRates(endpoints []string, opts ...Option) *ExchangeRates {
	if len(endpoints) == 0 {
		endpoints = []string{OpenERAPIURL, ExchangeRateAPIURL}
	}
	return &ExchangeRates{
		upstream:  newUpstream("fx", "", "", rate.Every(time.Second), 5, opts),
		endpoints: endpoints,
	}
}

func (e *ExchangeRates) Rate(ctx context.Context, base, target string) (decimal.Decimal, string, error) {
	base, target = strings.ToUpper(base), strings.ToUpper(target)
	var last error
	for _, ep := range e.endpoints {
		raw := map[string]interface{}{}
		if err := e.getJSON(ctx, strings.TrimRight(ep, "/")+"/"+base, &raw); err != nil {
			last = err
			e.log.WithField("endpoint", ep).Warnf("exchange rate fetch failed: %v", err)
			continue
		}
		if r, ok := pickRate(raw, target); ok {
			return r, ep, nil
		}
		last = fmt.Errorf("%s: no %s rate in response", ep, target)
		e.log.Warn(last.Error())
	}
	return decimal.Zero, "", fmt.Errorf("exchange rate %s/%s: %w (last error: %v)", base, target, ErrUnavailable, last)
}

// pickRate understands the three shapes the public APIs answer with.
func pickRate(raw map[string]interface{}, target string) (decimal.Decimal, bool) {
	for _, k := range []string{"rates", "conversion_rates"} {
		if m, ok := raw[k].(map[string]interface{}); ok {
			if v, ok := m[target].(float64); ok && v > 0 {
				return decimal.NewFromFloat(v), true
			}
		}
	}
	if v, ok := raw[target].(float64); ok && v > 0 {
		return decimal.NewFromFloat(v), true
	}
	return decimal.Zero, false
}
