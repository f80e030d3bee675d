package market

import (
	"strings"
	"sync"
)

const DefaultLogoBaseURL = "https://financialmodelingprep.com/image-stock"

// Logos builds image URLs for tickers and remembers them for the life of
// the process.
type Logos struct {
	base string

	mu   sync.RWMutex
	urls map[string]string
}

func NewLogos(base string) *Logos {
	if base == "" {
		base = DefaultLogoBaseURL
	}
	return &Logos{base: strings.TrimRight(base, "/"), urls: map[string]string{}}
}

func (l *Logos) URL(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	l.mu.RLock()
	u, ok := l.urls[sym]
	l.mu.RUnlock()
	if ok {
		return u
	}

	u = l.base + "/" + sym + ".png"
	l.mu.Lock()
	l.urls[sym] = u
	l.mu.Unlock()
	return u
}
