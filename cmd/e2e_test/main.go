package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	baseURL = flag.String("base", "http://localhost:8080", "server base URL")
	log     = logrus.New()
	client  = &http.Client{Timeout: 30 * time.Second}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func main() {
	flag.Parse()

	// 1. Health
	call("GET", "/health", "", nil, 200)

	// 2. Sign up a throwaway user
	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())
	var session struct {
		Token string `json:"token"`
	}
	decode(call("POST", "/api/auth/signup", "", map[string]string{"email": email, "password": "E2eSecret1", "name": "E2E"}, 201), &session)
	tok := session.Token

	// 3. Buy, buy more, oversell, sell, close
	call("POST", "/api/portfolio/stocks", tok, map[string]interface{}{"symbol": "ABC", "units": 10, "buyPrice": 100}, 201)
	call("PUT", "/api/portfolio/stocks/ABC", tok, map[string]interface{}{"action": "BUY", "units": 10, "price": 120}, 200)
	call("PUT", "/api/portfolio/stocks/ABC", tok, map[string]interface{}{"action": "SELL", "units": 50, "price": 150}, 400)
	call("PUT", "/api/portfolio/stocks/ABC", tok, map[string]interface{}{"action": "SELL", "units": 5, "price": 150}, 200)
	call("GET", "/api/portfolio/stocks", tok, nil, 200)

	var closed struct {
		Message     string  `json:"message"`
		RealizedPnl float64 `json:"realizedPnl"`
	}
	decode(call("PUT", "/api/portfolio/stocks/ABC", tok, map[string]interface{}{"action": "SELL", "units": 15, "price": 110}, 200), &closed)
	log.Infof("closing sale: %s (realized %.2f)", closed.Message, closed.RealizedPnl)
	call("GET", "/api/portfolio/stocks/ABC", tok, nil, 404)

	// 4. History
	var txs []map[string]interface{}
	decode(call("GET", "/api/portfolio/transactions", tok, nil, 200), &txs)
	if len(txs) != 4 {
		log.Fatalf("expected 4 transactions, got %d", len(txs))
	}

	// 5. Wishlist
	call("POST", "/api/wishlist", tok, map[string]string{"symbol": "AAPL"}, 201)
	call("GET", "/api/wishlist", tok, nil, 200)
	call("DELETE", "/api/wishlist/AAPL", tok, nil, 200)

	// 6. Public lookups
	call("GET", "/api/exchange-rate", "", nil, 200)
	call("GET", "/api/search-stocks?q=apple", "", nil, 200)

	log.Info("ALL TESTS PASSED")
}

func call(method, path, token string, body interface{}, expectedStatus int) []byte {
	log.Infof("Testing %s %s...", method, path)
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, *baseURL+path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		log.Fatalf("expected status %d, got %d. Body: %s", expectedStatus, resp.StatusCode, string(respBody))
	}
	log.Debugf("response: %s", string(respBody))
	return respBody
}

func decode(raw []byte, out interface{}) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Fatalf("bad envelope: %v", err)
	}
	if !env.Success {
		log.Fatalf("request reported failure: %s", env.Error)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		log.Fatalf("bad data: %v", err)
	}
}
