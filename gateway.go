// FILE: gateway.go
// Package main – Authenticated HTTP client for the backend API.
//
// GatewayClient is the daemon's only channel to the personal-finance backend:
// listing tradable assets, reading the account configuration blob, pushing
// price updates, writing need-trade signals and recording transactions.
//
// Auth model: bearer token shared by all calls on one client instance. On a
// 401 the client performs exactly one synchronous re-login and retries the
// original request once; a second 401 propagates as a hard failure. All other
// HTTP/network errors propagate immediately; retry is reserved for auth
// expiry, not transient network errors.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type GatewayClient struct {
	base     string
	username string
	password string
	hc       *http.Client

	mu    sync.Mutex
	token string
}

func NewGatewayClient(base, username, password string) *GatewayClient {
	return &GatewayClient{
		base:     strings.TrimRight(base, "/"),
		username: username,
		password: password,
		hc:       &http.Client{Timeout: 10 * time.Second},
	}
}

// --------- verb helpers ---------

func (g *GatewayClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return g.do(ctx, http.MethodGet, endpoint, nil)
}

func (g *GatewayClient) Post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	return g.do(ctx, http.MethodPost, endpoint, payload)
}

func (g *GatewayClient) Put(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	return g.do(ctx, http.MethodPut, endpoint, payload)
}

func (g *GatewayClient) Delete(ctx context.Context, endpoint string) ([]byte, error) {
	return g.do(ctx, http.MethodDelete, endpoint, nil)
}

// do executes one request against the backend. On 401 it re-authenticates
// once and replays the request; the replay's 401 is terminal.
func (g *GatewayClient) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	status, data, err := g.send(ctx, method, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if err := g.reauth(ctx); err != nil {
			return nil, fmt.Errorf("gateway re-auth: %w", err)
		}
		status, data, err = g.send(ctx, method, endpoint, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("gateway %s %s: unauthorized after re-auth", method, endpoint)
		}
	}
	if status >= 400 {
		return nil, fmt.Errorf("gateway %s %s: %d: %s", method, endpoint, status, string(data))
	}
	return data, nil
}

func (g *GatewayClient) send(ctx context.Context, method, endpoint string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		bs, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	g.mu.Lock()
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	g.mu.Unlock()

	resp, err := g.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, nil
}

// reauth exchanges the configured credentials for a fresh bearer token and
// installs it for all subsequent calls on this client.
func (g *GatewayClient) reauth(ctx context.Context) error {
	creds := map[string]string{"username": g.username, "password": g.password}
	bs, _ := json.Marshal(creds)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/api/auth/login", bytes.NewReader(bs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("login %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode login: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("login returned empty token")
	}
	g.mu.Lock()
	g.token = out.Token
	g.mu.Unlock()
	IncGatewayReauth()
	return nil
}

// --------- typed endpoints ---------

// Asset is one tradable row from the backend, including the free-form
// strategy metadata attached by the user.
type Asset struct {
	ID       int64   `json:"id"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Type     string  `json:"type"` // "stock" | "crypto" | "cash" | ...
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Meta     KV      `json:"meta"`
}

// Transaction is the record the daemon writes after placing an order. The
// backend is the system of record for confirmation; the daemon always writes
// unconfirmed rows tagged with the broker order id and strategy name.
type Transaction struct {
	AssetID       int64   `json:"asset_id"`
	Type          string  `json:"type"` // "buy" | "sell"
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	BrokerOrderID string  `json:"broker_order_id"`
	Strategy      string  `json:"strategy"`
	Confirmed     bool    `json:"confirmed"`
}

// ListAssets fetches tradable assets, optionally filtered by symbol.
func (g *GatewayClient) ListAssets(ctx context.Context, account, symbol string) ([]Asset, error) {
	q := url.Values{}
	if account != "" {
		q.Set("account", account)
	}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	endpoint := "/api/assets"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	data, err := g.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var out []Asset
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	return out, nil
}

// GetAccountConfig fetches one account's opaque configuration blob.
func (g *GatewayClient) GetAccountConfig(ctx context.Context, account string) (KV, error) {
	data, err := g.Get(ctx, "/api/accounts/"+url.PathEscape(account)+"/config")
	if err != nil {
		return nil, err
	}
	var out KV
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode account config: %w", err)
	}
	return out, nil
}

// PushPrice records the latest quote for a symbol on the backend.
func (g *GatewayClient) PushPrice(ctx context.Context, symbol string, p PriceData) error {
	payload := map[string]any{
		"symbol":         symbol,
		"price":          p.CurrentPrice,
		"change_percent": p.ChangePercent,
		"change_amount":  p.ChangeAmount,
	}
	_, err := g.Put(ctx, "/api/prices/"+url.PathEscape(symbol), payload)
	return err
}

// PushNeedTrade writes a short-TTL need-trade signal for a manual-venue
// asset: desired price plus signed quantity (positive buy, negative sell).
// A human executes the trade out-of-band; the backend expires the slot.
func (g *GatewayClient) PushNeedTrade(ctx context.Context, assetID int64, price, signedQty float64) error {
	payload := map[string]any{
		"price":    price,
		"quantity": signedQty,
	}
	_, err := g.Put(ctx, fmt.Sprintf("/api/assets/%d/need-trade", assetID), payload)
	return err
}

// CreateTransaction records a placed order as an unconfirmed transaction.
func (g *GatewayClient) CreateTransaction(ctx context.Context, tx Transaction) error {
	_, err := g.Post(ctx, "/api/transactions", tx)
	return err
}
