// FILE: broker_exchange.go
// Package main — Automated exchange broker (direct REST/HMAC).
//
// Talks to the venue's spot REST API with HMAC-SHA256 signed query strings.
// An order placed here is genuinely routed to the venue.
//
// Required env:
//   BROKER=exchange
//   EXCHANGE_ACCESS_KEY=<key>
//   EXCHANGE_SECRET_KEY=<secret>
// Optional:
//   EXCHANGE_API_BASE=https://api.binance.com
//   EXCHANGE_RECV_WINDOW_MS=5000
//   EXCHANGE_MIN_ORDER_PRICE=10   (venue minimum order value, quote units)

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExchangeBroker struct {
	accessKey  string
	secretKey  string
	baseURL    string
	recvWindow int64
	minOrder   float64
	hc         *http.Client

	acct *accountConfigCache
}

func NewExchangeBrokerFromEnv(cfg Config, gw *GatewayClient) (*ExchangeBroker, error) {
	accessKey := getEnv("EXCHANGE_ACCESS_KEY", "")
	secretKey := getEnv("EXCHANGE_SECRET_KEY", "")
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("EXCHANGE_ACCESS_KEY and EXCHANGE_SECRET_KEY must be set")
	}
	b := &ExchangeBroker{
		accessKey:  accessKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(getEnv("EXCHANGE_API_BASE", "https://api.binance.com"), "/"),
		recvWindow: int64(getEnvInt("EXCHANGE_RECV_WINDOW_MS", 5000)),
		minOrder:   getEnvFloat("EXCHANGE_MIN_ORDER_PRICE", 10),
		hc:         &http.Client{Timeout: 10 * time.Second},
	}
	b.acct = newAccountConfigCache(cfg.AccountCacheTTL(), func(ctx context.Context) (KV, error) {
		return gw.GetAccountConfig(ctx, cfg.GatewayAccount)
	})
	return b, nil
}

func (b *ExchangeBroker) Name() string { return "exchange" }

// ----- signing & transport -----

func (b *ExchangeBroker) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(b.secretKey))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *ExchangeBroker) do(ctx context.Context, method, path string, q url.Values, signed bool) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if b.recvWindow > 0 {
			q.Set("recvWindow", strconv.FormatInt(b.recvWindow, 10))
		}
		q.Set("signature", b.sign(q))
	}

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, b.baseURL+path+"?"+q.Encode(), nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, b.baseURL+path, strings.NewReader(q.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	if b.accessKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.accessKey)
	}
	res, err := b.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("exchange %s %s: %s", method, path, string(bs))
	}
	return bs, nil
}

// ----- interface methods -----

func (b *ExchangeBroker) GetBalances(ctx context.Context) (map[string]Balance, error) {
	bs, err := b.do(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}
	var acct struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(bs, &acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	out := make(map[string]Balance, len(acct.Balances))
	for _, row := range acct.Balances {
		free, _ := strconv.ParseFloat(row.Free, 64)
		locked, _ := strconv.ParseFloat(row.Locked, 64)
		qty := free + locked
		if qty <= 0 {
			continue
		}
		sym := strings.ToUpper(row.Asset)
		// The venue does not report cost basis; the backend's asset rows carry
		// the average price where a strategy needs it.
		out[sym] = Balance{Symbol: sym, Quantity: qty}
	}
	return out, nil
}

func (b *ExchangeBroker) GetPendingOrders(ctx context.Context) ([]Order, error) {
	bs, err := b.do(ctx, http.MethodGet, "/api/v3/openOrders", nil, true)
	if err != nil {
		return nil, err
	}
	var rows []exchangeOrderJSON
	if err := json.Unmarshal(bs, &rows); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toOrder())
	}
	return out, nil
}

func (b *ExchangeBroker) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price float64) (*Order, error) {
	if quantity <= 0 {
		return nil, errors.New("quantity must be > 0")
	}
	q := url.Values{}
	q.Set("symbol", mapSymbolToVenue(symbol))
	q.Set("side", strings.ToUpper(string(side)))
	q.Set("quantity", trimDec(quantity))
	q.Set("newClientOrderId", uuid.New().String())
	if price > 0 {
		q.Set("type", "LIMIT")
		q.Set("timeInForce", "GTC")
		q.Set("price", trimDec(price))
	} else {
		q.Set("type", "MARKET")
	}

	bs, err := b.do(ctx, http.MethodPost, "/api/v3/order", q, true)
	if err != nil {
		return nil, err
	}
	var row exchangeOrderJSON
	if err := json.Unmarshal(bs, &row); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	o := row.toOrder()
	if o.Symbol == "" {
		o.Symbol = symbol
	}
	IncOrderPlaced(b.Name(), side)
	return &o, nil
}

func (b *ExchangeBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	q := url.Values{}
	q.Set("origClientOrderId", orderID)
	if _, err := b.do(ctx, http.MethodDelete, "/api/v3/order", q, true); err != nil {
		return false, err
	}
	return true, nil
}

func (b *ExchangeBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	q := url.Values{}
	q.Set("origClientOrderId", orderID)
	bs, err := b.do(ctx, http.MethodGet, "/api/v3/order", q, true)
	if err != nil {
		return "", err
	}
	var row exchangeOrderJSON
	if err := json.Unmarshal(bs, &row); err != nil {
		return "", fmt.Errorf("decode order status: %w", err)
	}
	return row.toOrder().Status, nil
}

func (b *ExchangeBroker) GetCurrentPrice(ctx context.Context, symbol string) (*PriceData, error) {
	q := url.Values{}
	q.Set("symbol", mapSymbolToVenue(symbol))
	bs, err := b.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", q, false)
	if err != nil {
		return nil, err
	}
	var row exchangeTickerJSON
	if err := json.Unmarshal(bs, &row); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	return row.toPriceData(symbol), nil
}

// GetCurrentPrices fetches the whole batch in one venue call.
func (b *ExchangeBroker) GetCurrentPrices(ctx context.Context, symbols []string) (map[string]PriceData, error) {
	if len(symbols) == 0 {
		return map[string]PriceData{}, nil
	}
	venue := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols)) // venue symbol -> caller symbol
	for _, s := range symbols {
		v := mapSymbolToVenue(s)
		venue = append(venue, `"`+v+`"`)
		bySymbol[v] = s
	}
	q := url.Values{}
	q.Set("symbols", "["+strings.Join(venue, ",")+"]")
	bs, err := b.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", q, false)
	if err != nil {
		return nil, err
	}
	var rows []exchangeTickerJSON
	if err := json.Unmarshal(bs, &rows); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	out := make(map[string]PriceData, len(rows))
	for _, row := range rows {
		sym, ok := bySymbol[row.Symbol]
		if !ok {
			continue
		}
		out[sym] = *row.toPriceData(sym)
	}
	return out, nil
}

func (b *ExchangeBroker) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	q := url.Values{}
	q.Set("symbol", mapSymbolToVenue(symbol))
	q.Set("limit", "5")
	bs, err := b.do(ctx, http.MethodGet, "/api/v3/depth", q, false)
	if err != nil {
		return nil, err
	}
	var depth struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(bs, &depth); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}
	book := &OrderBook{Symbol: symbol, Timestamp: time.Now()}
	book.Bids = toBookLevels(depth.Bids)
	book.Asks = toBookLevels(depth.Asks)
	return book, nil
}

func (b *ExchangeBroker) MinOrderPrice() float64 { return b.minOrder }

func (b *ExchangeBroker) SupportsFractional() bool { return true }

func (b *ExchangeBroker) AccountConfig(ctx context.Context, force bool) (KV, error) {
	return b.acct.Get(ctx, force)
}

func (b *ExchangeBroker) InvalidateAccountConfig() { b.acct.Invalidate() }

// ----- wire shapes & helpers -----

type exchangeOrderJSON struct {
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"clientOrderId"`
	OrderID       int64  `json:"orderId"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
}

func (row exchangeOrderJSON) toOrder() Order {
	price, _ := strconv.ParseFloat(row.Price, 64)
	qty, _ := strconv.ParseFloat(row.OrigQty, 64)
	exec, _ := strconv.ParseFloat(row.ExecutedQty, 64)
	id := row.ClientOrderID
	if id == "" {
		id = strconv.FormatInt(row.OrderID, 10)
	}
	return Order{
		ID:               id,
		Symbol:           row.Symbol,
		Side:             OrderSide(strings.ToLower(row.Side)),
		Quantity:         qty,
		Price:            price,
		Status:           mapVenueStatus(row.Status),
		ExecutedQuantity: exec,
	}
}

type exchangeTickerJSON struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
}

func (row exchangeTickerJSON) toPriceData(symbol string) *PriceData {
	last, _ := strconv.ParseFloat(row.LastPrice, 64)
	chg, _ := strconv.ParseFloat(row.PriceChange, 64)
	pct, _ := strconv.ParseFloat(row.PriceChangePercent, 64)
	return &PriceData{Symbol: symbol, CurrentPrice: last, ChangePercent: pct, ChangeAmount: chg}
}

func mapVenueStatus(s string) OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return StatusPending
	case "PARTIALLY_FILLED":
		return StatusPartial
	case "FILLED":
		return StatusExecuted
	case "CANCELED", "EXPIRED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	default:
		return StatusPending
	}
}

// mapSymbolToVenue converts "BTC-USD" -> "BTCUSDT" (USD≈USDT) and strips
// dashes otherwise; venue symbols carry no separator.
func mapSymbolToVenue(symbol string) string {
	p := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(p, "-USD") {
		return strings.ReplaceAll(p[:len(p)-4], "-", "") + "USDT"
	}
	return strings.ReplaceAll(p, "-", "")
}

func toBookLevels(rows [][]string) []BookLevel {
	out := make([]BookLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		px, _ := strconv.ParseFloat(r[0], 64)
		qty, _ := strconv.ParseFloat(r[1], 64)
		out = append(out, BookLevel{Price: px, Quantity: qty})
	}
	return out
}

func trimDec(f float64) string {
	s := strconv.FormatFloat(f, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		return "0"
	}
	return s
}
