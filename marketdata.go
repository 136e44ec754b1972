// FILE: marketdata.go
// Package main – External market-data lookup for the manual-trade venue.
//
// Venues without a quote API get prices from public market-data services
// instead. Two independently swappable sources are tried in order:
//   • primary   – chart-style JSON API (last price + previous close)
//   • secondary – refresh-style JSON API ("last"/"bid" fields, parsed with
//     jsonpath because the feed sometimes stringifies numbers)
//
// Symbols are tried in normalized forms: a code that already carries a market
// suffix ("005930.KS") is used verbatim; a plain code is tried bare and then
// with the configured suffix appended. If every source/form combination
// fails, the lookup returns an error, never a stale value.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
)

type quoteSource interface {
	name() string
	fetch(ctx context.Context, symbol string) (*PriceData, error)
}

// quoteLookup tries each source against each symbol form, first hit wins.
type quoteLookup struct {
	sources []quoteSource
	suffix  string // market suffix appended to plain codes
}

func newQuoteLookup() *quoteLookup {
	return &quoteLookup{
		sources: []quoteSource{
			&chartQuoteSource{
				base: strings.TrimRight(getEnv("MARKET_DATA_PRIMARY_BASE", "https://query1.finance.yahoo.com"), "/"),
				hc:   &http.Client{Timeout: 10 * time.Second},
			},
			&refreshQuoteSource{
				base: strings.TrimRight(getEnv("MARKET_DATA_SECONDARY_BASE", "https://www.tradegate.de"), "/"),
				hc:   &http.Client{Timeout: 10 * time.Second},
			},
		},
		suffix: getEnv("MARKET_DATA_SUFFIX", "KS"),
	}
}

// symbolForms returns the candidate spellings to query, most specific first.
func (q *quoteLookup) symbolForms(symbol string) []string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return nil
	}
	if strings.Contains(s, ".") {
		return []string{s}
	}
	if q.suffix == "" {
		return []string{s}
	}
	return []string{s, s + "." + strings.ToUpper(q.suffix)}
}

// Lookup resolves the freshest quote it can, or an "unavailable" error.
func (q *quoteLookup) Lookup(ctx context.Context, symbol string) (*PriceData, error) {
	forms := q.symbolForms(symbol)
	if len(forms) == 0 {
		return nil, fmt.Errorf("empty symbol")
	}
	for _, src := range q.sources {
		for _, form := range forms {
			p, err := src.fetch(ctx, form)
			if err != nil {
				log.Printf("[PRICE] %s %s: %v", src.name(), form, err)
				continue
			}
			if p.CurrentPrice > 0 {
				p.Symbol = symbol
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("price unavailable for %s (all sources failed)", symbol)
}

// --------- primary: chart-style API ---------

type chartQuoteSource struct {
	base string
	hc   *http.Client
}

func (s *chartQuoteSource) name() string { return "chart" }

func (s *chartQuoteSource) fetch(ctx context.Context, symbol string) (*PriceData, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", s.base, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chart %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice float64 `json:"regularMarketPrice"`
					ChartPreviousClose float64 `json:"chartPreviousClose"`
				} `json:"meta"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart: empty result")
	}
	meta := payload.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("chart: no market price")
	}
	p := &PriceData{CurrentPrice: meta.RegularMarketPrice}
	if meta.ChartPreviousClose > 0 {
		p.ChangeAmount = meta.RegularMarketPrice - meta.ChartPreviousClose
		p.ChangePercent = p.ChangeAmount / meta.ChartPreviousClose * 100
	}
	return p, nil
}

// --------- secondary: refresh-style API ---------

type refreshQuoteSource struct {
	base string
	hc   *http.Client
}

func (s *refreshQuoteSource) name() string { return "refresh" }

func (s *refreshQuoteSource) fetch(ctx context.Context, symbol string) (*PriceData, error) {
	u := s.base + "/refresh.php?isin=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("refresh %d: %s", resp.StatusCode, string(body))
	}
	var jobj any
	if err := json.NewDecoder(resp.Body).Decode(&jobj); err != nil {
		return nil, fmt.Errorf("decode refresh: %w", err)
	}

	// "last" is the last transaction; it moves slower than the bid but the
	// bid can be empty, so fall back in that order.
	last, err := jsonNumberAt(jobj, "$.last")
	if err != nil || last <= 0 {
		last, err = jsonNumberAt(jobj, "$.bid")
		if err != nil {
			return nil, fmt.Errorf("refresh: no last/bid: %w", err)
		}
	}
	if last <= 0 {
		return nil, fmt.Errorf("refresh: empty quote for %s", symbol)
	}
	p := &PriceData{CurrentPrice: last}
	if prev, err := jsonNumberAt(jobj, "$.previous"); err == nil && prev > 0 {
		p.ChangeAmount = last - prev
		p.ChangePercent = p.ChangeAmount / prev * 100
	}
	return p, nil
}

// jsonNumberAt extracts a number at a jsonpath, tolerating the feed's habit
// of returning numbers as localized strings ("1.234,56").
func jsonNumberAt(jobj any, path string) (float64, error) {
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return 0, err
	}
	if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
		jval = jlist[0]
	}
	switch v := jval.(type) {
	case float64:
		return v, nil
	case string:
		sv := strings.ReplaceAll(v, " ", "")
		if strings.Contains(sv, ",") && strings.Count(sv, ".") <= 1 {
			sv = strings.ReplaceAll(sv, ".", "")
			sv = strings.ReplaceAll(sv, ",", ".")
		}
		f, err := strconv.ParseFloat(sv, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number string %q: %w", v, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value at %s is neither float nor string", path)
	}
}
