// FILE: marketdata_test.go
package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUsesPrimarySource(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":101.5,"chartPreviousClose":100}}]}}`))
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("secondary source must not be consulted when the primary answers")
	}))
	defer secondary.Close()

	t.Setenv("MARKET_DATA_PRIMARY_BASE", primary.URL)
	t.Setenv("MARKET_DATA_SECONDARY_BASE", secondary.URL)
	t.Setenv("MARKET_DATA_SUFFIX", "KS")

	p, err := newQuoteLookup().Lookup(ctxT(t), "005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", p.Symbol)
	assert.InDelta(t, 101.5, p.CurrentPrice, 1e-9)
	assert.InDelta(t, 1.5, p.ChangeAmount, 1e-9)
	assert.InDelta(t, 1.5, p.ChangePercent, 1e-9)
}

func TestLookupFallsBackToSecondarySource(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refresh.php", r.URL.Path)
		_, _ = w.Write([]byte(`{"last":70500,"previous":70000}`))
	}))
	defer secondary.Close()

	t.Setenv("MARKET_DATA_PRIMARY_BASE", primary.URL)
	t.Setenv("MARKET_DATA_SECONDARY_BASE", secondary.URL)
	t.Setenv("MARKET_DATA_SUFFIX", "KS")

	p, err := newQuoteLookup().Lookup(ctxT(t), "005930")
	require.NoError(t, err)
	assert.InDelta(t, 70500.0, p.CurrentPrice, 1e-9)
	assert.InDelta(t, 500.0, p.ChangeAmount, 1e-9)
}

func TestLookupSecondaryToleratesLocalizedStrings(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"last":"1.234,56","previous":"1.200,00"}`))
	}))
	defer secondary.Close()

	t.Setenv("MARKET_DATA_PRIMARY_BASE", primary.URL)
	t.Setenv("MARKET_DATA_SECONDARY_BASE", secondary.URL)
	t.Setenv("MARKET_DATA_SUFFIX", "")

	p, err := newQuoteLookup().Lookup(ctxT(t), "DE0007664039")
	require.NoError(t, err)
	assert.InDelta(t, 1234.56, p.CurrentPrice, 1e-9)
}

func TestLookupErrorsWhenAllSourcesFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer down.Close()

	t.Setenv("MARKET_DATA_PRIMARY_BASE", down.URL)
	t.Setenv("MARKET_DATA_SECONDARY_BASE", down.URL)
	t.Setenv("MARKET_DATA_SUFFIX", "KS")

	_, err := newQuoteLookup().Lookup(ctxT(t), "005930")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price unavailable")
}

func TestSymbolForms(t *testing.T) {
	q := &quoteLookup{suffix: "KS"}

	assert.Equal(t, []string{"005930", "005930.KS"}, q.symbolForms("005930"))
	// an explicit market suffix is used verbatim
	assert.Equal(t, []string{"005930.KQ"}, q.symbolForms("005930.KQ"))
	// normalization uppercases
	assert.Equal(t, []string{"AAPL", "AAPL.KS"}, q.symbolForms("aapl"))
	assert.Empty(t, q.symbolForms("  "))

	bare := &quoteLookup{suffix: ""}
	assert.Equal(t, []string{"005930"}, bare.symbolForms("005930"))
}

func TestJSONNumberAt(t *testing.T) {
	obj := map[string]any{
		"plain":     42.5,
		"localized": "1.234,56",
		"spaced":    "1 234,5",
		"list":      []any{7.5, 8.5},
		"junk":      true,
	}

	v, err := jsonNumberAt(obj, "$.plain")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, v, 1e-9)

	v, err = jsonNumberAt(obj, "$.localized")
	require.NoError(t, err)
	assert.InDelta(t, 1234.56, v, 1e-9)

	v, err = jsonNumberAt(obj, "$.spaced")
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, v, 1e-9)

	v, err = jsonNumberAt(obj, "$.list")
	require.NoError(t, err)
	assert.InDelta(t, 7.5, v, 1e-9)

	_, err = jsonNumberAt(obj, "$.junk")
	require.Error(t, err)

	_, err = jsonNumberAt(obj, "$.missing")
	require.Error(t, err)
}
