package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlation-crack/internal/contracts"
)

func newTestCFDAdapter(baseURL string) *CFDAdapter {
	return NewCFDAdapter(
		CFDAdapterConfig{Name: "test-cfd", BaseURL: baseURL, APIKey: "key", Password: "pw", AccountID: "acct"},
		testLimiter(), testRetry(), zerolog.Nop(),
	)
}

func cfdHandshakeHandler(t *testing.T, extra http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/session/encryptionKey":
			w.Write([]byte(`{"encryptionKey":"deadbeef"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			w.Header().Set("X-SECURITY-TOKEN", "sec-token")
			w.Header().Set("CST", "cst-token")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && r.URL.Path == "/session":
			w.WriteHeader(http.StatusOK)
		default:
			if extra != nil {
				extra(w, r)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestCFDAdapter_Initialize_CompletesTwoStepHandshake(t *testing.T) {
	srv := httptest.NewServer(cfdHandshakeHandler(t, nil))
	defer srv.Close()

	a := newTestCFDAdapter(srv.URL)
	require.NoError(t, a.Initialize(context.Background()))
	assert.True(t, a.IsHealthy())
	assert.Equal(t, "sec-token", a.securityToken)
	assert.Equal(t, "cst-token", a.cst)
}

func TestCFDAdapter_Initialize_EncryptionKeyFailureReportsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestCFDAdapter(srv.URL)
	err := a.Initialize(context.Background())
	require.Error(t, err)

	var engErr *contracts.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, contracts.KindProviderUnhealthy, engErr.Kind)
	assert.False(t, a.IsHealthy())
}

func TestCFDAdapter_GetCandles_ParsesPricesEnvelope(t *testing.T) {
	srv := httptest.NewServer(cfdHandshakeHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/prices/EURUSD" {
			assert.Equal(t, "sec-token", r.Header.Get("X-SECURITY-TOKEN"))
			assert.Equal(t, "cst-token", r.Header.Get("CST"))
			w.Write([]byte(`{
				"prices": [
					{"snapshotTimeUTC":"2026-07-28T10:00:00","openPrice":1.1,"highPrice":1.2,"lowPrice":1.05,"closePrice":1.15,"lastTradedVolume":10},
					{"snapshotTimeUTC":"2026-07-28T11:00:00","openPrice":1.15,"highPrice":1.25,"lowPrice":1.1,"closePrice":1.2,"lastTradedVolume":8}
				]
			}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestCFDAdapter(srv.URL)
	candles, err := a.GetCandles(context.Background(), "EURUSD", contracts.Interval1h, 10)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "EURUSD", candles[0].Symbol)
	assert.Equal(t, 1.2, candles[0].High)
	assert.Equal(t, 1.2, candles[1].Close)
}

func TestCFDAdapter_GetTicker24h_MidPriceFromBidOffer(t *testing.T) {
	srv := httptest.NewServer(cfdHandshakeHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/markets/EURUSD" {
			w.Write([]byte(`{"snapshot":{"bid":1.10,"offer":1.12,"high":1.15,"low":1.05,"netChange":0.01,"percentageChange":0.9}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestCFDAdapter(srv.URL)
	ticker, err := a.GetTicker24h(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.InDelta(t, 1.11, ticker.Last, 1e-9)
	assert.Equal(t, 1.10, ticker.Bid)
	assert.Equal(t, 1.12, ticker.Ask)
}

func TestCFDAdapter_Disconnect_NoKeepAliveStreamIsANoop(t *testing.T) {
	srv := httptest.NewServer(cfdHandshakeHandler(t, nil))
	defer srv.Close()

	a := newTestCFDAdapter(srv.URL) // StreamURL is empty: no websocket dial attempted
	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsHealthy())
	assert.Empty(t, a.securityToken)
}
