// Package provider's crypto adapter implements Provider against a
// Binance-shaped spot/futures REST surface: raw OHLCV arrays
// ([openTimeMs, open, high, low, close, volume, ...]) and a 24hr ticker
// endpoint, behind the shared rate limiter, retry executor, and an
// optional TTL cache.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"correlation-crack/internal/contracts"
	"correlation-crack/internal/ratelimit"
	"correlation-crack/internal/retry"
	"correlation-crack/internal/timeutil"
	"correlation-crack/internal/ttlcache"
)

// CryptoAdapterConfig configures a CryptoAdapter.
type CryptoAdapterConfig struct {
	Name      string // e.g. "binance-spot", "binance-futures"
	BaseURL   string
	APIKey    string
	SecretKey string
}

// CryptoAdapter is the spot/futures crypto venue adapter. One limiter and
// retry executor instance is shared across every call made through it, as
// required of adapters of the same venue (§5).
type CryptoAdapter struct {
	cfg     CryptoAdapterConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	retry   *retry.Executor
	cache   ttlcache.Cache // may be nil: caching is opt-in
	logger  zerolog.Logger

	mu          sync.Mutex
	initialized bool
	healthy     bool
}

var _ Provider = (*CryptoAdapter)(nil)

// NewCryptoAdapter constructs a CryptoAdapter. cache may be nil to bypass
// caching entirely.
func NewCryptoAdapter(cfg CryptoAdapterConfig, limiter *ratelimit.Limiter, retryExec *retry.Executor, cache ttlcache.Cache, logger zerolog.Logger) *CryptoAdapter {
	return &CryptoAdapter{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		retry:   retryExec,
		cache:   cache,
		logger:  logger,
	}
}

func (a *CryptoAdapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return "crypto-spot-futures"
}

// Initialize verifies connectivity with a lightweight ping, and, when the
// adapter carries credentials, a signed account-status check so a bad API
// key/secret pair fails fast here rather than on the first real candle
// fetch.
func (a *CryptoAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	_, err := retry.Execute(ctx, a.retry, func() ([]byte, error) {
		a.limiter.WaitForSlot(ctx)
		return a.get(ctx, "/api/v3/ping", nil)
	})
	if err != nil {
		a.healthy = false
		return contracts.NewProviderUnhealthy(fmt.Sprintf("%s: initialize failed: %v", a.Name(), err))
	}

	if a.cfg.APIKey != "" && a.cfg.SecretKey != "" {
		_, err = retry.Execute(ctx, a.retry, func() ([]byte, error) {
			a.limiter.WaitForSlot(ctx)
			return a.get(ctx, "/api/v3/account", url.Values{})
		})
		if err != nil {
			a.healthy = false
			return contracts.NewProviderUnhealthy(fmt.Sprintf("%s: signed account check failed: %v", a.Name(), err))
		}
	}

	a.initialized = true
	a.healthy = true
	return nil
}

func (a *CryptoAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.healthy = false
	return nil
}

func (a *CryptoAdapter) IsHealthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized && a.healthy
}

func (a *CryptoAdapter) ensureInitialized(ctx context.Context) error {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()
	if initialized {
		return nil
	}
	return a.Initialize(ctx)
}

func (a *CryptoAdapter) GetMarketSnapshot(ctx context.Context, symbol string) (contracts.MarketSnapshot, error) {
	if err := a.ensureInitialized(ctx); err != nil {
		return contracts.MarketSnapshot{}, err
	}

	ticker, err := a.GetTicker24h(ctx, symbol)
	if err != nil {
		return contracts.MarketSnapshot{}, err
	}

	return contracts.MarketSnapshot{
		Symbol:           symbol,
		Price:            ticker.Last,
		Volume:           ticker.BaseVolume,
		Timestamp:        ticker.Timestamp,
		Change24h:        ticker.Change,
		ChangePercent24h: ticker.ChangePercent,
	}, nil
}

func (a *CryptoAdapter) GetCandles(ctx context.Context, symbol string, interval contracts.Interval, limit int) ([]contracts.Candle, error) {
	if err := a.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("candles:%s:%s:%s:%d", a.Name(), symbol, interval, limit)
	if a.cache != nil {
		if cached, ok := a.cache.Get(cacheKey); ok {
			if candles, ok := cached.([]contracts.Candle); ok {
				return candles, nil
			}
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(interval))
	params.Set("limit", strconv.Itoa(limit))

	body, err := retry.Execute(ctx, a.retry, func() ([]byte, error) {
		a.limiter.WaitForSlot(ctx)
		return a.get(ctx, "/api/v3/klines?"+params.Encode(), nil)
	})
	if err != nil {
		return nil, contracts.NewTransportFailure(err)
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, contracts.NewTransportFailure(fmt.Errorf("parsing klines: %w", err))
	}

	candles := make([]contracts.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openMs := int64(toFloat(row[0]))
		openTime := timeutil.FloorToInterval(time.UnixMilli(openMs), interval)
		candles = append(candles, contracts.Candle{
			Symbol:    symbol,
			OpenTime:  openTime,
			CloseTime: timeutil.CeilToIntervalEnd(openTime, interval),
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
			Trades:    tradesCount(row),
		})
	}

	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	if a.cache != nil {
		a.cache.Set(cacheKey, candles, 0)
	}

	return candles, nil
}

func tradesCount(row []any) int {
	if len(row) < 9 {
		return 0
	}
	return int(toFloat(row[8]))
}

func (a *CryptoAdapter) GetTicker24h(ctx context.Context, symbol string) (contracts.Ticker24h, error) {
	if err := a.ensureInitialized(ctx); err != nil {
		return contracts.Ticker24h{}, err
	}

	body, err := retry.Execute(ctx, a.retry, func() ([]byte, error) {
		a.limiter.WaitForSlot(ctx)
		return a.get(ctx, "/api/v3/ticker/24hr?symbol="+url.QueryEscape(symbol), nil)
	})
	if err != nil {
		return contracts.Ticker24h{}, contracts.NewTransportFailure(err)
	}

	var raw struct {
		LastPrice          string `json:"lastPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		OpenPrice          string `json:"openPrice"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		WeightedAvgPrice   string `json:"weightedAvgPrice"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return contracts.Ticker24h{}, contracts.NewTransportFailure(fmt.Errorf("parsing ticker: %w", err))
	}

	return contracts.Ticker24h{
		Symbol:        symbol,
		Last:          parseFloatField(raw.LastPrice),
		BaseVolume:    parseFloatField(raw.Volume),
		QuoteVolume:   parseFloatField(raw.QuoteVolume),
		Change:        parseFloatField(raw.PriceChange),
		ChangePercent: parseFloatField(raw.PriceChangePercent),
		Bid:           parseFloatField(raw.BidPrice),
		Ask:           parseFloatField(raw.AskPrice),
		Open:          parseFloatField(raw.OpenPrice),
		High:          parseFloatField(raw.HighPrice),
		Low:           parseFloatField(raw.LowPrice),
		Close:         parseFloatField(raw.LastPrice),
		VWAP:          parseFloatField(raw.WeightedAvgPrice),
		Timestamp:     time.UnixMilli(raw.CloseTime),
	}, nil
}

// get issues a GET request. Candle/ticker reads pass extraParams as nil
// and hit the venue unsigned, matching the public-endpoint contract. When
// extraParams is non-nil (account-status checks during Initialize), the
// request is signed per the venue's HMAC-SHA256 convention: a millisecond
// timestamp from the local clock is added to the param set and the resulting query string is
// signed with sign(), with the signature appended as the final param.
func (a *CryptoAdapter) get(ctx context.Context, path string, extraParams url.Values) ([]byte, error) {
	fullPath := path
	if extraParams != nil {
		signed := make(url.Values, len(extraParams)+1)
		for k, v := range extraParams {
			signed[k] = v
		}
		signed.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query := signed.Encode()
		fullPath = fmt.Sprintf("%s?%s&signature=%s", path, query, a.sign(query))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+fullPath, nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", a.cfg.APIKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded: %s", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("venue error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// sign produces the HMAC-SHA256 signature Binance-shaped venues require
// on authenticated endpoints.
func (a *CryptoAdapter) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloatField(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
