package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"correlation-crack/internal/contracts"
	"correlation-crack/internal/ratelimit"
	"correlation-crack/internal/retry"
	"correlation-crack/internal/timeutil"
)

const cfdKeepAliveInterval = 9 * time.Minute

// CFDAdapterConfig configures a CFDAdapter.
type CFDAdapterConfig struct {
	Name       string
	BaseURL    string
	StreamURL  string
	APIKey     string
	Password   string
	AccountID  string
}

// CFDAdapter is the CFD-broker venue adapter. Unlike the crypto adapter,
// it must complete a two-step session handshake before any data call:
// fetch a per-session encryption key, then create a credentialed session
// that returns two session tokens attached to every subsequent request.
// It also opens a keep-alive streaming channel, pinged every 9 minutes.
type CFDAdapter struct {
	cfg     CFDAdapterConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	retry   *retry.Executor
	logger  zerolog.Logger

	mu            sync.Mutex
	initialized   bool
	healthy       bool
	securityToken string
	cst           string

	conn        *websocket.Conn
	stopKeepAlive chan struct{}
	keepAliveWG   sync.WaitGroup
}

var _ Provider = (*CFDAdapter)(nil)

func NewCFDAdapter(cfg CFDAdapterConfig, limiter *ratelimit.Limiter, retryExec *retry.Executor, logger zerolog.Logger) *CFDAdapter {
	return &CFDAdapter{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		retry:   retryExec,
		logger:  logger,
	}
}

func (a *CFDAdapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return "cfd-broker"
}

// Initialize performs the encryption-key fetch, the credentialed session
// create, and opens the keep-alive streaming channel.
func (a *CFDAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	encryptionKey, err := retry.Execute(ctx, a.retry, func() (string, error) {
		a.limiter.WaitForSlot(ctx)
		return a.fetchEncryptionKey(ctx)
	})
	if err != nil {
		a.healthy = false
		return contracts.NewProviderUnhealthy(fmt.Sprintf("%s: encryption key fetch failed: %v", a.Name(), err))
	}

	tokens, err := retry.Execute(ctx, a.retry, func() (tokenPair, error) {
		a.limiter.WaitForSlot(ctx)
		return a.createSession(ctx, encryptionKey)
	})
	if err != nil {
		a.healthy = false
		return contracts.NewProviderUnhealthy(fmt.Sprintf("%s: session create failed: %v", a.Name(), err))
	}

	a.securityToken = tokens.securityToken
	a.cst = tokens.cst
	a.initialized = true
	a.healthy = true

	if a.cfg.StreamURL != "" {
		if err := a.openKeepAliveStream(); err != nil {
			a.logger.Warn().Err(err).Str("venue", a.Name()).Msg("keep-alive stream failed to open, continuing without it")
		}
	}

	return nil
}

// tokenPair bundles the two-token handshake result so retry.Execute's
// single-return-value signature can carry both.
type tokenPair struct {
	securityToken string
	cst           string
}

func (a *CFDAdapter) fetchEncryptionKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/session/encryptionKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-IG-API-KEY", a.cfg.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("encryption key request failed (%d): %s", resp.StatusCode, string(body))
	}

	var out struct {
		EncryptionKey string `json:"encryptionKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.EncryptionKey, nil
}

func (a *CFDAdapter) createSession(ctx context.Context, encryptionKey string) (tokenPair, error) {
	_ = encryptionKey // the fetched key is not used: the password is sent as configured, unencrypted

	payload, _ := json.Marshal(map[string]string{
		"identifier": a.cfg.AccountID,
		"password":   a.cfg.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/session", bytes.NewReader(payload))
	if err != nil {
		return tokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IG-API-KEY", a.cfg.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return tokenPair{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return tokenPair{}, fmt.Errorf("session create failed (%d)", resp.StatusCode)
	}

	return tokenPair{
		securityToken: resp.Header.Get("X-SECURITY-TOKEN"),
		cst:           resp.Header.Get("CST"),
	}, nil
}

// openKeepAliveStream dials the broker's streaming endpoint and starts a
// background ping loop, matching the teacher's listen-key keep-alive
// cadence shape but on a fixed 9-minute interval per the CFD venue's
// session lifetime.
func (a *CFDAdapter) openKeepAliveStream() error {
	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.StreamURL, nil)
	if err != nil {
		return err
	}
	a.conn = conn
	a.stopKeepAlive = make(chan struct{})

	a.keepAliveWG.Add(1)
	go a.keepAliveLoop()
	return nil
}

func (a *CFDAdapter) keepAliveLoop() {
	defer a.keepAliveWG.Done()
	ticker := time.NewTicker(cfdKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			conn := a.conn
			a.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Warn().Err(err).Str("venue", a.Name()).Msg("keep-alive ping failed")
				return
			}
		case <-a.stopKeepAlive:
			return
		}
	}
}

// Disconnect explicitly closes the broker session in addition to the
// streaming channel.
func (a *CFDAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	stop := a.stopKeepAlive
	a.stopKeepAlive = nil
	a.mu.Unlock()

	// Signal and wait for the keep-alive loop outside the lock: the loop
	// itself takes a.mu to read a.conn on each tick, so holding it here
	// would deadlock against that goroutine.
	if stop != nil {
		close(stop)
	}
	a.keepAliveWG.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}

	if a.initialized {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.cfg.BaseURL+"/session", nil)
		if err == nil {
			req.Header.Set("X-SECURITY-TOKEN", a.securityToken)
			req.Header.Set("CST", a.cst)
			if resp, err := a.http.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}

	a.initialized = false
	a.healthy = false
	a.securityToken = ""
	a.cst = ""
	return nil
}

func (a *CFDAdapter) IsHealthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized && a.healthy
}

func (a *CFDAdapter) ensureInitialized(ctx context.Context) error {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()
	if initialized {
		return nil
	}
	return a.Initialize(ctx)
}

func (a *CFDAdapter) authedRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	req.Header.Set("X-SECURITY-TOKEN", a.securityToken)
	req.Header.Set("CST", a.cst)
	a.mu.Unlock()
	req.Header.Set("X-IG-API-KEY", a.cfg.APIKey)
	return req, nil
}

func (a *CFDAdapter) GetMarketSnapshot(ctx context.Context, symbol string) (contracts.MarketSnapshot, error) {
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

func (a *CFDAdapter) GetCandles(ctx context.Context, symbol string, interval contracts.Interval, limit int) ([]contracts.Candle, error) {
	if err := a.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	body, err := retry.Execute(ctx, a.retry, func() ([]byte, error) {
		a.limiter.WaitForSlot(ctx)
		req, err := a.authedRequest(ctx, http.MethodGet, fmt.Sprintf("/prices/%s?resolution=%s&max=%d", symbol, string(interval), limit))
		if err != nil {
			return nil, err
		}
		resp, err := a.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("prices request failed (%d): %s", resp.StatusCode, string(b))
		}
		return b, nil
	})
	if err != nil {
		return nil, contracts.NewTransportFailure(err)
	}

	var raw struct {
		Prices []struct {
			SnapshotTimeUTC string  `json:"snapshotTimeUTC"`
			OpenPrice       float64 `json:"openPrice"`
			HighPrice       float64 `json:"highPrice"`
			LowPrice        float64 `json:"lowPrice"`
			ClosePrice      float64 `json:"closePrice"`
			LastTradedVolume float64 `json:"lastTradedVolume"`
		} `json:"prices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, contracts.NewTransportFailure(fmt.Errorf("parsing prices: %w", err))
	}

	candles := make([]contracts.Candle, 0, len(raw.Prices))
	for _, p := range raw.Prices {
		ts, err := time.Parse("2006-01-02T15:04:05", p.SnapshotTimeUTC)
		if err != nil {
			continue
		}
		openTime := timeutil.FloorToInterval(ts, interval)
		candles = append(candles, contracts.Candle{
			Symbol:    symbol,
			OpenTime:  openTime,
			CloseTime: timeutil.CeilToIntervalEnd(openTime, interval),
			Open:      p.OpenPrice,
			High:      p.HighPrice,
			Low:       p.LowPrice,
			Close:     p.ClosePrice,
			Volume:    p.LastTradedVolume,
		})
	}
	return candles, nil
}

func (a *CFDAdapter) GetTicker24h(ctx context.Context, symbol string) (contracts.Ticker24h, error) {
	if err := a.ensureInitialized(ctx); err != nil {
		return contracts.Ticker24h{}, err
	}

	body, err := retry.Execute(ctx, a.retry, func() ([]byte, error) {
		a.limiter.WaitForSlot(ctx)
		req, err := a.authedRequest(ctx, http.MethodGet, "/markets/"+symbol)
		if err != nil {
			return nil, err
		}
		resp, err := a.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("market snapshot request failed (%d): %s", resp.StatusCode, string(b))
		}
		return b, nil
	})
	if err != nil {
		return contracts.Ticker24h{}, contracts.NewTransportFailure(err)
	}

	var raw struct {
		Snapshot struct {
			Bid              float64 `json:"bid"`
			Offer            float64 `json:"offer"`
			High             float64 `json:"high"`
			Low              float64 `json:"low"`
			NetChange        float64 `json:"netChange"`
			PercentageChange float64 `json:"percentageChange"`
			UpdateTime       string  `json:"updateTime"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return contracts.Ticker24h{}, contracts.NewTransportFailure(fmt.Errorf("parsing market snapshot: %w", err))
	}

	mid := (raw.Snapshot.Bid + raw.Snapshot.Offer) / 2
	return contracts.Ticker24h{
		Symbol:        symbol,
		Last:          mid,
		Change:        raw.Snapshot.NetChange,
		ChangePercent: raw.Snapshot.PercentageChange,
		Bid:           raw.Snapshot.Bid,
		Ask:           raw.Snapshot.Offer,
		High:          raw.Snapshot.High,
		Low:           raw.Snapshot.Low,
		Close:         mid,
		Timestamp:     time.Now(),
	}, nil
}
