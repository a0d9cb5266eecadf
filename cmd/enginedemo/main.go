// Command enginedemo is a thin composition-root host: it loads
// configuration, wires the rate limiter, cache, retry executor, a
// provider adapter, and the correlation-crack engine, then runs the
// engine on a ticker and logs any signal it emits. The chat-bot/API/auth
// host layer this stands in for is explicitly out of scope for the core.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"correlation-crack/config"
	"correlation-crack/internal/contracts"
	"correlation-crack/internal/obs"
	"correlation-crack/internal/provider"
	"correlation-crack/internal/ratelimit"
	"correlation-crack/internal/retry"
	"correlation-crack/internal/strategy"
	"correlation-crack/internal/ttlcache"
)

func main() {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	groups, err := config.LoadGroups("groups.yaml")
	if err != nil {
		logger.Warn().Err(err).Msg("no correlated-group topology found, using a single EURUSD/GBPUSD demo group")
		groups = &config.GroupsFile{Groups: []config.CorrelatedGroup{{
			Name:          "demo-majors",
			PrimaryAssets: []string{"EURUSD", "GBPUSD"},
			Direction:     string(contracts.CrossUnder),
			Period:        "prev_day",
		}}}
	}

	reg := prometheus.NewRegistry()
	metrics := obs.Register(reg)

	limiter := ratelimit.New(ratelimit.Config{
		MaxTokens:      cfg.RateLimiter.MaxTokens,
		WindowDuration: cfg.RateLimiter.WindowDuration,
		WaitInterval:   cfg.RateLimiter.WaitInterval,
		OnStall:        func() { metrics.RateLimiterStalls.Inc() },
	}, logger)

	retryExec := retry.New(retry.Config{
		RetryAttempts: cfg.Retry.RetryAttempts,
		RetryDelay:    cfg.Retry.RetryDelay,
		OnRetry: func(attempt int, err error) {
			metrics.RetryAttempts.WithLabelValues(cfg.Provider.CryptoBaseURL, "retry").Inc()
		},
	}, logger)

	var cache ttlcache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		cache = ttlcache.NewRedis(cfg.Cache.RedisAddress, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.DefaultTTL, logger)
	default:
		mem := ttlcache.NewMemory(cfg.Cache.DefaultTTL, cfg.Cache.CleanupInterval, logger)
		mem.WithHitMissHooks(func() { metrics.CacheHits.Inc() }, func() { metrics.CacheMisses.Inc() })
		cache = mem
	}
	defer cache.Close()

	var dataProvider provider.Provider = provider.NewCryptoAdapter(provider.CryptoAdapterConfig{
		Name:      "crypto-spot",
		BaseURL:   cfg.Provider.CryptoBaseURL,
		APIKey:    cfg.Provider.CryptoAPIKey,
		SecretKey: cfg.Provider.CryptoSecretKey,
	}, limiter, retryExec, cache, logger)
	dataProvider = provider.WithCircuitBreaker(dataProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dataProvider.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("provider failed to initialize")
	}
	defer func() { _ = dataProvider.Disconnect(context.Background()) }()

	engine := strategy.New(dataProvider, logger, strategy.WithFetchObserver(func(venue string, d time.Duration) {
		metrics.FetchDuration.WithLabelValues(venue).Observe(d.Seconds())
	}))

	runGroup := func(group config.CorrelatedGroup) {
		period, err := parsePeriodSpec(group.Period, group.Timezone)
		if err != nil {
			logger.Error().Err(err).Str("group", group.Name).Msg("invalid period spec in group config")
			return
		}

		result := engine.Run(ctx, strategy.Config{
			PrimaryAssets:          group.PrimaryAssets,
			Period:                 period,
			Direction:              contracts.Direction(group.Direction),
			Timezone:               group.Timezone,
			MinCorrelatedAssets:    cfg.Strategy.MinCorrelatedAssets,
			MarketDataInterval:     contracts.Interval(cfg.Strategy.MarketDataInterval),
			CandlesLimit:           cfg.Strategy.CandlesLimit,
			CrossDetectionLookback: cfg.Strategy.CrossDetectionLookback,
		})

		switch {
		case !result.Success:
			metrics.StrategyOutcomes.WithLabelValues("failed").Inc()
			logger.Error().Str("group", group.Name).Str("error", result.Error).Msg("strategy run failed")
		case result.Signal != nil:
			metrics.StrategyOutcomes.WithLabelValues("signalling").Inc()
			logger.Info().
				Str("group", group.Name).
				Str("trigger_asset", result.Signal.TriggerAsset).
				Str("direction", string(result.Signal.Direction)).
				Float64("reference_level", result.Signal.ReferenceLevel).
				Float64("confidence", result.Signal.Confidence).
				Strs("correlated_assets", result.Signal.CorrelatedAssets).
				Msg("correlation crack detected")
		default:
			metrics.StrategyOutcomes.WithLabelValues("quiet").Inc()
			logger.Debug().Str("group", group.Name).Msg("no crack this cycle")
		}
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	logger.Info().Int("groups", len(groups.Groups)).Msg("engine demo started")
	for {
		for _, group := range groups.Groups {
			runGroup(group)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		}
	}
}

// parsePeriodSpec maps the small set of named-calendar strings a group's
// YAML config carries to a PeriodSpec. Richer period encodings (session,
// rolling, custom) are a config-schema concern left to the host (§6) and
// not needed by this demo's wiring.
func parsePeriodSpec(name, timezone string) (contracts.PeriodSpec, error) {
	switch contracts.CalendarPeriod(name) {
	case contracts.PrevDay, contracts.PrevWeek, contracts.PrevMonth,
		contracts.CurrentDay, contracts.CurrentWeek, contracts.CurrentMonth:
		return contracts.PeriodSpec{
			Kind:     contracts.PeriodCalendar,
			Calendar: contracts.CalendarPeriod(name),
			Timezone: timezone,
		}, nil
	default:
		return contracts.PeriodSpec{}, contracts.NewInvalidConfig("unknown named period: " + name)
	}
}
