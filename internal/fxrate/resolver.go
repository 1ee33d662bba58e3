// Package fxrate resolves historical exchange rates with a durable
// write-through cache, bounded retries, and a nearby-date fallback for
// weekends and holidays.
package fxrate

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Classification errors returned by a Provider. Anything else is treated
// as transient and retried.
var (
	// ErrNoData means the provider has no published rate for the requested
	// date (weekend or holiday). Triggers the nearby-date fallback.
	ErrNoData = errors.New("fxrate: no rate published for date")

	// ErrPermanent means retrying cannot help (auth failure, malformed
	// response). The lookup is abandoned immediately.
	ErrPermanent = errors.New("fxrate: permanent provider error")
)

const dateFormat = "2006-01-02"

// Provider fetches the rate for exactly the given date, with no retries
// of its own. Implementations classify failures via ErrNoData and
// ErrPermanent.
type Provider interface {
	Fetch(ctx context.Context, from, to string, date time.Time) (float64, error)
}

// RateCache is the durable store behind the resolver. Keys are
// (date, from, to); entries are never invalidated. Implementations live in
// internal/infrastructure/storage; tests use the in-memory stand-in.
type RateCache interface {
	GetRate(date, from, to string) (float64, bool)
	PutRate(date, from, to string, rate float64, fetchedAt time.Time) error
}

// Config holds resolver tuning knobs
type Config struct {
	MaxRetries    int // total fetch attempts for transient failures (default: 3)
	MaxNearbyDays int // how far the nearby-date fallback searches (default: 3)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		MaxNearbyDays: 3,
	}
}

// Resolver answers "what was the FROM/TO rate on this date", consulting the
// cache first and the provider on a miss.
type Resolver struct {
	provider Provider
	cache    RateCache
	config   Config
	logger   *slog.Logger

	// sleep is stubbed out in tests to avoid real backoff waits
	sleep func(ctx context.Context, d time.Duration)
}

// NewResolver creates a resolver backed by the given provider and cache
func NewResolver(provider Provider, cache RateCache, config Config, logger *slog.Logger) *Resolver {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.MaxNearbyDays <= 0 {
		config.MaxNearbyDays = DefaultConfig().MaxNearbyDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		provider: provider,
		cache:    cache,
		config:   config,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// GetRate returns the multiplicative conversion rate for the given date
// (target = source * rate). The second return value is false when the rate
// is unknown even after retries and the nearby-date fallback; callers must
// treat that as a data gap, not a fatal error.
func (r *Resolver) GetRate(ctx context.Context, from, to string, date time.Time) (float64, bool) {
	if from == to {
		return 1.0, true
	}

	dateStr := date.Format(dateFormat)
	if rate, ok := r.cache.GetRate(dateStr, from, to); ok {
		r.logger.Debug("fx cache hit", "date", dateStr, "from", from, "to", to, "rate", rate)
		return rate, true
	}

	r.logger.Info("fetching exchange rate", "date", dateStr, "from", from, "to", to)
	rate, ok := r.fetchWithRetry(ctx, from, to, date)
	if !ok {
		return 0, false
	}

	// Cache under the originally requested date even when the rate came
	// from a nearby fallback date.
	if err := r.cache.PutRate(dateStr, from, to, rate, time.Now()); err != nil {
		r.logger.Warn("failed to cache exchange rate", "date", dateStr, "error", err)
	}

	return rate, true
}

// fetchWithRetry fetches the exact date, retrying transient failures with
// exponential backoff. A "no data" answer switches to the nearby-date
// fallback instead of retrying; permanent errors abort immediately.
func (r *Resolver) fetchWithRetry(ctx context.Context, from, to string, date time.Time) (float64, bool) {
	for attempt := 0; attempt < r.config.MaxRetries; attempt++ {
		rate, err := r.provider.Fetch(ctx, from, to, date)
		if err == nil {
			r.logger.Info("fetched rate", "from", from, "to", to, "rate", rate)
			return rate, true
		}

		if errors.Is(err, ErrNoData) {
			r.logger.Warn("date not available, trying nearby dates",
				"date", date.Format(dateFormat))
			return r.tryNearbyDates(ctx, from, to, date)
		}
		if errors.Is(err, ErrPermanent) {
			r.logger.Error("permanent error fetching rate", "error", err)
			return 0, false
		}

		r.logger.Warn("transient error fetching rate",
			"attempt", attempt+1,
			"max_attempts", r.config.MaxRetries,
			"error", err,
		)

		if attempt < r.config.MaxRetries-1 {
			r.sleep(ctx, time.Duration(1<<attempt)*time.Second)
			if ctx.Err() != nil {
				return 0, false
			}
		}
	}

	r.logger.Error("failed to fetch rate after retries",
		"date", date.Format(dateFormat), "from", from, "to", to)
	return 0, false
}

// tryNearbyDates searches adjacent dates for a published rate, one
// unretried fetch per candidate. The earlier date is always tried before
// the later one at the same offset, since the previous close is the better
// stand-in for a weekend or holiday.
func (r *Resolver) tryNearbyDates(ctx context.Context, from, to string, target time.Time) (float64, bool) {
	for offset := 1; offset <= r.config.MaxNearbyDays; offset++ {
		for _, delta := range []int{-offset, offset} {
			if ctx.Err() != nil {
				return 0, false
			}
			nearby := target.AddDate(0, 0, delta)
			rate, err := r.provider.Fetch(ctx, from, to, nearby)
			if err != nil {
				r.logger.Debug("no rate for nearby date",
					"date", nearby.Format(dateFormat), "error", err)
				continue
			}
			r.logger.Info("using rate from nearby date",
				"requested", target.Format(dateFormat),
				"nearby", nearby.Format(dateFormat),
				"rate", rate,
			)
			return rate, true
		}
	}

	r.logger.Warn("no rate found for date or nearby dates",
		"date", target.Format(dateFormat), "from", from, "to", to)
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
