// Package baseline computes per-bucket historical mean volumes over a trailing window
// of local calendar days.
package baseline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/VolumeSpike/internal/bucket"
	"github.com/Alias1177/VolumeSpike/models"
)

// DefaultLookbackDays is the trailing window, today included
const DefaultLookbackDays = 21

const dateLayout = "2006-01-02"

// Table maps a bucket label to its mean volume. Labels never observed are absent.
type Table map[string]float64

// Options configures an Estimator
type Options struct {
	LookbackDays int
	Location     *time.Location
}

type cacheKey struct {
	code  string
	width int
	date  string
}

type aggregate struct {
	sum   int64
	count int64
}

// Estimator computes baseline tables. Completed past days are cached per
// (instrument, width, date); today is always refetched.
type Estimator struct {
	client models.CandleClient
	days   int
	loc    *time.Location
	logger zerolog.Logger

	mu      sync.Mutex
	cache   map[cacheKey]map[string]aggregate
	lastDay string
}

// NewEstimator creates a baseline estimator over the given candle source
func NewEstimator(client models.CandleClient, opts Options) *Estimator {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Estimator{
		client: client,
		days:   opts.LookbackDays,
		loc:    opts.Location,
		logger: log.With().Str("component", "baseline").Logger(),
		cache:  make(map[cacheKey]map[string]aggregate),
	}
}

// Compute builds the baseline table of one instrument as of the given instant.
// Days that fail to fetch are skipped and reported in the returned errors.
func (e *Estimator) Compute(ctx context.Context, code string, width int, asOf time.Time) (Table, []error) {
	local := asOf.In(e.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	e.rollover(today)

	totals := make(map[string]aggregate)
	var errs []error

	for i := e.days - 1; i >= 0; i-- {
		start := today.AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1)
		past := i > 0
		if !past {
			end = asOf
		}

		key := cacheKey{code: code, width: width, date: start.Format(dateLayout)}
		if past {
			if day, ok := e.cached(key); ok {
				merge(totals, day)
				continue
			}
		}

		candles, err := e.client.GetCandles(ctx, code, start, end)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("instrument", code).
				Str("date", key.date).
				Msg("Skipping baseline day")
			errs = append(errs, fmt.Errorf("baseline %s %s: %w", code, key.date, err))
			continue
		}

		settled := len(candles) > 0
		day := make(map[string]aggregate)
		for _, c := range candles {
			settled = settled && c.Complete
			label := bucket.Label(c.Time, width, e.loc)
			a := day[label]
			a.sum += c.Volume
			a.count++
			day[label] = a
		}
		if len(candles) == 0 {
			e.logger.Debug().Str("instrument", code).Str("date", key.date).Msg("No candles for day")
		}

		// empty days and days with an open candle are refetched next cycle
		if past && settled {
			e.store(key, day)
		}
		merge(totals, day)
	}

	table := make(Table, len(totals))
	for label, a := range totals {
		if a.count > 0 {
			table[label] = float64(a.sum) / float64(a.count)
		}
	}
	return table, errs
}

// Prune drops cached days that fell out of the window ending at today
func (e *Estimator) Prune(today time.Time) int {
	local := today.In(e.loc)
	oldest := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc).
		AddDate(0, 0, -(e.days - 1)).Format(dateLayout)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for key := range e.cache {
		// the layout sorts lexically
		if key.date < oldest {
			delete(e.cache, key)
			removed++
		}
	}
	return removed
}

// CachedDays returns the number of cached (instrument, width, date) entries
func (e *Estimator) CachedDays() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

func (e *Estimator) rollover(today time.Time) {
	day := today.Format(dateLayout)

	e.mu.Lock()
	changed := e.lastDay != day
	e.lastDay = day
	e.mu.Unlock()

	if changed {
		if n := e.Prune(today); n > 0 {
			e.logger.Debug().Int("removed", n).Str("day", day).Msg("Pruned baseline cache")
		}
	}
}

func (e *Estimator) cached(key cacheKey) (map[string]aggregate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	day, ok := e.cache[key]
	return day, ok
}

func (e *Estimator) store(key cacheKey, day map[string]aggregate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = day
}

func merge(dst, src map[string]aggregate) {
	for label, a := range src {
		t := dst[label]
		t.sum += a.sum
		t.count += a.count
		dst[label] = t
	}
}
