// Package alert keeps the set of candles already notified today and filters
// live spikes down to the ones that still need a notification.
package alert

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/VolumeSpike/models"
)

// DayEpoch is a local calendar date in YYYY-MM-DD form
type DayEpoch string

// EpochOf returns the calendar date of t in loc
func EpochOf(t time.Time, loc *time.Location) DayEpoch {
	return DayEpoch(t.In(loc).Format("2006-01-02"))
}

// State is the persisted alert memory
type State struct {
	Day     DayEpoch `json:"day"`
	Alerted []string `json:"alerted"`
}

// Store persists alert state. Save must replace the previous state atomically.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
	Clear(ctx context.Context) error
}

// Phase of the daily state machine
type Phase int

const (
	Empty Phase = iota
	Accumulating
)

func (p Phase) String() string {
	if p == Accumulating {
		return "accumulating"
	}
	return "empty"
}

// Candidate is a live spiking candle that may need a notification
type Candidate struct {
	Instrument string
	Candle     models.Candle
	Line       string
}

// Identity returns the dedup key of a candle
func Identity(instrument string, c models.Candle) string {
	return strings.Join([]string{
		instrument,
		c.Time.UTC().Format(time.RFC3339Nano),
		c.Open.StringFixed(2),
	}, "|")
}

// Deduplicator is the per-process alert memory. One cycle at a time calls
// Begin, Filter (any number of times) and Commit.
type Deduplicator struct {
	store  Store
	loc    *time.Location
	logger zerolog.Logger

	mu      sync.Mutex
	day     DayEpoch
	alerted map[string]struct{}
}

// NewDeduplicator creates a deduplicator whose days are computed in loc
func NewDeduplicator(store Store, loc *time.Location) *Deduplicator {
	if loc == nil {
		loc = time.UTC
	}
	return &Deduplicator{
		store:   store,
		loc:     loc,
		logger:  log.With().Str("component", "alert").Logger(),
		alerted: make(map[string]struct{}),
	}
}

// Begin loads the persisted state and applies the daily reset. On a load
// failure the process keeps its own memory of today, which is empty after a
// restart, so an unreadable store never repeats alerts this process already
// sent. The error is returned as a warning.
func (d *Deduplicator) Begin(ctx context.Context, now time.Time) error {
	today := EpochOf(now, d.loc)

	state, loadErr := d.store.Load(ctx)
	if loadErr != nil {
		d.logger.Warn().Err(loadErr).Msg("Failed to load alert state, using in-process memory")
		state = d.Snapshot()
	}

	reset := state.Day != today

	d.mu.Lock()
	d.alerted = make(map[string]struct{}, len(state.Alerted))
	d.day = today
	if !reset {
		for _, id := range state.Alerted {
			d.alerted[id] = struct{}{}
		}
	}
	d.mu.Unlock()

	if reset && state.Day != "" {
		d.logger.Info().
			Str("previous_day", string(state.Day)).
			Str("day", string(today)).
			Int("cleared", len(state.Alerted)).
			Msg("New day, alert memory reset")
		if err := d.store.Clear(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to clear persisted alert state")
		}
	}
	return loadErr
}

// Filter returns the candidates not notified yet today and records them
func (d *Deduplicator) Filter(candidates []Candidate) []Candidate {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fresh []Candidate
	for _, c := range candidates {
		id := Identity(c.Instrument, c.Candle)
		if _, seen := d.alerted[id]; seen {
			continue
		}
		d.alerted[id] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh
}

// Commit persists the current set and day. Failures are returned as warnings
// and the in-memory set stays authoritative for this process.
func (d *Deduplicator) Commit(ctx context.Context) error {
	state := d.Snapshot()
	if err := d.store.Save(ctx, state); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to persist alert state")
		return err
	}
	return nil
}

// Snapshot returns the current state with identities sorted
func (d *Deduplicator) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.alerted))
	for id := range d.alerted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return State{Day: d.day, Alerted: ids}
}

// Phase reports whether anything has been alerted today
func (d *Deduplicator) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.alerted) == 0 {
		return Empty
	}
	return Accumulating
}

// Seen reports whether the identity was already alerted today
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.alerted[id]
	return ok
}
