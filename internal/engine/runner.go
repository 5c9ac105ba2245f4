package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/VolumeSpike/models"
)

// Publisher receives every finished report
type Publisher interface {
	Publish(report *models.Report)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(report *models.Report)

func (f PublisherFunc) Publish(report *models.Report) { f(report) }

// Runner triggers a cycle on start and then every Settings.RefreshInterval
type Runner struct {
	engine     *Engine
	settings   *SettingsHolder
	publishers []Publisher
	now        func() time.Time
	logger     zerolog.Logger
}

// NewRunner creates a scheduler over the engine
func NewRunner(engine *Engine, settings *SettingsHolder, publishers ...Publisher) *Runner {
	return &Runner{
		engine:     engine,
		settings:   settings,
		publishers: publishers,
		now:        time.Now,
		logger:     log.With().Str("component", "runner").Logger(),
	}
}

// RunOnce runs a single cycle with the current settings and publishes the report
func (r *Runner) RunOnce(ctx context.Context) (*models.Report, error) {
	report, err := r.engine.RunCycle(ctx, r.settings.Get(), r.now())
	if err != nil {
		return nil, err
	}
	for _, p := range r.publishers {
		p.Publish(report)
	}
	return report, nil
}

// Run blocks until ctx is done. The next cycle is due one refresh interval
// after the previous one; a settings change that alters the interval moves
// that deadline, any other change leaves the timer alone.
func (r *Runner) Run(ctx context.Context) error {
	r.tick(ctx)

	interval := r.settings.Get().RefreshInterval
	due := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	r.logger.Info().Dur("refresh_interval", interval).Msg("Starting evaluation loop")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Context done, stopping evaluation loop")
			return ctx.Err()
		case <-r.settings.Changed():
			next := r.settings.Get().RefreshInterval
			if next == interval {
				r.logger.Debug().Msg("Settings changed, refresh interval unchanged")
				continue
			}
			due = due.Add(next - interval)
			interval = next
			r.logger.Info().Dur("refresh_interval", interval).Time("due", due).Msg("Refresh interval changed")
			resetTimer(timer, time.Until(due))
		case <-timer.C:
			r.tick(ctx)
			interval = r.settings.Get().RefreshInterval
			due = time.Now().Add(interval)
			timer.Reset(interval)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrCycleInFlight) {
			r.logger.Debug().Msg("Cycle already in flight, skipping tick")
			return
		}
		r.logger.Error().Err(err).Msg("Evaluation cycle failed")
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
