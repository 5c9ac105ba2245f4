// Package engine runs evaluation cycles: fetch candles, compute baselines,
// detect spikes, deduplicate and notify.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/VolumeSpike/internal/alert"
	"github.com/Alias1177/VolumeSpike/internal/baseline"
	"github.com/Alias1177/VolumeSpike/internal/spike"
	"github.com/Alias1177/VolumeSpike/models"
)

// ErrCycleInFlight is returned when a cycle is requested while another one runs
var ErrCycleInFlight = errors.New("evaluation cycle already in flight")

const (
	DefaultRecentCandles = 30
	// LiveWindow is the number of newest candles that may raise alerts
	LiveWindow = 2

	candleWidth = 15 * time.Minute

	AlertHeader  = "⚡ Volume Spikes Detected:\n"
	NoSpikesText = "ℹ️ No spikes in the last two candles."
)

// BaselineSource computes baseline tables
type BaselineSource interface {
	Compute(ctx context.Context, code string, width int, asOf time.Time) (baseline.Table, []error)
}

// Options configures an Engine
type Options struct {
	Location      *time.Location
	RecentCandles int
}

// Engine evaluates one cycle at a time
type Engine struct {
	candles   models.CandleClient
	baselines BaselineSource
	dedup     *alert.Deduplicator
	notifier  models.Notifier
	loc       *time.Location
	recent    int
	running   atomic.Bool
	logger    zerolog.Logger
}

// New creates an engine. notifier may be nil, in which case alerts are only reported.
func New(candles models.CandleClient, baselines BaselineSource, dedup *alert.Deduplicator, notifier models.Notifier, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RecentCandles <= 0 {
		opts.RecentCandles = DefaultRecentCandles
	}

	return &Engine{
		candles:   candles,
		baselines: baselines,
		dedup:     dedup,
		notifier:  notifier,
		loc:       opts.Location,
		recent:    opts.RecentCandles,
		logger:    log.With().Str("component", "engine").Logger(),
	}
}

// Location returns the zone used for buckets, labels and day boundaries
func (e *Engine) Location() *time.Location {
	return e.loc
}

// RunCycle evaluates the selected instruments as of now. Only invalid bucket
// width, multiplier or refresh interval fail the call; every other problem
// ends up in the report warnings.
func (e *Engine) RunCycle(ctx context.Context, settings models.Settings, now time.Time) (*models.Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer e.running.Store(false)

	started := time.Now()
	report := &models.Report{
		CycleID:   uuid.New(),
		StartedAt: now,
		Settings:  settings.Clone(),
	}
	logger := e.logger.With().Str("cycle_id", report.CycleID.String()).Logger()

	instruments, unknown := resolve(settings.Instruments)
	for _, name := range unknown {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Unknown instrument %q ignored", name))
	}

	check := settings.Clone()
	check.Instruments = nil
	if err := check.Validate(); err != nil {
		return nil, err
	}

	if len(instruments) == 0 {
		report.Warnings = append(report.Warnings, "No instruments selected")
		report.FinishedAt = now.Add(time.Since(started))
		logger.Warn().Msg("No instruments selected, nothing to evaluate")
		return report, nil
	}

	if settings.AlertsEnabled {
		if err := e.dedup.Begin(ctx, now); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Alert memory unavailable: %v", err))
		}
	}

	var candidates []alert.Candidate
	for _, inst := range instruments {
		ir, live := e.evaluateInstrument(ctx, logger, inst, settings, now)
		report.Instruments = append(report.Instruments, ir)
		candidates = append(candidates, live...)
	}

	for _, c := range candidates {
		report.Spikes = append(report.Spikes, c.Line)
	}
	if len(report.Spikes) > 0 {
		report.Message = Compose(report.Spikes)
	}

	if settings.AlertsEnabled {
		e.alert(ctx, logger, report, candidates)
	}

	report.FinishedAt = now.Add(time.Since(started))
	logger.Info().
		Int("instruments", len(report.Instruments)).
		Int("spikes", len(report.Spikes)).
		Int("alerted", len(report.Alerted)).
		Int("warnings", len(report.Warnings)).
		Dur("took", time.Since(started)).
		Msg("Cycle finished")

	return report, nil
}

func (e *Engine) alert(ctx context.Context, logger zerolog.Logger, report *models.Report, candidates []alert.Candidate) {
	fresh := e.dedup.Filter(candidates)

	if len(fresh) > 0 {
		lines := make([]string, 0, len(fresh))
		for _, c := range fresh {
			lines = append(lines, c.Line)
			report.Alerted = append(report.Alerted, alert.Identity(c.Instrument, c.Candle))
		}

		if e.notifier != nil {
			if err := e.notifier.Notify(ctx, Compose(lines)); err != nil {
				logger.Error().Err(err).Msg("Alert delivery failed")
				report.Warnings = append(report.Warnings, fmt.Sprintf("Telegram alert failed: %v", err))
			}
		}
	} else if len(candidates) > 0 {
		logger.Debug().Int("candidates", len(candidates)).Msg("Live spikes already alerted today")
	}

	if err := e.dedup.Commit(ctx); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Alert memory not saved: %v", err))
	}
}

func (e *Engine) evaluateInstrument(
	ctx context.Context,
	logger zerolog.Logger,
	inst models.Instrument,
	settings models.Settings,
	now time.Time,
) (models.InstrumentReport, []alert.Candidate) {
	ir := models.InstrumentReport{Name: inst.Name, Code: inst.Code}
	logger = logger.With().Str("instrument", inst.Name).Logger()

	table, errs := e.baselines.Compute(ctx, inst.Code, settings.BucketMinutes, now)
	if len(errs) > 0 {
		ir.Warnings = append(ir.Warnings, fmt.Sprintf("Baseline incomplete: %d day(s) failed, first: %v", len(errs), errs[0]))
	}

	from := now.Add(-time.Duration(e.recent) * candleWidth)
	candles, err := e.candles.GetCandles(ctx, inst.Code, from, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch recent candles")
		ir.Warnings = append(ir.Warnings, fmt.Sprintf("❌ Failed to fetch %s data: %v", inst.Name, err))
		return ir, nil
	}
	if len(candles) == 0 {
		ir.Warnings = append(ir.Warnings, fmt.Sprintf("No recent candles for %s", inst.Name))
		return ir, nil
	}

	liveFrom := len(candles) - LiveWindow
	if liveFrom < 0 {
		liveFrom = 0
	}

	var live []alert.Candidate
	ir.Rows = make([]models.Row, 0, len(candles))
	for i, c := range candles {
		row, ev := e.row(inst, c, table, settings)
		ir.Rows = append(ir.Rows, row)

		if ev.IsSpike && i >= liveFrom {
			live = append(live, alert.Candidate{
				Instrument: inst.Name,
				Candle:     c,
				Line:       SpikeLine(inst.Name, row.Volume, row.SpikeDelta, row.SentimentMarker, c.Time.In(e.loc)),
			})
		}
	}

	logger.Debug().
		Int("candles", len(candles)).
		Int("buckets", len(table)).
		Int("live_spikes", len(live)).
		Msg("Instrument evaluated")

	return ir, live
}

func (e *Engine) row(inst models.Instrument, c models.Candle, table baseline.Table, settings models.Settings) (models.Row, spike.Evaluation) {
	ev := spike.Evaluate(c, table, settings.BucketMinutes, settings.Multiplier, e.loc)
	sentiment := spike.SentimentOf(c)

	row := models.Row{
		Instrument:      inst.Name,
		Time:            c.Time,
		LocalTime:       c.Time.In(e.loc).Format("2006-01-02 03:04 PM"),
		Bucket:          ev.Bucket,
		Open:            c.Open.StringFixed(1),
		High:            c.High.StringFixed(1),
		Low:             c.Low.StringFixed(1),
		Close:           c.Close.StringFixed(1),
		Volume:          c.Volume,
		Threshold:       ev.Threshold,
		IsSpike:         ev.IsSpike,
		Sentiment:       string(sentiment),
		SentimentMarker: sentiment.Marker(),
	}
	if ev.IsSpike {
		row.SpikeDelta = spike.Delta(c.Volume, ev.Threshold)
		row.Magnitude = ev.Magnitude
		row.Strength = spike.Strength(ev.Magnitude)
		row.StrengthBars = spike.Bars(row.Strength)
	}
	return row, ev
}

// SpikeLine formats one live spike for the alert message
func SpikeLine(name string, volume, delta int64, marker string, local time.Time) string {
	return fmt.Sprintf("%s %s spike — Vol %d (🔺%d) %s", name, local.Format("03:04 PM"), volume, delta, marker)
}

// Compose builds the consolidated alert text
func Compose(lines []string) string {
	return AlertHeader + strings.Join(lines, "\n")
}

func resolve(names []string) ([]models.Instrument, []string) {
	var (
		known   []models.Instrument
		unknown []string
	)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		inst, ok := models.LookupInstrument(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		known = append(known, inst)
	}
	return known, unknown
}
