package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/VolumeSpike/internal/alert"
	"github.com/Alias1177/VolumeSpike/internal/baseline"
	"github.com/Alias1177/VolumeSpike/models"
)

type fakeCandles struct {
	mu      sync.Mutex
	candles map[string][]models.Candle
	errs    map[string]error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeCandles) GetCandles(_ context.Context, code string, _, _ time.Time) ([]models.Candle, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[code]; err != nil {
		return nil, err
	}
	return f.candles[code], nil
}

type fakeBaselines struct {
	tables map[string]baseline.Table
	errs   []error
}

func (f *fakeBaselines) Compute(_ context.Context, code string, _ int, _ time.Time) (baseline.Table, []error) {
	return f.tables[code], f.errs
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return n.err
}

type fixture struct {
	loc      *time.Location
	now      time.Time
	candles  *fakeCandles
	bases    *fakeBaselines
	store    *alert.MemoryStore
	notifier *recordingNotifier
	engine   *Engine
}

func candle(loc *time.Location, hh, mm int, volume int64, open, close string) models.Candle {
	return models.Candle{
		Time:     time.Date(2024, 3, 4, hh, mm, 0, 0, loc).UTC(),
		Open:     decimal.RequireFromString(open),
		High:     decimal.RequireFromString(open).Add(decimal.NewFromInt(2)),
		Low:      decimal.RequireFromString(open).Sub(decimal.NewFromInt(2)),
		Close:    decimal.RequireFromString(close),
		Volume:   volume,
		Complete: true,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	f := &fixture{
		loc: loc,
		now: time.Date(2024, 3, 4, 10, 2, 0, 0, loc),
		candles: &fakeCandles{
			candles: map[string][]models.Candle{
				"XAU_USD": {
					candle(loc, 9, 0, 100, "2150.00", "2150.40"),
					candle(loc, 9, 15, 300, "2150.40", "2149.00"), // spike, not live
					candle(loc, 9, 30, 150, "2149.00", "2149.00"), // weak spike, live
					candle(loc, 9, 45, 200, "2149.04", "2151.26"), // spike, live
				},
				"US30_USD": {
					candle(loc, 9, 30, 100, "39000", "39001"),
					candle(loc, 9, 45, 120, "39001", "39002"),
				},
			},
			errs: map[string]error{},
		},
		bases: &fakeBaselines{tables: map[string]baseline.Table{
			"XAU_USD":  {"09:00 AM–10:00 AM": 100},
			"US30_USD": {"09:00 AM–10:00 AM": 100},
		}},
		store:    alert.NewMemoryStore(),
		notifier: &recordingNotifier{},
	}
	f.engine = New(f.candles, f.bases, alert.NewDeduplicator(f.store, loc), f.notifier, Options{Location: loc})
	return f
}

func settings(instruments ...string) models.Settings {
	s := models.DefaultSettings()
	s.Instruments = instruments
	return s
}

func TestRunCycle_RowsAndLiveSpikes(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.RunCycle(context.Background(), settings("XAUUSD", "US30"), f.now)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, report.CycleID)
	require.Len(t, report.Instruments, 2)
	assert.Empty(t, report.Warnings)

	gold := report.Instruments[0]
	assert.Equal(t, "XAUUSD", gold.Name)
	assert.Equal(t, "XAU_USD", gold.Code)
	require.Len(t, gold.Rows, 4)

	plain := gold.Rows[0]
	assert.Equal(t, "2024-03-04 09:00 AM", plain.LocalTime)
	assert.Equal(t, "09:00 AM–10:00 AM", plain.Bucket)
	assert.Equal(t, "2150.0", plain.Open)
	assert.Equal(t, "2152.0", plain.High)
	assert.Equal(t, "2148.0", plain.Low)
	assert.Equal(t, "2150.4", plain.Close)
	assert.False(t, plain.IsSpike)
	assert.Zero(t, plain.SpikeDelta)
	assert.Empty(t, plain.StrengthBars)
	assert.Equal(t, "🟩", plain.SentimentMarker)

	old := gold.Rows[1]
	assert.True(t, old.IsSpike)
	assert.Equal(t, int64(160), old.SpikeDelta)
	assert.Equal(t, 4, old.Strength)
	assert.Equal(t, "bearish", old.Sentiment)

	weak := gold.Rows[2]
	assert.True(t, weak.IsSpike)
	assert.Equal(t, 0, weak.Strength)
	assert.Equal(t, "▪️", weak.SentimentMarker)

	last := gold.Rows[3]
	assert.Equal(t, 1, last.Strength)
	assert.Equal(t, "┃", last.StrengthBars)
	assert.Equal(t, "2149.0", last.Open)
	assert.Equal(t, "2151.3", last.Close)

	// the 09:15 spike is outside the live window
	assert.Equal(t, []string{
		"XAUUSD 09:30 AM spike — Vol 150 (🔺10) ▪️",
		"XAUUSD 09:45 AM spike — Vol 200 (🔺60) 🟩",
	}, report.Spikes)
	assert.True(t, report.HasSpikes())
	assert.Equal(t, "⚡ Volume Spikes Detected:\n"+
		"XAUUSD 09:30 AM spike — Vol 150 (🔺10) ▪️\n"+
		"XAUUSD 09:45 AM spike — Vol 200 (🔺60) 🟩", report.Message)

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, report.Message, f.notifier.messages[0])
	assert.Len(t, report.Alerted, 2)
}

func TestRunCycle_SameLiveSpikeNotifiedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.RunCycle(ctx, settings("XAUUSD"), f.now)
	require.NoError(t, err)
	assert.Len(t, first.Alerted, 2)

	second, err := f.engine.RunCycle(ctx, settings("XAUUSD"), f.now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, second.Spikes, 2, "banner still shows live spikes")
	assert.Empty(t, second.Alerted)
	assert.Len(t, f.notifier.messages, 1)

	// a new candle closes and becomes live
	f.candles.mu.Lock()
	f.candles.candles["XAU_USD"] = append(f.candles.candles["XAU_USD"], candle(f.loc, 10, 0, 400, "2151.00", "2155.00"))
	f.candles.mu.Unlock()
	f.bases.tables["XAU_USD"]["10:00 AM–11:00 AM"] = 100

	third, err := f.engine.RunCycle(ctx, settings("XAUUSD"), f.now.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, third.Alerted, 1)
	require.Len(t, f.notifier.messages, 2)
	assert.Equal(t, "⚡ Volume Spikes Detected:\nXAUUSD 10:00 AM spike — Vol 400 (🔺260) 🟩", f.notifier.messages[1])
}

func TestRunCycle_NextDayAlertsAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RunCycle(ctx, settings("XAUUSD"), f.now)
	require.NoError(t, err)

	report, err := f.engine.RunCycle(ctx, settings("XAUUSD"), f.now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, report.Alerted, 2)
	assert.Len(t, f.notifier.messages, 2)

	state, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, alert.DayEpoch("2024-03-05"), state.Day)
}

func TestRunCycle_AlertsDisabled(t *testing.T) {
	f := newFixture(t)
	s := settings("XAUUSD")
	s.AlertsEnabled = false

	report, err := f.engine.RunCycle(context.Background(), s, f.now)
	require.NoError(t, err)

	assert.Len(t, report.Spikes, 2)
	assert.NotEmpty(t, report.Message)
	assert.Empty(t, report.Alerted)
	assert.Empty(t, f.notifier.messages)
	assert.Zero(t, f.store.Saves(), "alert memory untouched")
}

func TestRunCycle_NoSpikes(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.RunCycle(context.Background(), settings("US30"), f.now)
	require.NoError(t, err)

	assert.False(t, report.HasSpikes())
	assert.Empty(t, report.Message)
	assert.Empty(t, f.notifier.messages)
	assert.Equal(t, 1, f.store.Saves())
}

func TestRunCycle_FetchFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.candles.errs["US30_USD"] = errors.New("connection reset")
	f.bases.errs = []error{errors.New("baseline XAU_USD 2024-02-20: timeout")}

	report, err := f.engine.RunCycle(context.Background(), settings("US30", "XAUUSD"), f.now)
	require.NoError(t, err)
	require.Len(t, report.Instruments, 2)

	us30 := report.Instruments[0]
	assert.Empty(t, us30.Rows)
	require.Len(t, us30.Warnings, 2)
	assert.Contains(t, us30.Warnings[1], "Failed to fetch US30 data")

	gold := report.Instruments[1]
	assert.Len(t, gold.Rows, 4)
	assert.Contains(t, gold.Warnings[0], "1 day(s) failed")
	assert.Len(t, report.Spikes, 2)
}

func TestRunCycle_BucketWithoutBaselineNeverSpikes(t *testing.T) {
	f := newFixture(t)
	f.bases.tables["XAU_USD"] = baseline.Table{"03:00 PM–04:00 PM": 1}

	report, err := f.engine.RunCycle(context.Background(), settings("XAUUSD"), f.now)
	require.NoError(t, err)

	for _, row := range report.Instruments[0].Rows {
		assert.False(t, row.IsSpike)
		assert.Zero(t, row.Threshold)
	}
	assert.Empty(t, report.Spikes)
}

func TestRunCycle_ConfigurationWarnings(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.RunCycle(context.Background(), settings(), f.now)
	require.NoError(t, err)
	assert.Equal(t, []string{"No instruments selected"}, report.Warnings)
	assert.Empty(t, report.Instruments)

	report, err = f.engine.RunCycle(context.Background(), settings("EURUSD", "US30"), f.now)
	require.NoError(t, err)
	assert.Equal(t, []string{`Unknown instrument "EURUSD" ignored`}, report.Warnings)
	assert.Len(t, report.Instruments, 1)
}

func TestRunCycle_InvalidSettings(t *testing.T) {
	f := newFixture(t)

	s := settings("US30")
	s.BucketMinutes = 45
	_, err := f.engine.RunCycle(context.Background(), s, f.now)
	assert.ErrorIs(t, err, models.ErrInvalidSettings)

	s = settings("US30")
	s.Multiplier = 3.5
	_, err = f.engine.RunCycle(context.Background(), s, f.now)
	assert.ErrorIs(t, err, models.ErrInvalidSettings)
}

func TestRunCycle_NotifyFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("telegram down")

	report, err := f.engine.RunCycle(context.Background(), settings("XAUUSD"), f.now)
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "telegram down")
	assert.Len(t, report.Alerted, 2)
}

func TestRunCycle_OneAtATime(t *testing.T) {
	f := newFixture(t)
	f.candles.block = make(chan struct{})
	f.candles.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunCycle(context.Background(), settings("US30"), f.now)
		done <- err
	}()

	<-f.candles.entered
	_, err := f.engine.RunCycle(context.Background(), settings("US30"), f.now)
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(f.candles.block)
	require.NoError(t, <-done)

	// free again once the first cycle finished
	f.candles.block = nil
	_, err = f.engine.RunCycle(context.Background(), settings("US30"), f.now)
	assert.NoError(t, err)
}

func TestRunner_RunOncePublishes(t *testing.T) {
	f := newFixture(t)
	holder := NewSettingsHolder(settings("XAUUSD"))

	var published []*models.Report
	runner := NewRunner(f.engine, holder, PublisherFunc(func(r *models.Report) {
		published = append(published, r)
	}))
	runner.now = func() time.Time { return f.now }

	report, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Same(t, report, published[0])
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := settings("US30")
	s.RefreshInterval = 10 * time.Millisecond
	holder := NewSettingsHolder(s)

	reports := make(chan *models.Report, 16)
	runner := NewRunner(f.engine, holder, PublisherFunc(func(r *models.Report) {
		select {
		case reports <- r:
		default:
		}
	}))
	runner.now = func() time.Time { return f.now }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// immediate cycle plus at least one tick
	for i := 0; i < 2; i++ {
		select {
		case <-reports:
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not publish")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_SettingsChurnDoesNotDelayCycles(t *testing.T) {
	f := newFixture(t)
	s := settings("US30")
	s.RefreshInterval = 100 * time.Millisecond
	holder := NewSettingsHolder(s)

	reports := make(chan *models.Report, 16)
	runner := NewRunner(f.engine, holder, PublisherFunc(func(r *models.Report) {
		select {
		case reports <- r:
		default:
		}
	}))
	runner.now = func() time.Time { return f.now }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not publish the immediate cycle")
	}

	// same interval, different multiplier, every 10ms
	churn := time.NewTicker(10 * time.Millisecond)
	defer churn.Stop()
	deadline := time.After(2 * time.Second)
	for i := 0; ; i++ {
		select {
		case <-reports:
			cancel()
			<-done
			return
		case <-churn.C:
			next := s.Clone()
			next.Multiplier = 1.4 + float64(i%2)*0.1
			require.NoError(t, holder.Set(next))
		case <-deadline:
			t.Fatal("periodic cycle starved by settings updates")
		}
	}
}

func TestRunner_ShorterIntervalKeepsElapsedTime(t *testing.T) {
	f := newFixture(t)
	s := settings("US30")
	s.RefreshInterval = time.Hour
	holder := NewSettingsHolder(s)

	reports := make(chan *models.Report, 16)
	runner := NewRunner(f.engine, holder, PublisherFunc(func(r *models.Report) {
		select {
		case reports <- r:
		default:
		}
	}))
	runner.now = func() time.Time { return f.now }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not publish the immediate cycle")
	}

	next := s.Clone()
	next.RefreshInterval = 50 * time.Millisecond
	require.NoError(t, holder.Set(next))

	select {
	case <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("new interval not applied")
	}
	cancel()
	<-done
}

func TestSettingsHolder(t *testing.T) {
	holder := NewSettingsHolder(models.DefaultSettings())

	s := holder.Get()
	s.Instruments[0] = "changed"
	assert.Equal(t, "XAUUSD", holder.Get().Instruments[0], "Get returns a copy")

	bad := models.DefaultSettings()
	bad.BucketMinutes = 7
	assert.ErrorIs(t, holder.Set(bad), models.ErrInvalidSettings)

	good := models.DefaultSettings()
	good.Multiplier = 2
	require.NoError(t, holder.Set(good))
	assert.Equal(t, 2.0, holder.Get().Multiplier)

	select {
	case <-holder.Changed():
	default:
		t.Fatal("change not signalled")
	}
}
