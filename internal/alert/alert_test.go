package alert

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/VolumeSpike/models"
)

type brokenStore struct {
	loadErr  error
	saveErr  error
	clearErr error
}

func (b *brokenStore) Load(context.Context) (State, error) { return State{}, b.loadErr }
func (b *brokenStore) Save(context.Context, State) error   { return b.saveErr }
func (b *brokenStore) Clear(context.Context) error         { return b.clearErr }

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func candidate(instrument string, at time.Time, open string) Candidate {
	return Candidate{
		Instrument: instrument,
		Candle: models.Candle{
			Time:   at.UTC(),
			Open:   decimal.RequireFromString(open),
			Volume: 500,
		},
	}
}

func TestIdentity(t *testing.T) {
	at := time.Date(2024, 3, 4, 3, 45, 0, 0, time.UTC)
	c := candidate("XAUUSD", at, "2150.256").Candle

	assert.Equal(t, "XAUUSD|2024-03-04T03:45:00Z|2150.26", Identity("XAUUSD", c))

	c.Open = decimal.RequireFromString("2150.2601")
	assert.Equal(t, "XAUUSD|2024-03-04T03:45:00Z|2150.26", Identity("XAUUSD", c), "open is rounded to cents")
	assert.NotEqual(t, Identity("XAUUSD", c), Identity("US30", c))
}

func TestEpochOf_UsesExplicitZone(t *testing.T) {
	loc := kolkata(t)

	// 20:00 UTC is already the next day in Kolkata
	at := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, DayEpoch("2024-03-05"), EpochOf(at, loc))
	assert.Equal(t, DayEpoch("2024-03-04"), EpochOf(at, time.UTC))
}

func TestDeduplicator_SameCandleNotifiedOnce(t *testing.T) {
	ctx := context.Background()
	loc := kolkata(t)
	store := NewMemoryStore()
	now := time.Date(2024, 3, 4, 10, 2, 0, 0, loc)
	live := candidate("NAS100", now.Add(-17*time.Minute), "18001.5")

	// first cycle
	d := NewDeduplicator(store, loc)
	require.NoError(t, d.Begin(ctx, now))
	assert.Equal(t, Empty, d.Phase())
	assert.Len(t, d.Filter([]Candidate{live}), 1)
	assert.Equal(t, Accumulating, d.Phase())
	require.NoError(t, d.Commit(ctx))

	// second cycle in the same process sees the same live candle
	require.NoError(t, d.Begin(ctx, now.Add(5*time.Minute)))
	assert.Empty(t, d.Filter([]Candidate{live}))

	// and a restarted process too
	restarted := NewDeduplicator(store, loc)
	require.NoError(t, restarted.Begin(ctx, now.Add(10*time.Minute)))
	assert.True(t, restarted.Seen(Identity(live.Instrument, live.Candle)))
	assert.Empty(t, restarted.Filter([]Candidate{live, live}))
}

func TestDeduplicator_DuplicatesWithinOneCall(t *testing.T) {
	d := NewDeduplicator(NewMemoryStore(), time.UTC)
	require.NoError(t, d.Begin(context.Background(), time.Now()))

	at := time.Date(2024, 3, 4, 3, 45, 0, 0, time.UTC)
	fresh := d.Filter([]Candidate{
		candidate("US30", at, "39000"),
		candidate("US30", at, "39000.00"),
		candidate("US30", at.Add(15*time.Minute), "39000"),
	})
	assert.Len(t, fresh, 2)
}

func TestDeduplicator_DailyReset(t *testing.T) {
	ctx := context.Background()
	loc := kolkata(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, State{
		Day:     "2024-03-03",
		Alerted: []string{"XAUUSD|2024-03-03T10:00:00Z|2100.00"},
	}))

	d := NewDeduplicator(store, loc)
	require.NoError(t, d.Begin(ctx, time.Date(2024, 3, 4, 0, 5, 0, 0, loc)))

	assert.Equal(t, Empty, d.Phase())
	assert.False(t, d.Seen("XAUUSD|2024-03-03T10:00:00Z|2100.00"))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted.Alerted, "stale day is cleared from the store")

	require.NoError(t, d.Commit(ctx))
	persisted, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, DayEpoch("2024-03-04"), persisted.Day)
	assert.Empty(t, persisted.Alerted)
}

func TestDeduplicator_SameDayKeepsMemory(t *testing.T) {
	ctx := context.Background()
	loc := kolkata(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, State{Day: "2024-03-04", Alerted: []string{"a", "b"}}))

	d := NewDeduplicator(store, loc)
	require.NoError(t, d.Begin(ctx, time.Date(2024, 3, 4, 23, 59, 0, 0, loc)))

	assert.Equal(t, Accumulating, d.Phase())
	assert.Equal(t, State{Day: "2024-03-04", Alerted: []string{"a", "b"}}, d.Snapshot())
}

func TestDeduplicator_StorageFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{
		loadErr: errors.New("corrupt state"),
		saveErr: errors.New("disk full"),
	}
	at := time.Date(2024, 3, 4, 3, 45, 0, 0, time.UTC)
	live := candidate("XAUUSD", at, "2150")

	d := NewDeduplicator(store, time.UTC)
	assert.Error(t, d.Begin(ctx, at))
	assert.Equal(t, Empty, d.Phase())

	assert.Len(t, d.Filter([]Candidate{live}), 1)
	assert.Error(t, d.Commit(ctx))

	// in-process memory still suppresses the repeat
	assert.Error(t, d.Begin(ctx, at.Add(5*time.Minute)))
	assert.Empty(t, d.Filter([]Candidate{live}))

	// but not across days
	assert.Error(t, d.Begin(ctx, at.AddDate(0, 0, 1)))
	assert.Equal(t, Empty, d.Phase())
}
