// Package spike classifies candles against a bucket baseline.
package spike

import (
	"math"
	"strings"
	"time"

	"github.com/Alias1177/VolumeSpike/internal/baseline"
	"github.com/Alias1177/VolumeSpike/internal/bucket"
	"github.com/Alias1177/VolumeSpike/models"
)

const (
	// StrengthFloor is the magnitude below which no strength indicator is shown
	StrengthFloor = 1.2
	MaxStrength   = 5
	bar           = "┃"
)

// Evaluation is the spike decision for one candle
type Evaluation struct {
	Bucket      string
	Baseline    float64
	HasBaseline bool
	Threshold   float64
	IsSpike     bool
	Magnitude   float64
}

// Evaluate compares the candle volume with baseline[bucket] * multiplier.
// A bucket without baseline has a zero threshold and never spikes.
func Evaluate(c models.Candle, table baseline.Table, width int, multiplier float64, loc *time.Location) Evaluation {
	ev := Evaluation{Bucket: bucket.Label(c.Time, width, loc)}

	avg, ok := table[ev.Bucket]
	if !ok {
		return ev
	}
	ev.Baseline = avg
	ev.HasBaseline = true
	ev.Threshold = avg * multiplier

	ev.IsSpike = ev.Threshold > 0 && float64(c.Volume) > ev.Threshold
	if ev.IsSpike {
		ev.Magnitude = float64(c.Volume) / ev.Threshold
	}
	return ev
}

// Strength maps a magnitude to a display level in [0, MaxStrength]
func Strength(magnitude float64) int {
	if magnitude < StrengthFloor {
		return 0
	}
	level := int(math.Floor((magnitude - StrengthFloor) * 5))
	if level < 1 {
		level = 1
	}
	if level > MaxStrength {
		level = MaxStrength
	}
	return level
}

// Bars renders a strength level
func Bars(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat(bar, level)
}

// Delta is the spike excess shown to users: volume minus the truncated threshold.
func Delta(volume int64, threshold float64) int64 {
	return volume - int64(threshold)
}

// Sentiment is the candle body direction
type Sentiment string

const (
	Bullish Sentiment = "bullish"
	Bearish Sentiment = "bearish"
	Neutral Sentiment = "neutral"
)

// Marker returns the display marker of the sentiment
func (s Sentiment) Marker() string {
	switch s {
	case Bullish:
		return "🟩"
	case Bearish:
		return "🟥"
	default:
		return "▪️"
	}
}

// SentimentOf compares close against open
func SentimentOf(c models.Candle) Sentiment {
	switch c.Close.Cmp(c.Open) {
	case 1:
		return Bullish
	case -1:
		return Bearish
	default:
		return Neutral
	}
}
