package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candle represents a single 15-minute price candle as reported by the provider
type Candle struct {
	Time     time.Time       `json:"time"` // provider start time, UTC
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   int64           `json:"volume"`
	Complete bool            `json:"complete"`
}

// OandaCandlesResponse represents the candles endpoint response from OANDA v3
type OandaCandlesResponse struct {
	Instrument  string `json:"instrument"`
	Granularity string `json:"granularity"`
	Candles     []struct {
		Complete bool   `json:"complete"`
		Volume   int64  `json:"volume"`
		Time     string `json:"time"`
		Mid      struct {
			O string `json:"o"`
			H string `json:"h"`
			L string `json:"l"`
			C string `json:"c"`
		} `json:"mid"`
	} `json:"candles"`
}

// Row is one rendered candle of the per-instrument table
type Row struct {
	Instrument      string    `json:"instrument"`
	Time            time.Time `json:"time"`
	LocalTime       string    `json:"local_time"` // 2006-01-02 03:04 PM
	Bucket          string    `json:"bucket"`
	Open            string    `json:"open"`
	High            string    `json:"high"`
	Low             string    `json:"low"`
	Close           string    `json:"close"`
	Volume          int64     `json:"volume"`
	Threshold       float64   `json:"threshold"`
	IsSpike         bool      `json:"is_spike"`
	SpikeDelta      int64     `json:"spike_delta,omitempty"` // volume - int(threshold), spikes only
	Magnitude       float64   `json:"magnitude,omitempty"`
	Strength        int       `json:"strength"` // 0-5
	StrengthBars    string    `json:"strength_bars"`
	Sentiment       string    `json:"sentiment"` // bullish, bearish, neutral
	SentimentMarker string    `json:"sentiment_marker"`
}

// InstrumentReport holds the rows and diagnostics of one instrument for one cycle
type InstrumentReport struct {
	Name     string   `json:"name"`
	Code     string   `json:"code"`
	Rows     []Row    `json:"rows"`
	Warnings []string `json:"warnings,omitempty"`
}

// Report is the outcome of one evaluation cycle handed to consumers
type Report struct {
	CycleID     uuid.UUID          `json:"cycle_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Settings    Settings           `json:"settings"`
	Instruments []InstrumentReport `json:"instruments"`
	Spikes      []string           `json:"spikes"`            // live-window spike lines
	Alerted     []string           `json:"alerted,omitempty"` // identities notified this cycle
	Message     string             `json:"message,omitempty"` // consolidated alert text
	Warnings    []string           `json:"warnings,omitempty"`
}

// HasSpikes reports whether the live window of any instrument spiked
func (r *Report) HasSpikes() bool {
	return len(r.Spikes) > 0
}
