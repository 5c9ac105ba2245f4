package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSettings is returned by Settings.Validate
var ErrInvalidSettings = errors.New("invalid settings")

const (
	MinMultiplier = 1.0
	MaxMultiplier = 3.0
)

// Instrument maps a display name to the provider instrument code
type Instrument struct {
	Name string `json:"name" yaml:"name"`
	Code string `json:"code" yaml:"code"`
}

// Instruments is the fixed instrument table. Settings select a subset of it by name.
var Instruments = []Instrument{
	{Name: "XAUUSD", Code: "XAU_USD"},
	{Name: "NAS100", Code: "NAS100_USD"},
	{Name: "US30", Code: "US30_USD"},
}

// LookupInstrument finds an instrument of the fixed table by name
func LookupInstrument(name string) (Instrument, bool) {
	for _, inst := range Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instrument{}, false
}

// InstrumentNames returns the names of the fixed table in order
func InstrumentNames() []string {
	names := make([]string, 0, len(Instruments))
	for _, inst := range Instruments {
		names = append(names, inst.Name)
	}
	return names
}

// Settings is the user-facing configuration of one evaluation cycle
type Settings struct {
	Instruments     []string      `json:"instruments" yaml:"instruments"`
	BucketMinutes   int           `json:"bucket_minutes" yaml:"bucket_minutes"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`
	AlertsEnabled   bool          `json:"alerts_enabled" yaml:"alerts_enabled"`
}

// DefaultSettings mirrors the dashboard defaults
func DefaultSettings() Settings {
	return Settings{
		Instruments:     InstrumentNames(),
		BucketMinutes:   60,
		RefreshInterval: 5 * time.Minute,
		Multiplier:      1.4,
		AlertsEnabled:   true,
	}
}

// Validate checks the settings against the configuration surface.
// An empty instrument list is not an error: the cycle reports a warning instead.
func (s Settings) Validate() error {
	switch s.BucketMinutes {
	case 15, 30, 60:
	default:
		return fmt.Errorf("%w: bucket width must be 15, 30 or 60 minutes, got %d", ErrInvalidSettings, s.BucketMinutes)
	}
	if s.Multiplier < MinMultiplier || s.Multiplier > MaxMultiplier {
		return fmt.Errorf("%w: multiplier must be within [%.1f, %.1f], got %.2f",
			ErrInvalidSettings, MinMultiplier, MaxMultiplier, s.Multiplier)
	}
	if s.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", ErrInvalidSettings)
	}
	for _, name := range s.Instruments {
		if _, ok := LookupInstrument(name); !ok {
			return fmt.Errorf("%w: unknown instrument %q", ErrInvalidSettings, name)
		}
	}
	return nil
}

// Clone returns a copy that does not share the instrument slice
func (s Settings) Clone() Settings {
	c := s
	c.Instruments = append([]string(nil), s.Instruments...)
	return c
}
