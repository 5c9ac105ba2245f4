package engine

import (
	"sync"

	"github.com/Alias1177/VolumeSpike/models"
)

// SettingsHolder is the mutable current Settings shared by the scheduler and the
// HTTP surface. Readers get copies.
type SettingsHolder struct {
	mu       sync.RWMutex
	settings models.Settings
	changed  chan struct{}
}

// NewSettingsHolder creates a holder with initial settings
func NewSettingsHolder(initial models.Settings) *SettingsHolder {
	return &SettingsHolder{
		settings: initial.Clone(),
		changed:  make(chan struct{}, 1),
	}
}

// Get returns a copy of the current settings
func (h *SettingsHolder) Get() models.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings.Clone()
}

// Set validates and replaces the current settings
func (h *SettingsHolder) Set(s models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	h.settings = s.Clone()
	h.mu.Unlock()

	select {
	case h.changed <- struct{}{}:
	default:
	}
	return nil
}

// Changed is signalled after Set
func (h *SettingsHolder) Changed() <-chan struct{} {
	return h.changed
}
