// Package state holds the shared device-group state and timer configuration.
// The Store is the single mutable resource shared between the scheduler and
// the web control surface.
package state

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Group identifies a device group
type Group int

const (
	GroupLights Group = iota
	GroupOutlets
)

// String returns the group name for logging
func (g Group) String() string {
	switch g {
	case GroupLights:
		return "lights"
	case GroupOutlets:
		return "outlets"
	default:
		return "unknown"
	}
}

// Notifier is signalled after any change that affects scheduling
// (off-time or a timer-enabled flag). Implemented by the scheduler.
type Notifier interface {
	NotifyConfigChanged()
}

// Settings is the persisted subset of the store
type Settings struct {
	OffTime      Clock
	LightsTimer  bool
	OutletsTimer bool
	Brightness   int
}

// Persister saves settings across restarts
type Persister interface {
	Save(Settings) error
}

// Snapshot is a consistent read of the full store
type Snapshot struct {
	LightsOn     bool
	OutletsOn    bool
	LightsTimer  bool
	OutletsTimer bool
	Brightness   int
	OffTime      Clock
}

// Store is the shared state store. A single mutex covers all fields so
// related values (e.g. off-time hour and minute) are never read torn.
type Store struct {
	mu           sync.Mutex
	lightsOn     bool
	outletsOn    bool
	lightsTimer  bool
	outletsTimer bool
	brightness   int
	offTime      Clock

	notifier  Notifier
	persister Persister
}

// NewStore creates a store with both group timers enabled
func NewStore(offTime Clock, brightness int) *Store {
	return &Store{
		lightsTimer:  true,
		outletsTimer: true,
		brightness:   brightness,
		offTime:      offTime,
	}
}

// SetNotifier registers the scheduler notification hook.
// Must be called before the control surface starts serving.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// SetPersister registers the settings persistence hook
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	s.persister = p
	s.mu.Unlock()
}

// Restore applies persisted settings without notifying. Startup only.
func (s *Store) Restore(set Settings) {
	s.mu.Lock()
	s.offTime = set.OffTime
	s.lightsTimer = set.LightsTimer
	s.outletsTimer = set.OutletsTimer
	s.brightness = set.Brightness
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of all fields
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LightsOn:     s.lightsOn,
		OutletsOn:    s.outletsOn,
		LightsTimer:  s.lightsTimer,
		OutletsTimer: s.outletsTimer,
		Brightness:   s.brightness,
		OffTime:      s.offTime,
	}
}

// OffTime returns the configured daily off-time
func (s *Store) OffTime() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offTime
}

// Brightness returns the configured light brightness
func (s *Store) Brightness() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brightness
}

// On reports whether the group is currently on
func (s *Store) On(g Group) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g == GroupLights {
		return s.lightsOn
	}
	return s.outletsOn
}

// TimerEnabled reports whether scheduled events dispatch for the group
func (s *Store) TimerEnabled(g Group) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g == GroupLights {
		return s.lightsTimer
	}
	return s.outletsTimer
}

// SetOn records the group's current on/off state
func (s *Store) SetOn(g Group, on bool) {
	s.mu.Lock()
	if g == GroupLights {
		s.lightsOn = on
	} else {
		s.outletsOn = on
	}
	s.mu.Unlock()
}

// SetTimerEnabled toggles scheduled dispatch for the group and wakes the scheduler
func (s *Store) SetTimerEnabled(g Group, enabled bool) {
	s.mu.Lock()
	if g == GroupLights {
		s.lightsTimer = enabled
	} else {
		s.outletsTimer = enabled
	}
	s.mu.Unlock()

	log.Info().Stringer("group", g).Bool("enabled", enabled).Msg("Timer flag changed")
	s.persist()
	s.notify()
}

// SetOffTime changes the daily off-time and wakes the scheduler
func (s *Store) SetOffTime(c Clock) {
	s.mu.Lock()
	s.offTime = c
	s.mu.Unlock()

	log.Info().Stringer("off_time", c).Msg("Off-time changed")
	s.persist()
	s.notify()
}

// SetBrightness changes the light brightness used for scheduled and manual
// on-commands. Out-of-range values are rejected, the store never holds one.
func (s *Store) SetBrightness(v int) error {
	if v < 0 || v > 254 {
		return fmt.Errorf("brightness out of range: %d", v)
	}

	s.mu.Lock()
	s.brightness = v
	s.mu.Unlock()

	log.Info().Int("brightness", v).Msg("Brightness changed")
	s.persist()
	return nil
}

// notify wakes the scheduler. Called after the mutation is committed, so
// the scheduler always observes the fully-updated configuration on wake.
func (s *Store) notify() {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.NotifyConfigChanged()
	}
}

// persist saves settings best effort; a failed save never blocks a control request
func (s *Store) persist() {
	s.mu.Lock()
	p := s.persister
	set := Settings{
		OffTime:      s.offTime,
		LightsTimer:  s.lightsTimer,
		OutletsTimer: s.outletsTimer,
		Brightness:   s.brightness,
	}
	s.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.Save(set); err != nil {
		log.Warn().Err(err).Msg("Failed to persist settings")
	}
}
