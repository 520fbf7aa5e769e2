// Package scheduler owns the queue of future on/off events and fires them.
// The run loop sleeps until the next event and can be woken early when the
// configuration changes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dschuurman/duskd/internal/device"
	"github.com/dschuurman/duskd/internal/state"
)

// Dusk fallback when no civil dusk exists for a day (polar latitudes)
const fallbackDuskHour = 17

// DuskSource computes civil dusk for a date. ok is false on degenerate days.
type DuskSource interface {
	Dusk(date time.Time) (time.Time, bool)
}

// Scheduler computes trigger times, keeps the ordered queue of pending
// events and dispatches device commands when they fire.
type Scheduler struct {
	store     *state.Store
	commander device.Commander
	dusk      DuskSource
	tz        *time.Location

	lights  []string
	outlets []string

	// now is injectable for tests
	now func() time.Time

	wake chan struct{}

	// mu guards the queue; mutated only by the run loop, read by the web UI
	mu sync.Mutex
	q  queue
}

// New creates a scheduler. Run must be called to start firing events.
func New(store *state.Store, commander device.Commander, dusk DuskSource, tz *time.Location, lights, outlets []string) *Scheduler {
	return &Scheduler{
		store:     store,
		commander: commander,
		dusk:      dusk,
		tz:        tz,
		lights:    lights,
		outlets:   outlets,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// NotifyConfigChanged wakes a sleeping run loop so it re-derives its pending
// events from the current configuration. Non-blocking and safe to call from
// any goroutine; a notification is never lost because the channel holds one
// pending signal.
func (s *Scheduler) NotifyConfigChanged() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run seeds the queue and enters the run loop. It returns when the context
// is cancelled; under normal operation it never returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.rebuild()
	log.Info().Msg("Scheduler started")

	for {
		ev := s.peek()

		sleep := time.Hour // re-check periodically even with an empty queue
		if ev != nil {
			sleep = ev.Time.Sub(s.now())
			if sleep < 0 {
				sleep = 0
			}
		}

		log.Debug().Dur("sleep", sleep).Msg("Scheduler sleeping")
		timer := time.NewTimer(sleep)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scheduler stopping")
			return nil

		case <-s.wake:
			timer.Stop()
			log.Debug().Msg("Configuration changed, recomputing events")
			s.rebuild()

		case <-timer.C:
			if ev != nil {
				s.mu.Lock()
				fired := s.q.pop()
				s.mu.Unlock()
				if fired != nil {
					s.fire(ctx, *fired)
				}
			}
		}
	}
}

// PendingEvents returns a copy of the queue in firing order, for display
func (s *Scheduler) PendingEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.snapshot()
}

func (s *Scheduler) peek() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.peek()
}

// rebuild re-derives every pending event from the current configuration.
// Stale events are superseded; nothing is dispatched. Timer-enabled flags
// are deliberately ignored here: a disabled group keeps its place in the
// daily cycle and merely fires silently.
func (s *Scheduler) rebuild() {
	now := s.now()
	offTime := s.store.OffTime()

	on := s.nextDuskAfter(now)
	off := offTime.NextAfter(now, s.tz)

	s.mu.Lock()
	for _, g := range []state.Group{state.GroupLights, state.GroupOutlets} {
		s.q.insert(on, g, device.ActionOn)
		s.q.insert(off, g, device.ActionOff)
	}
	s.mu.Unlock()

	log.Info().
		Time("next_on", on).
		Time("next_off", off).
		Msg("Schedule computed")
}

// fire executes one event: checks the group's timer flag, dispatches when
// enabled, and enqueues the next day's occurrence either way.
func (s *Scheduler) fire(ctx context.Context, ev Event) {
	if s.store.TimerEnabled(ev.Group) {
		members, brightness := s.groupArgs(ev.Group, ev.Action)

		if err := s.commander.Send(ctx, members, ev.Action, brightness); err != nil {
			// No retry: the schedule stays aligned with the clock and
			// the next occurrence self-corrects.
			log.Error().Err(err).
				Stringer("group", ev.Group).
				Stringer("action", ev.Action).
				Msg("Dispatch failed, advancing schedule")
		}

		// The command was issued; record the intended state even though
		// delivery is unconfirmed.
		s.store.SetOn(ev.Group, ev.Action == device.ActionOn)

		log.Info().
			Stringer("group", ev.Group).
			Stringer("action", ev.Action).
			Time("at", ev.Time).
			Msg("Scheduled event fired")
	} else {
		log.Info().
			Stringer("group", ev.Group).
			Stringer("action", ev.Action).
			Msg("Timer disabled, event suppressed")
	}

	s.scheduleNext(ev)
}

// scheduleNext enqueues the following occurrence of the fired (group, action)
func (s *Scheduler) scheduleNext(ev Event) {
	after := s.now()
	if ev.Time.After(after) {
		after = ev.Time
	}

	var next time.Time
	if ev.Action == device.ActionOn {
		// Dusk shifts daily, recompute fresh
		next = s.nextDuskAfter(after)
	} else {
		next = s.store.OffTime().NextAfter(after, s.tz)
	}

	s.mu.Lock()
	s.q.insert(next, ev.Group, ev.Action)
	s.mu.Unlock()

	log.Debug().
		Stringer("group", ev.Group).
		Stringer("action", ev.Action).
		Time("next", next).
		Msg("Next occurrence scheduled")
}

// nextDuskAfter returns the earliest dusk strictly after t. Days without a
// civil dusk fall back to a fixed substitute time so the cycle never stalls.
func (s *Scheduler) nextDuskAfter(t time.Time) time.Time {
	day := t.In(s.tz)
	for i := 0; i < 366; i++ {
		d := s.duskOn(day.AddDate(0, 0, i))
		if d.After(t) {
			return d
		}
	}
	// Unreachable: the fallback yields a time every day
	return t.AddDate(0, 0, 1)
}

// duskOn returns dusk for the given day, substituting the fallback on
// degenerate days
func (s *Scheduler) duskOn(day time.Time) time.Time {
	d, ok := s.dusk.Dusk(day)
	if !ok {
		d = time.Date(day.Year(), day.Month(), day.Day(), fallbackDuskHour, 0, 0, 0, s.tz)
		log.Warn().
			Time("date", day).
			Time("fallback", d).
			Msg("No civil dusk for date, using fallback time")
	}
	return d
}

// groupArgs returns the member list and brightness for a dispatch.
// Brightness applies only when turning lights on.
func (s *Scheduler) groupArgs(g state.Group, a device.Action) ([]string, int) {
	if g == state.GroupLights {
		if a == device.ActionOn {
			return s.lights, s.store.Brightness()
		}
		return s.lights, -1
	}
	return s.outlets, -1
}
