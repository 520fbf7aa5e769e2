package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/dschuurman/duskd/internal/device"
	"github.com/dschuurman/duskd/internal/state"
)

// duskFunc adapts a function to the DuskSource interface
type duskFunc func(date time.Time) (time.Time, bool)

func (f duskFunc) Dusk(date time.Time) (time.Time, bool) { return f(date) }

// duskAt returns a DuskSource that puts dusk at h:m on every date
func duskAt(h, m int) duskFunc {
	return func(date time.Time) (time.Time, bool) {
		d := date.In(time.UTC)
		return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, time.UTC), true
	}
}

// noDusk simulates a polar day with no civil twilight
func noDusk() duskFunc {
	return func(date time.Time) (time.Time, bool) {
		return time.Time{}, false
	}
}

var (
	testLights  = []string{"hall light", "porch light"}
	testOutlets = []string{"lamp outlet"}
)

func newTestScheduler(dusk DuskSource, now time.Time) (*Scheduler, *state.Store, *device.Recorder) {
	store := state.NewStore(state.Clock{Hour: 23, Minute: 0}, 200)
	rec := device.NewRecorder()
	s := New(store, rec, dusk, time.UTC, testLights, testOutlets)
	s.now = func() time.Time { return now }
	return s, store, rec
}

func pendingFor(s *Scheduler, g state.Group, a device.Action) []Event {
	var out []Event
	for _, ev := range s.PendingEvents() {
		if ev.Group == g && ev.Action == a {
			out = append(out, ev)
		}
	}
	return out
}

func TestRebuildSeedsAllEvents(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	s, _, rec := newTestScheduler(duskAt(20, 15), now)

	s.rebuild()

	events := s.PendingEvents()
	if len(events) != 4 {
		t.Fatalf("pending events = %d, want 4", len(events))
	}

	wantOn := time.Date(2024, 1, 15, 20, 15, 0, 0, time.UTC)
	wantOff := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	for _, g := range []state.Group{state.GroupLights, state.GroupOutlets} {
		on := pendingFor(s, g, device.ActionOn)
		if len(on) != 1 || !on[0].Time.Equal(wantOn) {
			t.Errorf("%v on events = %v, want one at %v", g, on, wantOn)
		}
		off := pendingFor(s, g, device.ActionOff)
		if len(off) != 1 || !off[0].Time.Equal(wantOff) {
			t.Errorf("%v off events = %v, want one at %v", g, off, wantOff)
		}
	}

	// Rebuilding dispatches nothing
	if len(rec.Sent()) != 0 {
		t.Errorf("rebuild dispatched %d commands", len(rec.Sent()))
	}
}

func TestRebuildAfterDuskRollsToTomorrow(t *testing.T) {
	// 21:00, past today's 20:15 dusk but before the 23:00 off-time
	now := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	s, _, _ := newTestScheduler(duskAt(20, 15), now)

	s.rebuild()

	on := pendingFor(s, state.GroupLights, device.ActionOn)
	wantOn := time.Date(2024, 1, 16, 20, 15, 0, 0, time.UTC)
	if len(on) != 1 || !on[0].Time.Equal(wantOn) {
		t.Errorf("on event = %v, want %v", on, wantOn)
	}

	off := pendingFor(s, state.GroupLights, device.ActionOff)
	wantOff := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	if len(off) != 1 || !off[0].Time.Equal(wantOff) {
		t.Errorf("off event = %v, want %v", off, wantOff)
	}
}

func TestOffTimeChangeSupersedesPendingEvent(t *testing.T) {
	now := time.Date(2024, 1, 15, 21, 30, 0, 0, time.UTC)
	s, store, _ := newTestScheduler(duskAt(20, 15), now)
	s.rebuild()

	// User moves the off-time from 23:00 to 22:00; the scheduler rebuilds
	// on the change notification
	store.SetOffTime(state.Clock{Hour: 22, Minute: 0})
	s.rebuild()

	for _, g := range []state.Group{state.GroupLights, state.GroupOutlets} {
		off := pendingFor(s, g, device.ActionOff)
		want := time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC)
		if len(off) != 1 {
			t.Fatalf("%v off events = %d, want 1 (stale event must be superseded)", g, len(off))
		}
		if !off[0].Time.Equal(want) {
			t.Errorf("%v off event at %v, want %v", g, off[0].Time, want)
		}
	}
}

func TestFireDispatchesAndSchedulesNextDay(t *testing.T) {
	now := time.Date(2024, 1, 15, 20, 15, 0, 0, time.UTC)
	s, store, rec := newTestScheduler(duskAt(20, 15), now)

	s.fire(context.Background(), Event{
		Time:   now,
		Action: device.ActionOn,
		Group:  state.GroupLights,
	})

	sent := rec.Sent()
	if len(sent) != 1 {
		t.Fatalf("commands sent = %d, want 1", len(sent))
	}
	if sent[0].Action != device.ActionOn || sent[0].Brightness != 200 {
		t.Errorf("command = %+v", sent[0])
	}
	if len(sent[0].Members) != 2 || sent[0].Members[0] != "hall light" {
		t.Errorf("members = %v", sent[0].Members)
	}

	if !store.On(state.GroupLights) {
		t.Error("lights state should be on after dispatch")
	}

	// Next day's occurrence is enqueued
	on := pendingFor(s, state.GroupLights, device.ActionOn)
	want := time.Date(2024, 1, 16, 20, 15, 0, 0, time.UTC)
	if len(on) != 1 || !on[0].Time.Equal(want) {
		t.Errorf("next on event = %v, want one at %v", on, want)
	}
}

func TestFireOffUsesNoBrightness(t *testing.T) {
	now := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	s, store, rec := newTestScheduler(duskAt(20, 15), now)
	store.SetOn(state.GroupOutlets, true)

	s.fire(context.Background(), Event{
		Time:   now,
		Action: device.ActionOff,
		Group:  state.GroupOutlets,
	})

	sent := rec.Sent()
	if len(sent) != 1 {
		t.Fatalf("commands sent = %d, want 1", len(sent))
	}
	if sent[0].Brightness != -1 {
		t.Errorf("brightness = %d, want -1 (omitted)", sent[0].Brightness)
	}
	if store.On(state.GroupOutlets) {
		t.Error("outlets state should be off")
	}

	// Next off-time occurrence lands tomorrow
	off := pendingFor(s, state.GroupOutlets, device.ActionOff)
	want := time.Date(2024, 1, 16, 23, 0, 0, 0, time.UTC)
	if len(off) != 1 || !off[0].Time.Equal(want) {
		t.Errorf("next off event = %v, want one at %v", off, want)
	}
}

func TestFireSuppressedWhenTimerDisabled(t *testing.T) {
	now := time.Date(2024, 1, 15, 20, 15, 0, 0, time.UTC)
	s, store, rec := newTestScheduler(duskAt(20, 15), now)
	store.SetTimerEnabled(state.GroupLights, false)

	s.fire(context.Background(), Event{
		Time:   now,
		Action: device.ActionOn,
		Group:  state.GroupLights,
	})

	if len(rec.Sent()) != 0 {
		t.Errorf("commands sent = %d, want 0 (suppressed)", len(rec.Sent()))
	}
	if store.On(state.GroupLights) {
		t.Error("state must be left unchanged when suppressed")
	}

	// The cycle continues: tomorrow's event is still scheduled, so
	// re-enabling resumes dispatch without a rebuild
	on := pendingFor(s, state.GroupLights, device.ActionOn)
	want := time.Date(2024, 1, 16, 20, 15, 0, 0, time.UTC)
	if len(on) != 1 || !on[0].Time.Equal(want) {
		t.Errorf("next on event = %v, want one at %v", on, want)
	}

	// Re-enable and fire the next occurrence: dispatch resumes
	store.SetTimerEnabled(state.GroupLights, true)
	s.fire(context.Background(), on[0])
	if len(rec.Sent()) != 1 {
		t.Errorf("commands sent = %d, want 1 after re-enable", len(rec.Sent()))
	}
}

func TestFireAdvancesOnCommanderError(t *testing.T) {
	now := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	s, store, rec := newTestScheduler(duskAt(20, 15), now)
	store.SetOn(state.GroupOutlets, true)
	rec.Err = context.DeadlineExceeded

	s.fire(context.Background(), Event{
		Time:   now,
		Action: device.ActionOff,
		Group:  state.GroupOutlets,
	})

	// State still transitions optimistically
	if store.On(state.GroupOutlets) {
		t.Error("state should reflect the intended state despite the error")
	}

	// The schedule advances: next day's event exists, no retry of this one
	off := pendingFor(s, state.GroupOutlets, device.ActionOff)
	want := time.Date(2024, 1, 16, 23, 0, 0, 0, time.UTC)
	if len(off) != 1 || !off[0].Time.Equal(want) {
		t.Errorf("next off event = %v, want one at %v", off, want)
	}
}

func TestDuskFallbackOnDegenerateDay(t *testing.T) {
	now := time.Date(2024, 6, 21, 9, 0, 0, 0, time.UTC)
	s, _, _ := newTestScheduler(noDusk(), now)

	s.rebuild()

	on := pendingFor(s, state.GroupLights, device.ActionOn)
	want := time.Date(2024, 6, 21, fallbackDuskHour, 0, 0, 0, time.UTC)
	if len(on) != 1 || !on[0].Time.Equal(want) {
		t.Errorf("on event = %v, want fallback at %v", on, want)
	}
}

func TestDuskTimestampFallsOnComputedDate(t *testing.T) {
	calls := 0
	counting := duskFunc(func(date time.Time) (time.Time, bool) {
		calls++
		d := date.In(time.UTC)
		return time.Date(d.Year(), d.Month(), d.Day(), 20, 15, 0, 0, time.UTC), true
	})

	now := time.Date(2024, 1, 15, 20, 15, 0, 0, time.UTC)
	s, _, _ := newTestScheduler(counting, now)

	s.fire(context.Background(), Event{Time: now, Action: device.ActionOn, Group: state.GroupLights})

	on := pendingFor(s, state.GroupLights, device.ActionOn)
	if len(on) != 1 {
		t.Fatalf("on events = %d, want 1", len(on))
	}
	y, m, d := on[0].Time.Date()
	if y != 2024 || m != time.January || d != 16 {
		t.Errorf("on event date = %v, want 2024-01-16", on[0].Time)
	}
	if calls == 0 {
		t.Error("dusk must be recomputed when scheduling the next occurrence")
	}
}

func TestRunWakesOnConfigChange(t *testing.T) {
	// Real clock; all events kept far in the future so nothing fires
	s, store, rec := newTestScheduler(duskAt(23, 59), time.Now())
	s.now = time.Now
	store.SetNotifier(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// Wait for the initial schedule
	waitFor(t, func() bool { return len(s.PendingEvents()) == 4 })

	// Change the off-time through the store; the notifier must wake the
	// sleeping loop well before its timer expires
	store.SetOffTime(state.Clock{Hour: 22, Minute: 45})

	waitFor(t, func() bool {
		off := pendingFor(s, state.GroupOutlets, device.ActionOff)
		return len(off) == 1 && off[0].Time.Hour() == 22 && off[0].Time.Minute() == 45
	})

	if len(rec.Sent()) != 0 {
		t.Errorf("reconfiguration dispatched %d commands", len(rec.Sent()))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

// waitFor polls the condition for up to two seconds
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}
