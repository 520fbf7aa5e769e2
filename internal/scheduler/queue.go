package scheduler

import (
	"sort"
	"time"

	"github.com/dschuurman/duskd/internal/device"
	"github.com/dschuurman/duskd/internal/state"
)

// Event is a single pending schedule action
type Event struct {
	Time   time.Time
	Action device.Action
	Group  state.Group

	// seq breaks ordering ties: events with equal timestamps fire in
	// insertion order.
	seq uint64
}

// queue is the ordered collection of pending events. Holds at most one
// event per (group, action) pair: inserting supersedes the previous one.
type queue struct {
	events  []Event
	nextSeq uint64
}

// insert adds an event, replacing any pending event for the same
// (group, action)
func (q *queue) insert(t time.Time, g state.Group, a device.Action) {
	q.remove(g, a)
	q.events = append(q.events, Event{Time: t, Action: a, Group: g, seq: q.nextSeq})
	q.nextSeq++
	sort.SliceStable(q.events, func(i, j int) bool {
		if q.events[i].Time.Equal(q.events[j].Time) {
			return q.events[i].seq < q.events[j].seq
		}
		return q.events[i].Time.Before(q.events[j].Time)
	})
}

// remove drops the pending event for (group, action), if any
func (q *queue) remove(g state.Group, a device.Action) {
	for i, ev := range q.events {
		if ev.Group == g && ev.Action == a {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return
		}
	}
}

// peek returns the earliest pending event without removing it
func (q *queue) peek() *Event {
	if len(q.events) == 0 {
		return nil
	}
	ev := q.events[0]
	return &ev
}

// pop removes and returns the earliest pending event
func (q *queue) pop() *Event {
	if len(q.events) == 0 {
		return nil
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return &ev
}

func (q *queue) len() int {
	return len(q.events)
}

// snapshot returns a copy of the pending events in firing order
func (q *queue) snapshot() []Event {
	return append([]Event(nil), q.events...)
}
