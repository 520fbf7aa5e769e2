package state

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Clock is a time of day with minute resolution, e.g. the daily off-time.
type Clock struct {
	Hour   int
	Minute int
}

// Match patterns like "23:00", "6:30"
var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseClock parses a "HH:MM" clock time
func ParseClock(s string) (Clock, error) {
	matches := clockPattern.FindStringSubmatch(s)
	if matches == nil {
		return Clock{}, fmt.Errorf("invalid clock time: %q", s)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])

	if hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour: %d", hour)
	}
	if min > 59 {
		return Clock{}, fmt.Errorf("invalid minute: %d", min)
	}

	return Clock{Hour: hour, Minute: min}, nil
}

// String returns the clock time as "HH:MM"
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the clock time placed on the given day in the given timezone
func (c Clock) On(day time.Time, tz *time.Location) time.Time {
	d := day.In(tz)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, tz)
}

// NextAfter returns the earliest instant strictly after t at this clock time
func (c Clock) NextAfter(t time.Time, tz *time.Location) time.Time {
	next := c.On(t, tz)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
