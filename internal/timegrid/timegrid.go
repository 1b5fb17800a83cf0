package timegrid

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultStep is the slot width in minutes.
	DefaultStep = 30
	// DateLayout is the calendar-day format used by storage and config.
	DateLayout = "2006-01-02"

	minutesPerDay = 24 * 60
)

// ErrFormat matches every FormatError.
var ErrFormat = errors.New("timegrid: format error")

// FormatError reports a malformed clock or date string.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("timegrid: invalid value %q: %s", e.Value, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Clock is a time of day expressed in minutes since midnight.
type Clock int

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Minutes returns the offset from midnight.
func (c Clock) Minutes() int {
	return int(c)
}

// Add shifts the clock by the given number of minutes.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// MarshalText implements encoding.TextMarshaler so clocks travel as "HH:MM".
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MinutesSinceMidnight parses an "HH:MM" string. A trailing ":00" seconds
// component is tolerated because SQL time columns commonly render one.
func MinutesSinceMidnight(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 3 {
		if parts[2] != "00" {
			return 0, &FormatError{Value: s, Reason: "seconds must be 00"}
		}
		parts = parts[:2]
	}
	if len(parts) != 2 || len(parts[1]) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, &FormatError{Value: s, Reason: "expected HH:MM"}
	}
	if !digits(parts[0]) || !digits(parts[1]) {
		return 0, &FormatError{Value: s, Reason: "expected HH:MM"}
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, &FormatError{Value: s, Reason: "hour out of range"}
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, &FormatError{Value: s, Reason: "minute out of range"}
	}
	return hour*60 + minute, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseClock parses an "HH:MM" string into a Clock.
func ParseClock(s string) (Clock, error) {
	m, err := MinutesSinceMidnight(s)
	if err != nil {
		return 0, err
	}
	return Clock(m), nil
}

// MustClock is ParseClock for constants; it panics on malformed input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseDate parses a YYYY-MM-DD calendar day into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &FormatError{Value: s, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

// Day truncates t to its calendar day at midnight UTC, keeping the wall date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats the calendar day of t.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// EnumerateSlots yields slot starts over the half-open interval [dayStart, dayEnd).
// A non-positive step falls back to DefaultStep. The sequence can be ranged over
// any number of times.
func EnumerateSlots(dayStart, dayEnd Clock, step int) iter.Seq[Clock] {
	if step <= 0 {
		step = DefaultStep
	}
	return func(yield func(Clock) bool) {
		for c := dayStart; c < dayEnd; c = c.Add(step) {
			if !yield(c) {
				return
			}
		}
	}
}

// Grid is a daily operating window divided into fixed-width slots.
type Grid struct {
	Start Clock
	End   Clock
	Step  int
}

// NewGrid validates and builds a grid.
func NewGrid(start, end Clock, step int) (Grid, error) {
	if step <= 0 {
		step = DefaultStep
	}
	if start < 0 || end > minutesPerDay {
		return Grid{}, fmt.Errorf("timegrid: window %s-%s outside the day", start, end)
	}
	if end <= start {
		return Grid{}, fmt.Errorf("timegrid: end %s must be after start %s", end, start)
	}
	return Grid{Start: start, End: end, Step: step}, nil
}

// ParseGrid builds a grid from "HH:MM" bounds.
func ParseGrid(start, end string, step int) (Grid, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Grid{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Grid{}, err
	}
	return NewGrid(s, e, step)
}

// Slots yields every slot start of the grid.
func (g Grid) Slots() iter.Seq[Clock] {
	return EnumerateSlots(g.Start, g.End, g.Step)
}

// Within yields the grid's slot starts that fall inside [from, to).
func (g Grid) Within(from, to Clock) iter.Seq[Clock] {
	return func(yield func(Clock) bool) {
		for c := range g.Slots() {
			if c < from {
				continue
			}
			if c >= to {
				return
			}
			if !yield(c) {
				return
			}
		}
	}
}

// Contains reports whether c is a slot start of the grid.
func (g Grid) Contains(c Clock) bool {
	step := g.Step
	if step <= 0 {
		step = DefaultStep
	}
	return c >= g.Start && c < g.End && int(c-g.Start)%step == 0
}

// Len returns the number of slots in the grid.
func (g Grid) Len() int {
	n := 0
	for range g.Slots() {
		n++
	}
	return n
}
