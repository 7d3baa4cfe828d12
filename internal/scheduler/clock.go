package scheduler

import (
	"fmt"
	"time"
)

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// TimeOfDay is a wall-clock time within a day, with one-second resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay validates and builds a TimeOfDay.
func NewTimeOfDay(hour, minute, second int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %02d:%02d:%02d out of range", hour, minute, second)
	}
	return TimeOfDay{Hour: hour, Minute: minute, Second: second}, nil
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		var shortErr error
		t, shortErr = time.Parse("15:04", s)
		if shortErr != nil {
			return TimeOfDay{}, err
		}
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// TimeOfDayOf returns the time of day of t in t's location, truncated to seconds.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (d TimeOfDay) seconds() int {
	return d.Hour*3600 + d.Minute*60 + d.Second
}

// Before reports whether d is earlier in the day than other.
func (d TimeOfDay) Before(other TimeOfDay) bool {
	return d.seconds() < other.seconds()
}

func (d TimeOfDay) String() string {
	return time.Date(0, 1, 1, d.Hour, d.Minute, d.Second, 0, time.UTC).Format("15:04:05")
}

// MarshalText implements encoding.TextMarshaler.
func (d TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
