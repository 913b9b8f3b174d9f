// Package pricing resolves time-of-use electricity rates used by the
// simulator to turn integrated actuator energy into an operating cost.
package pricing

import (
	"fmt"
	"time"
)

// Window defines a recurring peak-rate period. DayOfWeek is a string of
// weekday digits ("0" = Sunday); times are "HH:MM" in 24h local time.
type Window struct {
	DayOfWeek   string  `yaml:"dayOfWeek"`
	StartTime   string  `yaml:"startTime"`
	EndTime     string  `yaml:"endTime"`
	PeakRate    float64 `yaml:"peakRate"`    // $/kWh during this window
	OffPeakRate float64 `yaml:"offPeakRate"` // $/kWh outside all windows
}

// Scheduler resolves the electricity rate at a point in time. With no
// windows configured every rate is 1.0, so costs reduce to plain kWh.
type Scheduler struct {
	windows []Window
}

// New creates a TOU rate scheduler.
func New(windows []Window) *Scheduler {
	return &Scheduler{windows: windows}
}

// RateAt returns the $/kWh rate in effect at now.
func (s *Scheduler) RateAt(now time.Time) float64 {
	if len(s.windows) == 0 {
		return 1.0
	}

	weekday := fmt.Sprintf("%d", now.Weekday())
	clock := now.Format("15:04")

	for _, w := range s.windows {
		if !containsDay(w.DayOfWeek, weekday) {
			continue
		}
		if clock >= w.StartTime && clock <= w.EndTime {
			return w.PeakRate
		}
	}

	// All windows share the same off-peak rate (validated at load).
	return s.windows[0].OffPeakRate
}

// Validate checks window formats and rate ordering.
func Validate(windows []Window) error {
	for i, w := range windows {
		for _, day := range w.DayOfWeek {
			if day < '0' || day > '6' {
				return fmt.Errorf("window %d invalid day of week: %c (must be 0-6)", i, day)
			}
		}
		for _, ts := range []string{w.StartTime, w.EndTime} {
			if _, err := time.Parse("15:04", ts); err != nil {
				return fmt.Errorf("window %d invalid time format: %s (must be HH:MM)", i, ts)
			}
		}
		if w.PeakRate <= 0 || w.OffPeakRate <= 0 {
			return fmt.Errorf("window %d rates must be positive", i)
		}
		if w.PeakRate <= w.OffPeakRate {
			return fmt.Errorf("window %d peak rate must exceed off-peak rate", i)
		}
		if i > 0 && w.OffPeakRate != windows[0].OffPeakRate {
			return fmt.Errorf("window %d has different off-peak rate than first window", i)
		}
	}
	return nil
}

func containsDay(days, day string) bool {
	for _, d := range days {
		if string(d) == day {
			return true
		}
	}
	return false
}
