package types

import (
	"fmt"
	"time"
)

// ComfortBand is an acceptable temperature range in Celsius.
type ComfortBand struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ComfortWindow overrides the default band during a recurring time window.
// DayOfWeek is a string of weekday digits ("0" = Sunday), e.g. "12345" for
// weekdays; times are "HH:MM" in 24h local time.
type ComfortWindow struct {
	DayOfWeek string  `yaml:"dayOfWeek"`
	StartTime string  `yaml:"startTime"`
	EndTime   string  `yaml:"endTime"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
}

// ComfortSchedule is the time-indexed comfort constraint for one zone.
// Externally configured and read-only to the core.
type ComfortSchedule struct {
	Zone    ZoneID          `yaml:"zone"`
	Default ComfortBand     `yaml:"default"`
	Windows []ComfortWindow `yaml:"windows"`
}

// BandAt resolves the comfort band in effect at t. The first matching window
// wins; with no match the default band applies.
func (c *ComfortSchedule) BandAt(t time.Time) ComfortBand {
	weekday := fmt.Sprintf("%d", t.Weekday())
	clock := t.Format("15:04")
	for _, w := range c.Windows {
		if !containsDay(w.DayOfWeek, weekday) {
			continue
		}
		if clock >= w.StartTime && clock <= w.EndTime {
			return ComfortBand{Min: w.Min, Max: w.Max}
		}
	}
	return c.Default
}

// Validate checks band ordering and window formats.
func (c *ComfortSchedule) Validate() error {
	if c.Zone == "" {
		return fmt.Errorf("comfort schedule missing zone")
	}
	if c.Default.Min >= c.Default.Max {
		return fmt.Errorf("zone %s default band min %.1f must be below max %.1f",
			c.Zone, c.Default.Min, c.Default.Max)
	}
	for i, w := range c.Windows {
		if w.Min >= w.Max {
			return fmt.Errorf("zone %s window %d min %.1f must be below max %.1f",
				c.Zone, i, w.Min, w.Max)
		}
		for _, day := range w.DayOfWeek {
			if day < '0' || day > '6' {
				return fmt.Errorf("zone %s window %d invalid day of week: %c", c.Zone, i, day)
			}
		}
		for _, ts := range []string{w.StartTime, w.EndTime} {
			if _, err := time.Parse("15:04", ts); err != nil {
				return fmt.Errorf("zone %s window %d invalid time %q (must be HH:MM)", c.Zone, i, ts)
			}
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
