package pricing

import (
	"testing"
	"time"
)

func TestRateAt(t *testing.T) {
	windows := []Window{
		{DayOfWeek: "12345", StartTime: "17:00", EndTime: "21:00", PeakRate: 0.40, OffPeakRate: 0.15},
		{DayOfWeek: "06", StartTime: "18:00", EndTime: "20:00", PeakRate: 0.30, OffPeakRate: 0.15},
	}
	s := New(windows)

	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"weekday peak", time.Date(2026, 1, 14, 18, 0, 0, 0, time.UTC), 0.40},  // Wednesday
		{"weekday off-peak", time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC), 0.15},
		{"weekend peak", time.Date(2026, 1, 17, 19, 0, 0, 0, time.UTC), 0.30},  // Saturday
		{"weekend off-peak", time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC), 0.15},
		{"peak boundary inclusive", time.Date(2026, 1, 14, 21, 0, 0, 0, time.UTC), 0.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.RateAt(tt.at); got != tt.want {
				t.Errorf("RateAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestRateAtNoWindows(t *testing.T) {
	s := New(nil)
	if got := s.RateAt(time.Now()); got != 1.0 {
		t.Errorf("RateAt with no windows = %v, want 1.0 (cost reduces to kWh)", got)
	}
}

func TestValidate(t *testing.T) {
	valid := Window{DayOfWeek: "12345", StartTime: "17:00", EndTime: "21:00", PeakRate: 0.40, OffPeakRate: 0.15}

	tests := []struct {
		name    string
		windows []Window
		wantErr bool
	}{
		{"empty", nil, false},
		{"valid", []Window{valid}, false},
		{"bad day", []Window{{DayOfWeek: "8", StartTime: "17:00", EndTime: "21:00", PeakRate: 0.4, OffPeakRate: 0.15}}, true},
		{"bad time", []Window{{DayOfWeek: "1", StartTime: "5pm", EndTime: "21:00", PeakRate: 0.4, OffPeakRate: 0.15}}, true},
		{"peak below off-peak", []Window{{DayOfWeek: "1", StartTime: "17:00", EndTime: "21:00", PeakRate: 0.1, OffPeakRate: 0.15}}, true},
		{"zero rate", []Window{{DayOfWeek: "1", StartTime: "17:00", EndTime: "21:00", PeakRate: 0.4, OffPeakRate: 0}}, true},
		{
			"inconsistent off-peak rates",
			[]Window{valid, {DayOfWeek: "06", StartTime: "18:00", EndTime: "20:00", PeakRate: 0.3, OffPeakRate: 0.2}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.windows)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
