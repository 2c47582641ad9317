package geo

import (
	"math"
	"testing"
	"time"
)

func TestHaversineKm(t *testing.T) {
	t.Run("KnownDistance", func(t *testing.T) {
		// New York to Los Angeles, roughly 3936 km.
		d, ok := HaversineKm(40.7128, -74.0060, 34.0522, -118.2437)
		if !ok {
			t.Fatal("expected ok for finite coordinates")
		}
		if d < 3900 || d > 3980 {
			t.Errorf("expected ~3936 km, got %.1f", d)
		}
	})

	t.Run("ZeroDistance", func(t *testing.T) {
		d, ok := HaversineKm(40.7128, -74.0060, 40.7128, -74.0060)
		if !ok {
			t.Fatal("expected ok")
		}
		if d != 0 {
			t.Errorf("expected 0 km, got %f", d)
		}
	})

	t.Run("NonFiniteInput", func(t *testing.T) {
		if _, ok := HaversineKm(math.NaN(), 0, 0, 0); ok {
			t.Error("expected not ok for NaN latitude")
		}
		if _, ok := HaversineKm(0, 0, math.Inf(1), 0); ok {
			t.Error("expected not ok for infinite latitude")
		}
	})
}

func TestAgeYears(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		dob  string
		want int
		ok   bool
	}{
		{"BirthdayPassed", "1990-03-01", 36, true},
		{"BirthdayNotYetReached", "1990-12-01", 35, true},
		{"BirthdayToday", "1990-06-15", 36, true},
		{"SlashFormat", "03/01/1990", 36, true},
		{"Empty", "", 0, false},
		{"Garbage", "not-a-date", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AgeYears(tt.dob, now)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("age = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAgeSegmentOf(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		dob  string
		want string
	}{
		{"2004-01-01", "18-24"},
		{"1996-01-01", "25-34"},
		{"1988-01-01", "35-44"},
		{"1975-01-01", "45-54"},
		{"1965-01-01", "55-64"},
		{"1950-01-01", "65+"},
		{"2015-01-01", "Unknown"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		if got := AgeSegmentOf(tt.dob, now); got != tt.want {
			t.Errorf("AgeSegmentOf(%q) = %q, want %q", tt.dob, got, tt.want)
		}
	}
}

func TestHourOfDay(t *testing.T) {
	// 2024-01-15 03:30:00 UTC
	ts := time.Date(2024, 1, 15, 3, 30, 0, 0, time.UTC).Unix()
	if got := HourOfDay(ts); got != 3 {
		t.Errorf("expected hour 3, got %d", got)
	}

	ts = time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC).Unix()
	if got := HourOfDay(ts); got != 23 {
		t.Errorf("expected hour 23, got %d", got)
	}
}
