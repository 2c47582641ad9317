package score

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func atHour(h int) int64 {
	return time.Date(2024, 1, 15, h, 30, 0, 0, time.UTC).Unix()
}

func km(d float64) *float64 { return &d }

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want int
	}{
		{"HighAmountRiskyCategory", Input{Amount: 600, Category: "misc_net"}, 45},
		{"MicroAtNight", Input{Amount: 5, UnixTime: atHour(3)}, 20},
		{"AmountTiers200", Input{Amount: 250}, 20},
		{"AmountTiers100", Input{Amount: 150}, 10},
		{"AmountBoundary500", Input{Amount: 500}, 20},
		{"NoContributions", Input{Amount: 50}, 0},
		{"DistanceFar", Input{Amount: 50, DistanceKm: km(600)}, 25},
		{"DistanceMid", Input{Amount: 50, DistanceKm: km(300)}, 15},
		{"DistanceNear", Input{Amount: 50, DistanceKm: km(150)}, 10},
		{"NightHourOnlyWithTimestamp", Input{Amount: 50, UnixTime: 0}, 0},
		{"DayHourNoBonus", Input{Amount: 50, UnixTime: atHour(14)}, 0},
		{"CategoryCaseInsensitive", Input{Amount: 50, Category: "SHOPPING_NET"}, 15},
		{
			"Clamped",
			Input{Amount: 5, UnixTime: atHour(2), Category: "misc_net online", DistanceKm: km(900)},
			// 0 (amount<=100) + 15 (night) + 25 (distance) + 15 (category) + 5 (micro)
			60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.in)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	in := Input{Amount: 320, UnixTime: atHour(4), Category: "gas_transport", DistanceKm: km(250)}
	first := Score(in)
	for i := 0; i < 10; i++ {
		if got := Score(in); got != first {
			t.Fatalf("score changed between calls: %d != %d", got, first)
		}
	}
}

func TestFraud(t *testing.T) {
	if Fraud(49) {
		t.Error("score 49 must not be fraud")
	}
	if !Fraud(50) {
		t.Error("score 50 must be fraud")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		// Rule 1 beats everything, including a risky category.
		{"HighValueFirst", Input{Amount: 600, Category: "misc_net"}, domain.PatternHighValue},
		{"GeoAnomaly", Input{Amount: 100, DistanceKm: km(800)}, domain.PatternGeoAnomaly},
		// Rule 3 fires because rules 1 and 2 do not apply.
		{"UnusualTime", Input{Amount: 5, UnixTime: atHour(3)}, domain.PatternUnusualTime},
		{"OnlineRisk", Input{Amount: 100, Category: "shopping_net"}, domain.PatternOnlineRisk},
		{"OnlineKeyword", Input{Amount: 100, Category: "Online Retail"}, domain.PatternOnlineRisk},
		{"Micro", Input{Amount: 5, UnixTime: atHour(14)}, domain.PatternMicro},
		{"Default", Input{Amount: 100, UnixTime: atHour(14), Category: "grocery_pos"}, domain.PatternSuspicious},
		// Distance at exactly 500 does not trigger the anomaly rule.
		{"DistanceBoundary", Input{Amount: 100, DistanceKm: km(500), Category: "grocery_pos"}, domain.PatternSuspicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
