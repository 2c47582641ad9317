// Package score provides the deterministic risk scorer and fraud-pattern
// classifier, plus a CEL-based extension engine for operator-defined
// scoring rules.
package score

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
)

// FraudThreshold is the score at and above which a transaction is
// flagged as fraud when the source supplies no explicit verdict.
const FraudThreshold = 50

// highRiskCategories trigger the category contribution when the event's
// category contains any of them, case-insensitively.
var highRiskCategories = []string{"gas_transport", "shopping_net", "misc_net"}

// Input is the transaction-like record the scorer and classifier
// evaluate. DistanceKm is nil unless both customer and merchant
// coordinates were supplied; UnixTime 0 means no timestamp.
type Input struct {
	Amount     float64
	UnixTime   int64
	Category   string
	DistanceKm *float64
}

// hour returns the event hour and whether a timestamp is available.
func (in Input) hour() (int, bool) {
	if in.UnixTime <= 0 {
		return 0, false
	}
	return geo.HourOfDay(in.UnixTime), true
}

// Score maps a transaction to a risk score in [0,100]. The score is a
// sum of independent capped contributions, clamped to 100. Same input
// always yields the same score; no state, no adaptation.
func Score(in Input) int {
	total := 0

	switch {
	case in.Amount > 500:
		total += 30
	case in.Amount > 200:
		total += 20
	case in.Amount > 100:
		total += 10
	}

	if h, ok := in.hour(); ok && h <= 5 {
		total += 15
	}

	if in.DistanceKm != nil {
		switch d := *in.DistanceKm; {
		case d > 500:
			total += 25
		case d > 200:
			total += 15
		case d > 100:
			total += 10
		}
	}

	category := strings.ToLower(in.Category)
	for _, risky := range highRiskCategories {
		if strings.Contains(category, risky) {
			total += 15
			break
		}
	}

	if in.Amount < 10 {
		total += 5
	}

	return Clamp(total)
}

// Fraud derives the boolean verdict from a risk score.
func Fraud(score int) bool {
	return score >= FraudThreshold
}

// Clamp bounds a score to [0,100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Classify maps a transaction to one fraud-pattern label. Rules are
// evaluated top-down and the first match wins; the ordering is part of
// the contract and must not be reordered.
func Classify(in Input) string {
	if in.Amount > 500 {
		return domain.PatternHighValue
	}
	if in.DistanceKm != nil && *in.DistanceKm > 500 {
		return domain.PatternGeoAnomaly
	}
	if h, ok := in.hour(); ok && h <= 5 {
		return domain.PatternUnusualTime
	}
	category := strings.ToLower(in.Category)
	if strings.Contains(category, "net") || strings.Contains(category, "online") {
		return domain.PatternOnlineRisk
	}
	if in.Amount < 10 {
		return domain.PatternMicro
	}
	return domain.PatternSuspicious
}
