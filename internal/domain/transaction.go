// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"strconv"
	"time"
)

// RawEvent is an untyped transaction event as it arrives from the wire.
// Field presence and naming are not guaranteed: the upstream feed mixes
// snake_case and camelCase aliases for the same concepts, so access goes
// through the alias-aware helpers below. RawEvents are ephemeral and are
// not retained past normalization.
type RawEvent map[string]any

// Str returns the first non-empty string value among the given keys.
func (e RawEvent) Str(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := e[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Num returns the first numeric value among the given keys.
// Numbers arriving as JSON strings are accepted too.
func (e RawEvent) Num(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := e[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Int returns the first numeric value among the given keys, truncated.
func (e RawEvent) Int(keys ...string) (int64, bool) {
	f, ok := e.Num(keys...)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the first boolean value among the given keys.
// Numeric 0/1 and the strings "true"/"false" are accepted, matching the
// loosely typed upstream vocabulary.
func (e RawEvent) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := e[k]
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b, true
		case float64:
			return b != 0, true
		case int:
			return b != 0, true
		case string:
			if b == "true" {
				return true, true
			}
			if b == "false" {
				return false, true
			}
		}
	}
	return false, false
}

// Transaction is the canonical, normalized transaction record used
// throughout the pipeline. Exactly one verdict and one risk score exist
// per transaction; both are resolved during normalization and never
// re-derived downstream.
type Transaction struct {
	ID           string  `json:"id"`
	Amount       float64 `json:"amount"`
	Merchant     string  `json:"merchant"`
	Category     string  `json:"category"`
	CustomerName string  `json:"customerName"`
	Location     string  `json:"location"`

	// UnixTime is the event timestamp in epoch seconds; 0 means the
	// source supplied none and the event is treated as "now" for
	// windowing purposes.
	UnixTime int64 `json:"unixTime"`

	RiskScore  int    `json:"riskScore"`
	IsFraud    bool   `json:"isFraud"`
	Pattern    string `json:"pattern"`
	AgeSegment string `json:"ageSegment"`
	Status     string `json:"status"`

	// DistanceKm is set only when both customer and merchant
	// coordinates were supplied.
	DistanceKm *float64 `json:"distanceKm,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// GeneratedID marks records whose ID was synthesized because the
	// source supplied none. Such records are exempt from duplicate
	// suppression.
	GeneratedID bool `json:"-"`
}

// Timestamp returns the event time, falling back to CreatedAt when the
// source supplied no timestamp.
func (t *Transaction) Timestamp() time.Time {
	if t.UnixTime > 0 {
		return time.Unix(t.UnixTime, 0).UTC()
	}
	return t.CreatedAt
}

// Fraud-pattern labels. The classifier emits one of these; a
// source-supplied pattern passes through unchanged.
const (
	PatternHighValue   = "High-Value Transaction"
	PatternGeoAnomaly  = "Geographical Anomaly"
	PatternUnusualTime = "Unusual Time"
	PatternOnlineRisk  = "Online Purchase Risk"
	PatternMicro       = "Micro-Transaction Pattern"
	PatternSuspicious  = "Suspicious Behavior"
)

// Age-segment bucket labels.
const AgeSegmentUnknown = "Unknown"

// AgeSegments lists the fixed bucket labels in display order.
var AgeSegments = []string{"18-24", "25-34", "35-44", "45-54", "55-64", "65+", AgeSegmentUnknown}

// Transaction status values carried by the upstream feed.
const (
	StatusBlocked   = "blocked"
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
	StatusUnknown   = "unknown"
)

// Verdict values reported upstream.
const (
	VerdictFraud      = "fraud"
	VerdictLegitimate = "legitimate"
)

// Display sentinels for absent fields.
const (
	UnknownLabel = "Unknown"
	NoLocation   = "N/A"
)
