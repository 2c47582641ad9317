package domain

import "time"

// TimelineBucket is one fixed-width time slice of the fraud timeline.
type TimelineBucket struct {
	Start      time.Time `json:"start"`
	FraudCount int       `json:"fraudCount"`
}

// PatternCount is one entry of the fraud-pattern ranking.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// AgeSegmentCount is one bar of the age-segment histogram.
type AgeSegmentCount struct {
	Segment string `json:"segment"`
	Count   int    `json:"count"`
}

// LiveStats holds the running pipeline counters. All counters are
// monotonic except DetectionRate, which is recomputed from Processed and
// FraudDetected on every update.
type LiveStats struct {
	Processed     int64 `json:"processed"`
	FraudDetected int64 `json:"fraudDetected"`
	Reported      int64 `json:"reported"`
	Duplicates    int64 `json:"duplicates"`

	// DetectionRate is FraudDetected/Processed as a percentage.
	DetectionRate float64 `json:"detectionRate"`

	// AvgProcessingMs is the cumulative average of wall-clock time
	// spent inside each ingest call. It measures local processing
	// time, not end-to-end detection latency.
	AvgProcessingMs float64 `json:"avgProcessingMs"`

	StartedAt time.Time `json:"startedAt"`
}
