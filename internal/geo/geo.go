// Package geo provides the distance and temporal helpers used by the
// risk scorer and pattern classifier.
package geo

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// earthRadiusKm is the mean Earth radius.
const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between
// two coordinate pairs. ok is false when any coordinate is non-finite;
// a NaN result is never returned.
func HaversineKm(lat1, lon1, lat2, lon2 float64) (float64, bool) {
	for _, v := range []float64{lat1, lon1, lat2, lon2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
	}

	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Asin(math.Min(1, math.Sqrt(a)))

	return earthRadiusKm * c, true
}

// dobFormats are the birth-date layouts the upstream feed uses.
var dobFormats = []string{"2006-01-02", "01/02/2006", time.RFC3339}

// AgeYears returns whole years between the birth date and now,
// accounting for a birthday not yet reached this year. ok is false when
// dob is empty or unparsable.
func AgeYears(dob string, now time.Time) (int, bool) {
	if dob == "" {
		return 0, false
	}

	var birth time.Time
	var err error
	for _, layout := range dobFormats {
		birth, err = time.Parse(layout, dob)
		if err == nil {
			break
		}
	}
	if err != nil {
		return 0, false
	}

	years := now.Year() - birth.Year()
	anniversary := time.Date(now.Year(), birth.Month(), birth.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		years--
	}
	if years < 0 {
		return 0, false
	}
	return years, true
}

// AgeSegmentOf maps a birth date to one of the fixed age-segment bucket
// labels. Unparsable dates and ages under 18 map to "Unknown".
func AgeSegmentOf(dob string, now time.Time) string {
	age, ok := AgeYears(dob, now)
	if !ok {
		return domain.AgeSegmentUnknown
	}
	switch {
	case age >= 65:
		return "65+"
	case age >= 55:
		return "55-64"
	case age >= 45:
		return "45-54"
	case age >= 35:
		return "35-44"
	case age >= 25:
		return "25-34"
	case age >= 18:
		return "18-24"
	default:
		return domain.AgeSegmentUnknown
	}
}

// HourOfDay returns the UTC hour (0..23) of an epoch timestamp.
func HourOfDay(epochSeconds int64) int {
	return time.Unix(epochSeconds, 0).UTC().Hour()
}
