// Package normalize converts raw wire events into canonical
// transactions. This is the single boundary where the feed's aliased,
// loosely typed field vocabulary is resolved; downstream code only ever
// sees domain.Transaction.
package normalize

import (
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Normalizer builds canonical transactions, invoking the risk scorer
// and pattern classifier when the source does not supply its own
// verdict, score, or pattern.
type Normalizer struct {
	ext *score.Extension
	now func() time.Time
}

// New creates a Normalizer. ext may be nil when no extension rules are
// configured.
func New(ext *score.Extension) *Normalizer {
	return &Normalizer{
		ext: ext,
		now: time.Now,
	}
}

// Normalize converts one raw event into a canonical transaction. It
// never fails: missing or malformed fields degrade to documented
// defaults instead of rejecting the record.
//
// Verdict precedence: explicit boolean field, then status sentinel
// ("blocked" and "unknown" imply fraud), then the computed score.
// Score precedence: explicit numeric field, then computed.
func (n *Normalizer) Normalize(raw domain.RawEvent) *domain.Transaction {
	now := n.now().UTC()

	tx := &domain.Transaction{
		Merchant:     domain.UnknownLabel,
		Category:     domain.UnknownLabel,
		CustomerName: domain.UnknownLabel,
		Location:     domain.NoLocation,
		CreatedAt:    now,
	}

	if id, ok := raw.Str("trans_num", "id", "transaction_id"); ok {
		tx.ID = id
	} else {
		tx.ID = uuid.New().String()
		tx.GeneratedID = true
	}

	if amt, ok := raw.Num("amt", "amount"); ok && amt > 0 {
		tx.Amount = amt
	}

	if m, ok := raw.Str("merchant"); ok {
		tx.Merchant = m
	}
	if c, ok := raw.Str("category"); ok {
		tx.Category = c
	}
	tx.CustomerName = customerName(raw)
	tx.Location = locationLabel(raw)

	if ts, ok := raw.Int("unix_time", "timestamp", "created_at"); ok && ts > 0 {
		tx.UnixTime = ts
	}

	tx.DistanceKm = distanceKm(raw)

	dob, _ := raw.Str("dob")
	tx.AgeSegment = geo.AgeSegmentOf(dob, now)

	in := score.Input{
		Amount:     tx.Amount,
		UnixTime:   tx.UnixTime,
		Category:   tx.Category,
		DistanceKm: tx.DistanceKm,
	}

	tx.RiskScore = n.resolveScore(raw, in)
	tx.IsFraud = resolveVerdict(raw, tx.RiskScore)

	if p, ok := raw.Str("pattern", "fraud_pattern"); ok {
		tx.Pattern = p
	} else {
		tx.Pattern = score.Classify(in)
	}

	if s, ok := raw.Str("status"); ok {
		tx.Status = s
	} else if tx.IsFraud {
		tx.Status = domain.StatusBlocked
	} else {
		tx.Status = domain.StatusAccepted
	}

	return tx
}

// resolveScore applies the score precedence: an explicit numeric field
// wins (clamped), otherwise the heuristic score plus any extension-rule
// points.
func (n *Normalizer) resolveScore(raw domain.RawEvent, in score.Input) int {
	if explicit, ok := raw.Num("risk_score", "riskScore"); ok {
		return score.Clamp(int(explicit))
	}

	s := score.Score(in)
	if n.ext != nil {
		s = score.Clamp(s + n.ext.Points(in, raw))
	}
	return s
}

// resolveVerdict applies the verdict precedence. The precedence order
// matters: the feed carries multiple aliases for the same concept and
// applying them inconsistently produces contradictory fraud states in
// different views.
func resolveVerdict(raw domain.RawEvent, riskScore int) bool {
	if fraud, ok := raw.Bool("is_fraud", "isFraud"); ok {
		return fraud
	}
	if status, ok := raw.Str("status"); ok {
		if status == domain.StatusBlocked || status == domain.StatusUnknown {
			return true
		}
	}
	return score.Fraud(riskScore)
}

func customerName(raw domain.RawEvent) string {
	first, okFirst := raw.Str("first")
	last, okLast := raw.Str("last")
	switch {
	case okFirst && okLast:
		return first + " " + last
	case okFirst:
		return first
	case okLast:
		return last
	}
	if name, ok := raw.Str("customer", "customerName"); ok {
		return name
	}
	return domain.UnknownLabel
}

func locationLabel(raw domain.RawEvent) string {
	city, okCity := raw.Str("city")
	state, okState := raw.Str("state")
	switch {
	case okCity && okState:
		return city + ", " + state
	case okCity:
		return city
	}
	if loc, ok := raw.Str("location"); ok {
		return loc
	}
	return domain.NoLocation
}

// distanceKm computes the customer-to-merchant distance, present only
// when both coordinate pairs are supplied and finite.
func distanceKm(raw domain.RawEvent) *float64 {
	lat, okLat := raw.Num("lat")
	lon, okLon := raw.Num("long")
	mlat, okMLat := raw.Num("merch_lat")
	mlon, okMLon := raw.Num("merch_long")
	if !okLat || !okLon || !okMLat || !okMLon {
		return nil
	}

	d, ok := geo.HaversineKm(lat, lon, mlat, mlon)
	if !ok {
		return nil
	}
	return &d
}
