// Package live maintains the real-time dashboard state: the rolling
// transaction feed, the fraud timeline, pattern and age-segment
// rankings, and the running pipeline counters. Everything is derived
// from the stream alone; the aggregator produces correct views from an
// empty starting buffer.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
)

// fraudMark is the retained trace of one fraud event, kept only as long
// as the trailing windows need it.
type fraudMark struct {
	at      time.Time
	pattern string
	timed   bool
}

// Aggregator ingests raw events and serves consistent snapshots. All
// state is guarded by a single mutex; ingest and snapshot calls are
// safe from any goroutine.
type Aggregator struct {
	cfg        domain.LiveConfig
	normalizer *normalize.Normalizer
	cache      domain.Cache
	reporter   domain.VerdictReporter
	repo       domain.Repository
	bus        domain.EventBus
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	feed      []*domain.Transaction
	frauds    []fraudMark
	firstSeen map[string]int
	seenSeq   int
	stats     domain.LiveStats
}

// New creates an aggregator. repo and reporter may be nil; the
// corresponding side effects are skipped.
func New(
	cfg domain.LiveConfig,
	normalizer *normalize.Normalizer,
	cache domain.Cache,
	reporter domain.VerdictReporter,
	repo domain.Repository,
	bus domain.EventBus,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		cfg:        cfg,
		normalizer: normalizer,
		cache:      cache,
		reporter:   reporter,
		repo:       repo,
		bus:        bus,
		logger:     logger.With("component", "live"),
		now:        time.Now,
		firstSeen:  make(map[string]int),
		stats:      domain.LiveStats{StartedAt: time.Now().UTC()},
	}
}

// Ingest normalizes one raw event and folds it into every view. The
// returned transaction is nil when the event was suppressed as a
// duplicate.
func (a *Aggregator) Ingest(ctx context.Context, raw domain.RawEvent) *domain.Transaction {
	started := time.Now()

	tx := a.normalizer.Normalize(raw)

	if a.isDuplicate(ctx, tx) {
		a.mu.Lock()
		a.stats.Duplicates++
		a.mu.Unlock()
		return nil
	}

	a.mu.Lock()

	a.appendFeed(tx)

	a.stats.Processed++
	if tx.IsFraud {
		a.stats.FraudDetected++
		a.recordFraud(tx)
	}
	a.stats.DetectionRate = float64(a.stats.FraudDetected) / float64(a.stats.Processed) * 100

	elapsed := float64(time.Since(started).Microseconds()) / 1000.0
	a.stats.AvgProcessingMs += (elapsed - a.stats.AvgProcessingMs) / float64(a.stats.Processed)

	reported := false
	if tx.IsFraud && a.reporter != nil {
		a.stats.Reported++
		reported = true
	}

	a.mu.Unlock()

	if tx.IsFraud {
		if reported {
			a.reporter.Report(ctx, tx.ID, domain.VerdictFraud)
		}
		a.notify(ctx, tx)
	}

	return tx
}

// isDuplicate consults the seen-ID cache. Records with a synthesized ID
// are exempt: their IDs are unique by construction and suppressing them
// would drop distinct events.
func (a *Aggregator) isDuplicate(ctx context.Context, tx *domain.Transaction) bool {
	if tx.GeneratedID || a.cache == nil {
		return false
	}

	key := "seen:" + tx.ID

	existing, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warn("dedup lookup failed", "transaction_id", tx.ID, "error", err)
		return false
	}
	if existing != nil {
		return true
	}

	if err := a.cache.Set(ctx, key, []byte("1"), a.cfg.PatternWindow); err != nil {
		a.logger.Warn("dedup record failed", "transaction_id", tx.ID, "error", err)
	}
	return false
}

func (a *Aggregator) appendFeed(tx *domain.Transaction) {
	a.feed = append(a.feed, tx)
	if len(a.feed) > a.cfg.BufferSize {
		over := len(a.feed) - a.cfg.BufferSize
		a.feed = append(a.feed[:0], a.feed[over:]...)
	}
}

func (a *Aggregator) recordFraud(tx *domain.Transaction) {
	// Events without a source timestamp cannot be bucketed; their
	// arrival time still scopes the pattern window.
	a.frauds = append(a.frauds, fraudMark{at: tx.Timestamp(), pattern: tx.Pattern, timed: tx.UnixTime > 0})
	a.pruneFrauds(a.now().UTC())

	if _, ok := a.firstSeen[tx.Pattern]; !ok {
		a.firstSeen[tx.Pattern] = a.seenSeq
		a.seenSeq++
	}
}

// pruneFrauds discards marks older than any trailing window still
// needs.
func (a *Aggregator) pruneFrauds(now time.Time) {
	horizon := a.cfg.PatternWindow
	if timelineSpan := time.Duration(a.cfg.TimelineBuckets) * a.cfg.BucketWidth; timelineSpan > horizon {
		horizon = timelineSpan
	}
	cutoff := now.Add(-horizon)

	keep := a.frauds[:0]
	for _, m := range a.frauds {
		if m.at.After(cutoff) {
			keep = append(keep, m)
		}
	}
	a.frauds = keep
}

// notify persists and publishes a fraud notification, rate-limited by
// the cooldown window. Verdict reports are never rate-limited; only the
// user-facing notification is.
func (a *Aggregator) notify(ctx context.Context, tx *domain.Transaction) {
	if a.cache != nil && a.cfg.NotifyCooldown > 0 {
		count, err := a.cache.IncrementCounter(ctx, "notify", a.cfg.NotifyCooldown)
		if err != nil {
			a.logger.Warn("notification rate limit check failed", "error", err)
		} else if count > 1 {
			return
		}
	}

	n := &domain.Notification{
		ID:            uuid.New().String(),
		Title:         "Fraud Alert",
		Message:       fmt.Sprintf("%s at %s for $%.2f", tx.Pattern, tx.Merchant, tx.Amount),
		Severity:      severityFor(tx.RiskScore),
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Merchant:      tx.Merchant,
		Pattern:       tx.Pattern,
		CreatedAt:     a.now().UTC(),
	}

	if a.repo != nil {
		if err := a.repo.SaveNotification(ctx, n); err != nil {
			a.logger.Warn("failed to persist notification", "notification_id", n.ID, "error", err)
		}
	}

	if a.bus != nil {
		payload, err := json.Marshal(n)
		if err != nil {
			return
		}
		if err := a.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			a.logger.Warn("failed to publish alert", "notification_id", n.ID, "error", err)
		}
	}
}

func severityFor(riskScore int) string {
	switch {
	case riskScore >= 80:
		return domain.SeverityHigh
	case riskScore >= 60:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Feed returns the rolling buffer, newest first.
func (a *Aggregator) Feed() []domain.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.Transaction, 0, len(a.feed))
	for i := len(a.feed) - 1; i >= 0; i-- {
		out = append(out, *a.feed[i])
	}
	return out
}

// Timeline returns the fraud timeline: exactly TimelineBuckets buckets
// of BucketWidth each, re-anchored so the last bucket ends now. Fraud
// events older than the span fall off; events land in the bucket their
// timestamp falls into.
func (a *Aggregator) Timeline() []domain.TimelineBucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	a.pruneFrauds(now)

	k := a.cfg.TimelineBuckets
	width := a.cfg.BucketWidth
	start := now.Add(-time.Duration(k) * width)

	buckets := make([]domain.TimelineBucket, k)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * width)
	}

	for _, m := range a.frauds {
		if !m.timed {
			continue
		}
		if !m.at.After(start) || m.at.After(now) {
			continue
		}
		idx := int(m.at.Sub(start) / width)
		if idx >= k {
			idx = k - 1
		}
		buckets[idx].FraudCount++
	}

	return buckets
}

// Patterns returns the fraud-pattern ranking over the trailing pattern
// window: top PatternTopK by count descending, ties broken by which
// pattern was seen first.
func (a *Aggregator) Patterns() []domain.PatternCount {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	cutoff := now.Add(-a.cfg.PatternWindow)

	counts := make(map[string]int)
	for _, m := range a.frauds {
		if m.at.After(cutoff) && !m.at.After(now) {
			counts[m.pattern]++
		}
	}

	ranking := make([]domain.PatternCount, 0, len(counts))
	for pattern, count := range counts {
		ranking = append(ranking, domain.PatternCount{Pattern: pattern, Count: count})
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Count != ranking[j].Count {
			return ranking[i].Count > ranking[j].Count
		}
		return a.firstSeen[ranking[i].Pattern] < a.firstSeen[ranking[j].Pattern]
	})

	if len(ranking) > a.cfg.PatternTopK {
		ranking = ranking[:a.cfg.PatternTopK]
	}
	return ranking
}

// AgeSegments returns the fraud age histogram over all fixed segments
// in display order, zero counts included. It is derived from the fraud
// subset of the rolling buffer, so evicted events stop counting.
func (a *Aggregator) AgeSegments() []domain.AgeSegmentCount {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int)
	for _, tx := range a.feed {
		if tx.IsFraud {
			counts[tx.AgeSegment]++
		}
	}

	out := make([]domain.AgeSegmentCount, 0, len(domain.AgeSegments))
	for _, seg := range domain.AgeSegments {
		out = append(out, domain.AgeSegmentCount{
			Segment: seg,
			Count:   counts[seg],
		})
	}
	return out
}

// Stats returns a copy of the running counters.
func (a *Aggregator) Stats() domain.LiveStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Reset clears the buffer and every derived view. Counters restart from
// zero with a fresh StartedAt.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.feed = nil
	a.frauds = nil
	a.firstSeen = make(map[string]int)
	a.seenSeq = 0
	a.stats = domain.LiveStats{StartedAt: a.now().UTC()}
}
