package scheduler

import (
	"context"
	"strconv"
	"time"

	"credpool-gateway/internal/coordination"
)

// quotaTracker implements §4.3: a per-credential RPD counter TTL'd to the
// next UTC midnight, and the RETIRED transition once the counter reaches
// the credential's daily cap. Ported from key_manager.py's daily-quota
// handling (INCR + conditional EXPIRE, then a pipelined set move).
type quotaTracker struct {
	store *coordination.Store
	now   func() time.Time
}

func newQuotaTracker(store *coordination.Store, now func() time.Time) *quotaTracker {
	return &quotaTracker{store: store, now: now}
}

// recordUse increments the daily counter, applying a TTL to the next UTC
// midnight only when the counter was just created.
func (q *quotaTracker) recordUse(ctx context.Context, cred string) (int64, error) {
	return q.store.IncrWithTTL(ctx, dailyCountKey(cred), secondsUntilUTCMidnight(q.now()))
}

func (q *quotaTracker) dailyCount(ctx context.Context, cred string) (int64, error) {
	v, ok, err := q.store.Get(ctx, dailyCountKey(cred))
	if err != nil || !ok {
		return 0, err
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}

// checkRetire moves cred to RETIRED when its daily counter has reached rpd.
func (q *quotaTracker) checkRetire(ctx context.Context, cred string, rpd int) (bool, error) {
	count, err := q.dailyCount(ctx, cred)
	if err != nil {
		return false, err
	}
	if count < int64(rpd) {
		return false, nil
	}
	err = q.store.Pipeline(ctx, func(p coordination.Pipeliner) {
		p.SRem(ctx, hasTokensSet, cred)
		p.ZRem(ctx, emptySet, cred)
		p.SAdd(ctx, retiredSet, cred)
	})
	return true, err
}

func secondsUntilUTCMidnight(now time.Time) time.Duration {
	utcNow := now.UTC()
	nextMidnight := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day()+1, 0, 0, 0, 0, time.UTC)
	return nextMidnight.Sub(utcNow)
}
