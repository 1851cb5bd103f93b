package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"credpool-gateway/internal/coordination"
)

// bucketEngine implements the per-credential RPM token bucket described in
// §4.2: unconditional last-writer-wins refill, no compare-and-swap. Ported
// from key_manager.py's _refill_token_bucket / get_key_with_token.
type bucketEngine struct {
	store *coordination.Store
	now   func() time.Time
}

func newBucketEngine(store *coordination.Store, now func() time.Time) *bucketEngine {
	return &bucketEngine{store: store, now: now}
}

// refill reads the bucket, advances it by the elapsed time at rpm/60
// tokens/sec, persists the result unconditionally, and returns the new
// token count.
func (b *bucketEngine) refill(ctx context.Context, cred string, rpm int) (float64, error) {
	now := b.now()
	fields, err := b.store.HashGetAll(ctx, bucketKey(cred))
	if err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		tokens := float64(rpm)
		if err := b.persist(ctx, cred, tokens, now); err != nil {
			return 0, err
		}
		return tokens, nil
	}

	tokens, lastRefill := parseBucket(fields, rpm, now)
	elapsed := now.Sub(lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	next := tokens + elapsed*float64(rpm)/60.0
	if next > float64(rpm) {
		next = float64(rpm)
	}
	if err := b.persist(ctx, cred, next, now); err != nil {
		return 0, err
	}
	return next, nil
}

// tryConsume refills then, if at least one token is available, writes back
// one fewer token and reports granted=true. The decrement reuses the same
// hash write as refill — there is no separate compare-and-swap step, per
// the spec's deliberate bucket-inexactness relaxation.
func (b *bucketEngine) tryConsume(ctx context.Context, cred string, rpm int) (granted bool, remaining float64, err error) {
	tokens, err := b.refill(ctx, cred, rpm)
	if err != nil {
		return false, 0, err
	}
	if tokens < 1 {
		return false, tokens, nil
	}
	remaining = tokens - 1
	if err := b.persist(ctx, cred, remaining, b.now()); err != nil {
		return false, 0, err
	}
	return true, remaining, nil
}

func (b *bucketEngine) persist(ctx context.Context, cred string, tokens float64, at time.Time) error {
	return b.store.HashSet(ctx, bucketKey(cred), map[string]string{
		"tokens":      formatFloat(tokens),
		"last_refill": strconv.FormatInt(at.Unix(), 10),
	})
}

func parseBucket(fields map[string]string, rpm int, now time.Time) (tokens float64, lastRefill time.Time) {
	tokens = float64(rpm)
	if v, ok := fields["tokens"]; ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			tokens = parsed
		}
	}
	lastRefill = now
	if v, ok := fields["last_refill"]; ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastRefill = time.Unix(parsed, 0)
		}
	}
	return tokens, lastRefill
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.6f", f)
}
