// Package breaker implements the gateway's global circuit breaker (§4.8): a
// Redis-backed trip flag shared across every replica, driven by a rolling
// count of recent upstream 5xx responses. An in-process breaker library
// (e.g. sony/gobreaker) cannot provide cross-replica state, so this is
// implemented directly on the coordination store instead — see DESIGN.md.
package breaker

import (
	"context"
	"strconv"
	"time"

	"credpool-gateway/internal/coordination"
	apierrors "credpool-gateway/internal/errors"
	"credpool-gateway/internal/monitoring"
)

const (
	failuresKey = "global_gemini_failures_minute"
	trippedKey  = "global_breaker_tripped"
)

// Breaker guards the upstream proxy routes against cascading failure.
type Breaker struct {
	store     *coordination.Store
	threshold int
	cooldown  time.Duration
}

// New builds a Breaker. threshold is GLOBAL_FAILURE_THRESHOLD, cooldown is
// GLOBAL_COOLDOWN_SECONDS.
func New(store *coordination.Store, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{store: store, threshold: threshold, cooldown: cooldown}
}

// Allow implements §4.8 steps 1-2: reject with ErrCircuitOpen if the flag is
// set or the rolling failure count just crossed threshold (tripping the flag
// and clearing the failure count in the latter case, so counting starts
// afresh once the flag expires).
func (b *Breaker) Allow(ctx context.Context) error {
	_, tripped, err := b.store.Get(ctx, trippedKey)
	if err != nil {
		return err
	}
	if tripped {
		monitoring.BreakerRejectedTotal.Inc()
		return apierrors.ErrCircuitOpen
	}

	count, err := b.currentFailures(ctx)
	if err != nil {
		return err
	}
	if count > int64(b.threshold) {
		if err := b.store.SetWithTTL(ctx, trippedKey, "1", b.cooldown); err != nil {
			return err
		}
		if err := b.store.Delete(ctx, failuresKey); err != nil {
			return err
		}
		monitoring.BreakerTrippedTotal.Inc()
		monitoring.BreakerRejectedTotal.Inc()
		return apierrors.ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) currentFailures(ctx context.Context) (int64, error) {
	v, ok, err := b.store.Get(ctx, failuresKey)
	if err != nil || !ok {
		return 0, err
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}

// RecordFailure implements §4.8 step 3: increment the rolling 5xx counter,
// TTL'd to 60s, called by the retry driver on every observed 5xx.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	_, err := b.store.IncrWithTTL(ctx, failuresKey, 60*time.Second)
	return err
}
