package scheduler

import (
	"context"
	"time"

	"credpool-gateway/internal/coordination"
	"credpool-gateway/internal/monitoring"
	"credpool-gateway/internal/runtime"
)

// ActivationTick implements one pass of the Key-Activation Worker (§4.6):
// promote every EMPTY credential whose refill time has passed back to
// HAS_TOKENS, except any that a concurrent handler has since quarantined.
// The QUARANTINED filter is mandatory — without it a credential quarantined
// between its refill-score write and this tick would be spuriously
// re-admitted.
func (s *Scheduler) ActivationTick(ctx context.Context) error {
	ready, err := s.store.SortedSetRangeByScore(ctx, emptySet, float64(s.now().Unix()))
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}

	promotable := make([]string, 0, len(ready))
	for _, cred := range ready {
		quarantined, err := s.store.SetIsMember(ctx, quarantine, cred)
		if err != nil {
			return err
		}
		if quarantined {
			monitoring.ActivationSkippedQuarantinedTotal.Inc()
			continue
		}
		promotable = append(promotable, cred)
	}
	if len(promotable) == 0 {
		return nil
	}

	if err := s.store.Pipeline(ctx, func(p coordination.Pipeliner) {
		for _, cred := range promotable {
			p.SAdd(ctx, hasTokensSet, cred)
			p.ZRem(ctx, emptySet, cred)
		}
	}); err != nil {
		return err
	}
	monitoring.ActivationPromotedTotal.Add(float64(len(promotable)))
	return nil
}

// DailyReset implements §4.6's daily task: un-retire every RETIRED
// credential and drop its daily counter, so RPD tracking starts fresh for
// the new UTC day.
func (s *Scheduler) DailyReset(ctx context.Context) error {
	retired, err := s.store.SetMembers(ctx, retiredSet)
	if err != nil {
		return err
	}
	if len(retired) == 0 {
		return nil
	}

	if err := s.store.Pipeline(ctx, func(p coordination.Pipeliner) {
		for _, cred := range retired {
			p.SAdd(ctx, hasTokensSet, cred)
			p.SRem(ctx, retiredSet, cred)
		}
	}); err != nil {
		return err
	}

	keys := make([]string, len(retired))
	for i, cred := range retired {
		keys[i] = dailyCountKey(cred)
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return err
	}
	monitoring.DailyResetTotal.Add(float64(len(retired)))
	return nil
}

// StartWorkers registers the Key-Activation Worker and the daily reset job
// on tm, grounded on the teacher's panic-safe background task manager.
// interval must stay at or below one second per the activation worker's
// freshness requirement.
func (s *Scheduler) StartWorkers(tm *runtime.TaskManager, interval time.Duration) error {
	if err := tm.StartPeriodic("key-activation", "promotes refilled credentials from EMPTY to HAS_TOKENS", interval, s.ActivationTick); err != nil {
		return err
	}
	return tm.Start("daily-reset", "un-retires credentials and resets daily quota counters at UTC midnight", s.runDailyResetLoop)
}

func (s *Scheduler) runDailyResetLoop(ctx context.Context) error {
	for {
		wait := nextDailyResetAt(s.now()).Sub(s.now())
		select {
		case <-time.After(wait):
			if err := s.DailyReset(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// nextDailyResetAt returns the next occurrence of 00:00:05 UTC strictly
// after now.
func nextDailyResetAt(now time.Time) time.Time {
	utcNow := now.UTC()
	next := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 5, 0, time.UTC)
	if !next.After(utcNow) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
