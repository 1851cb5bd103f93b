package scheduler

import (
	"context"
	"strconv"
)

// Seed loads the catalog's active credentials into HAS_TOKENS with a
// freshly-initialized bucket, per §3's startup lifecycle: "credentials are
// loaded from the external catalog at startup (status=active →
// HAS_TOKENS with a freshly-initialized bucket)". It does not disturb a
// credential's coordination-store state if it is already present in any of
// the four in-memory sets, so restarting a replica against a warm
// coordination store is a no-op for credentials already in flight.
func (s *Scheduler) Seed(ctx context.Context, credentials []string, model string) error {
	for _, cred := range credentials {
		present, err := s.isTracked(ctx, cred)
		if err != nil {
			return err
		}
		if present {
			continue
		}

		rpm, _ := s.policy.Policy(cred, model)
		if err := s.store.HashSet(ctx, bucketKey(cred), map[string]string{
			"tokens":      formatFloat(float64(rpm)),
			"last_refill": strconv.FormatInt(s.now().Unix(), 10),
		}); err != nil {
			return err
		}
		if err := s.store.SetAdd(ctx, hasTokensSet, cred); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) isTracked(ctx context.Context, cred string) (bool, error) {
	for _, set := range []string{hasTokensSet, retiredSet, quarantine} {
		ok, err := s.store.SetIsMember(ctx, set, cred)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	empty, err := s.store.SortedSetRangeByScore(ctx, emptySet, float64(1<<62))
	if err != nil {
		return false, err
	}
	for _, c := range empty {
		if c == cred {
			return true, nil
		}
	}
	return false, nil
}
