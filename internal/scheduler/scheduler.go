package scheduler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"credpool-gateway/internal/coordination"
	apierrors "credpool-gateway/internal/errors"
	"credpool-gateway/internal/monitoring"
)

// Policy resolves the effective (rpm, rpd) pair for a (credential, model)
// pair, with priority credential-specific > model-specific > default, per
// §3's Rate-Limit Policy entity.
type Policy interface {
	Policy(credential, model string) (rpm, rpd int)
}

// Catalog is the subset of the external relational catalog contract the
// scheduler drives (§6): notify it of quarantine/ban/reset transitions.
// Listing credentials at startup is not part of this interface; the caller
// lists them and passes the keys to Seed.
type Catalog interface {
	CatalogNotifier
	ResetActive(ctx context.Context, cred string) error
}

// CredentialState is a credential's externally observable logical status,
// derived from its coordination-store set membership (§3).
type CredentialState string

const (
	StateHasTokens   CredentialState = "has_tokens"
	StateEmpty       CredentialState = "empty"
	StateRetired     CredentialState = "retired"
	StateQuarantined CredentialState = "quarantined"
)

// Scheduler is the public surface of the credential-pool core (§4.5): it
// orchestrates the token-bucket, quota, and failure trackers behind
// Acquire/ReleaseOnFailure/Reset/Status.
type Scheduler struct {
	store   *coordination.Store
	policy  Policy
	catalog Catalog

	bucket   *bucketEngine
	quota    *quotaTracker
	failures *failureTracker

	maxFailures int
	now         func() time.Time
}

// New builds a Scheduler. now defaults to time.Now when nil, overridable in
// tests for deterministic cooldown-score assertions.
func New(store *coordination.Store, policy Policy, catalog Catalog, maxFailures int, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:       store,
		policy:      policy,
		catalog:     catalog,
		bucket:      newBucketEngine(store, now),
		quota:       newQuotaTracker(store, now),
		failures:    newFailureTracker(store, catalog),
		maxFailures: maxFailures,
		now:         now,
	}
}

// Acquire picks one credential eligible to serve model, per §4.5. It loops
// at most len(HAS_TOKENS) times at call time since SetPopRandom strictly
// shrinks HAS_TOKENS on every iteration — a credential is either returned or
// moved out of the set.
func (s *Scheduler) Acquire(ctx context.Context, model string) (string, error) {
	iterations := 0
	defer func() {
		monitoring.SchedulerAcquireIterations.Observe(float64(iterations))
	}()

	for {
		iterations++
		cred, ok, err := s.store.SetPopRandom(ctx, hasTokensSet)
		if err != nil {
			return "", err
		}
		if !ok {
			monitoring.SchedulerAcquireTotal.WithLabelValues("no_capacity").Inc()
			return "", apierrors.ErrNoCapacity
		}

		rpm, rpd := s.policy.Policy(cred, model)

		retired, err := s.quota.checkRetire(ctx, cred, rpd)
		if err != nil {
			return "", err
		}
		if retired {
			monitoring.CredentialRetiredTotal.Inc()
			continue
		}

		granted, remaining, err := s.bucket.tryConsume(ctx, cred, rpm)
		if err != nil {
			return "", err
		}
		if !granted {
			if err := s.moveToEmpty(ctx, cred, rpm); err != nil {
				return "", err
			}
			continue
		}

		if _, err := s.quota.recordUse(ctx, cred); err != nil {
			return "", err
		}
		if remaining >= 1 {
			if err := s.store.SetAdd(ctx, hasTokensSet, cred); err != nil {
				return "", err
			}
		} else if err := s.moveToEmpty(ctx, cred, rpm); err != nil {
			return "", err
		}

		monitoring.SchedulerAcquireTotal.WithLabelValues("granted").Inc()
		return cred, nil
	}
}

func (s *Scheduler) moveToEmpty(ctx context.Context, cred string, rpm int) error {
	nextRefill := s.now().Add(60 * time.Second / time.Duration(rpm)).Unix()
	return s.store.SortedSetAdd(ctx, emptySet, cred, float64(nextRefill))
}

// ReleaseOnFailure classifies an upstream failure and mutates the
// credential's state accordingly, per §4.5.
//
//   - 4xx (not 429): client error, credential state untouched.
//   - 429, 5xx, or transport error (status == 0): record a failure, possibly
//     quarantining the credential.
//   - 403, or body containing API_KEY_INVALID: catalog-level ban.
func (s *Scheduler) ReleaseOnFailure(ctx context.Context, credential string, status int, body string) error {
	if status == http.StatusForbidden || strings.Contains(body, "API_KEY_INVALID") {
		if err := s.store.Pipeline(ctx, func(p coordination.Pipeliner) {
			p.SRem(ctx, hasTokensSet, credential)
			p.ZRem(ctx, emptySet, credential)
		}); err != nil {
			return err
		}
		monitoring.CredentialBannedTotal.Inc()
		if s.catalog != nil {
			// Per §7: the coordination-store removal above already committed
			// and is authoritative for the request; a catalog write failure
			// is logged, not surfaced, so it cannot abort the caller.
			if err := s.catalog.MarkBanned(ctx, credential); err != nil {
				log.WithError(err).WithField("credential", credential).Warn("catalog mark-banned failed, continuing with coordination-store state")
			}
		}
		return nil
	}

	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return &apierrors.ClientError{Status: status, Body: body}
	}

	quarantined, err := s.failures.recordFailure(ctx, credential, s.maxFailures)
	if err != nil {
		return err
	}
	if quarantined {
		monitoring.CredentialQuarantinedTotal.Inc()
	}
	return nil
}

// Reset clears a credential back to HAS_TOKENS with a full bucket: the
// operator recovery path for quarantined/retired credentials (§4.5).
func (s *Scheduler) Reset(ctx context.Context, credential string) error {
	rpm, _ := s.policy.Policy(credential, "")

	if err := s.store.Delete(ctx, failuresKey(credential), dailyCountKey(credential)); err != nil {
		return err
	}
	if err := s.store.HashSet(ctx, bucketKey(credential), map[string]string{
		"tokens":      formatFloat(float64(rpm)),
		"last_refill": strconv.FormatInt(s.now().Unix(), 10),
	}); err != nil {
		return err
	}
	if err := s.store.Pipeline(ctx, func(p coordination.Pipeliner) {
		p.SRem(ctx, quarantine, credential)
		p.SRem(ctx, retiredSet, credential)
		p.ZRem(ctx, emptySet, credential)
		p.SAdd(ctx, hasTokensSet, credential)
	}); err != nil {
		return err
	}
	if s.catalog != nil {
		return s.catalog.ResetActive(ctx, credential)
	}
	return nil
}

// Status reports the coordination-store membership snapshot used by the
// operator API and by CredentialStateGauge.
func (s *Scheduler) Status(ctx context.Context) (map[CredentialState][]string, error) {
	out := map[CredentialState][]string{}
	sets := []struct {
		state CredentialState
		key   string
	}{
		{StateHasTokens, hasTokensSet},
		{StateRetired, retiredSet},
		{StateQuarantined, quarantine},
	}
	for _, s2 := range sets {
		members, err := s.store.SetMembers(ctx, s2.key)
		if err != nil {
			return nil, err
		}
		out[s2.state] = members
		monitoring.CredentialStateGauge.WithLabelValues(string(s2.state)).Set(float64(len(members)))
	}
	empty, err := s.store.SortedSetRangeByScore(ctx, emptySet, float64(1<<62))
	if err != nil {
		return nil, err
	}
	out[StateEmpty] = empty
	monitoring.CredentialStateGauge.WithLabelValues(string(StateEmpty)).Set(float64(len(empty)))
	return out, nil
}
