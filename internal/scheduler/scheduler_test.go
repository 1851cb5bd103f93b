package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"credpool-gateway/internal/coordination"
	apierrors "credpool-gateway/internal/errors"
)

type fixedPolicy struct {
	rpm, rpd int
}

func (f fixedPolicy) Policy(string, string) (int, int) { return f.rpm, f.rpd }

type fakeCatalog struct {
	limited, banned, reset []string
}

func (f *fakeCatalog) MarkLimited(_ context.Context, cred string) error {
	f.limited = append(f.limited, cred)
	return nil
}

func (f *fakeCatalog) MarkBanned(_ context.Context, cred string) error {
	f.banned = append(f.banned, cred)
	return nil
}

func (f *fakeCatalog) ResetActive(_ context.Context, cred string) error {
	f.reset = append(f.reset, cred)
	return nil
}

func newTestScheduler(t *testing.T, rpm, rpd, maxFailures int) (*Scheduler, *fakeCatalog) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := coordination.NewFromClient(client)
	cat := &fakeCatalog{}
	s := New(store, fixedPolicy{rpm: rpm, rpd: rpd}, cat, maxFailures, nil)
	return s, cat
}

func TestAcquireGrantsFromSeededPool(t *testing.T) {
	s, _ := newTestScheduler(t, 2, 100, 3)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	cred, err := s.Acquire(ctx, "model-x")
	require.NoError(t, err)
	require.Equal(t, "cred-a", cred)
}

func TestAcquireReturnsNoCapacityWhenPoolEmpty(t *testing.T) {
	s, _ := newTestScheduler(t, 2, 100, 3)
	ctx := context.Background()

	_, err := s.Acquire(ctx, "model-x")
	require.ErrorIs(t, err, apierrors.ErrNoCapacity)
}

func TestAcquireMovesExhaustedCredentialToEmpty(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 100, 3)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	cred, err := s.Acquire(ctx, "model-x")
	require.NoError(t, err)
	require.Equal(t, "cred-a", cred)

	// The single token was consumed and not yet refilled: the pool reports
	// no capacity until the activation worker promotes it back.
	_, err = s.Acquire(ctx, "model-x")
	require.ErrorIs(t, err, apierrors.ErrNoCapacity)
}

func TestReleaseOnFailureClientErrorLeavesCredentialUntouched(t *testing.T) {
	s, _ := newTestScheduler(t, 2, 100, 3)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	err := s.ReleaseOnFailure(ctx, "cred-a", 400, `{"error":"bad request"}`)
	var clientErr *apierrors.ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, 400, clientErr.Status)

	// Seed left cred-a in HAS_TOKENS and no Acquire has popped it; a client
	// error neither quarantines nor bans it.
	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.NotContains(t, status[StateQuarantined], "cred-a")
}

func TestReleaseOnFailureQuarantinesAfterMaxFailures(t *testing.T) {
	s, cat := newTestScheduler(t, 2, 100, 2)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	require.NoError(t, s.ReleaseOnFailure(ctx, "cred-a", 429, ""))
	require.NoError(t, s.ReleaseOnFailure(ctx, "cred-a", 429, ""))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status[StateQuarantined], "cred-a")
	require.Contains(t, cat.limited, "cred-a")
}

func TestReleaseOnFailureBansOnAPIKeyInvalid(t *testing.T) {
	s, cat := newTestScheduler(t, 2, 100, 5)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	require.NoError(t, s.ReleaseOnFailure(ctx, "cred-a", 403, "API_KEY_INVALID"))
	require.Contains(t, cat.banned, "cred-a")

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.NotContains(t, status[StateHasTokens], "cred-a")
	require.NotContains(t, status[StateQuarantined], "cred-a")
}

func TestResetRestoresQuarantinedCredential(t *testing.T) {
	s, cat := newTestScheduler(t, 2, 100, 1)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))
	require.NoError(t, s.ReleaseOnFailure(ctx, "cred-a", 429, ""))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status[StateQuarantined], "cred-a")

	require.NoError(t, s.Reset(ctx, "cred-a"))
	require.Contains(t, cat.reset, "cred-a")

	status, err = s.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status[StateHasTokens], "cred-a")
	require.NotContains(t, status[StateQuarantined], "cred-a")
}

func TestSeedIsIdempotentForAlreadyTrackedCredentials(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 100, 3)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	// Consume the only token, then seed again: Seed must not reset a
	// credential that is already tracked (here, parked in EMPTY).
	_, err := s.Acquire(ctx, "model-x")
	require.NoError(t, err)

	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.NotContains(t, status[StateHasTokens], "cred-a")
}

func TestActivationTickPromotesReadyCredentialExceptQuarantined(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := coordination.NewFromClient(client)
	s := New(store, fixedPolicy{rpm: 60, rpd: 1000}, &fakeCatalog{}, 3, func() time.Time { return fixedNow })

	ctx := context.Background()
	require.NoError(t, store.SortedSetAdd(ctx, emptySet, "cred-a", float64(fixedNow.Add(-time.Second).Unix())))
	require.NoError(t, store.SortedSetAdd(ctx, emptySet, "cred-b", float64(fixedNow.Add(-time.Second).Unix())))
	require.NoError(t, store.SetAdd(ctx, quarantine, "cred-b"))

	require.NoError(t, s.ActivationTick(ctx))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status[StateHasTokens], "cred-a")
	require.NotContains(t, status[StateHasTokens], "cred-b")
}

// TestCheckRetireThenDailyResetRoundTrip covers §8 scenario 5: a credential
// that hits its RPD mid-day moves to RETIRED, and the next daily job
// returns it to HAS_TOKENS with its daily counter back at zero.
func TestCheckRetireThenDailyResetRoundTrip(t *testing.T) {
	s, _ := newTestScheduler(t, 60, 2, 3)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx, []string{"cred-a"}, "model-x"))

	for i := 0; i < 2; i++ {
		cred, err := s.Acquire(ctx, "model-x")
		require.NoError(t, err)
		require.Equal(t, "cred-a", cred)
	}

	// RPD=2 already reached: the third acquire's checkRetire moves cred-a
	// to RETIRED before it ever touches the token bucket, so the pool
	// reports NoCapacity.
	_, err := s.Acquire(ctx, "model-x")
	require.ErrorIs(t, err, apierrors.ErrNoCapacity)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status[StateRetired], "cred-a")

	count, err := s.quota.dailyCount(ctx, "cred-a")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, s.DailyReset(ctx))

	status, err = s.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status[StateHasTokens], "cred-a")
	require.NotContains(t, status[StateRetired], "cred-a")

	count, err = s.quota.dailyCount(ctx, "cred-a")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
