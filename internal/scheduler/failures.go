package scheduler

import (
	"context"

	log "github.com/sirupsen/logrus"

	"credpool-gateway/internal/coordination"
)

// CatalogNotifier is the subset of the catalog contract notified on
// quarantine (by the failure tracker) and ban (by ReleaseOnFailure)
// transitions.
type CatalogNotifier interface {
	MarkLimited(ctx context.Context, cred string) error
	MarkBanned(ctx context.Context, cred string) error
}

// failureTracker implements §4.4: a per-credential failure counter and the
// QUARANTINED transition once it reaches MAX_FAILURES. Ported from
// key_manager.py's handle_api_failure.
type failureTracker struct {
	store   *coordination.Store
	catalog CatalogNotifier
}

func newFailureTracker(store *coordination.Store, catalog CatalogNotifier) *failureTracker {
	return &failureTracker{store: store, catalog: catalog}
}

// recordFailure increments the failure counter and, once it reaches
// threshold, atomically moves cred into QUARANTINED and notifies the
// catalog. The catalog notification happens outside the pipeline since the
// catalog is a separate store with its own failure mode (logged,
// non-blocking per §7): the coordination-store transition above already
// committed and is authoritative for the request, so a catalog write
// failure here is logged and swallowed rather than propagated.
func (f *failureTracker) recordFailure(ctx context.Context, cred string, threshold int) (bool, error) {
	n, err := f.store.IncrWithTTL(ctx, failuresKey(cred), 0)
	if err != nil {
		return false, err
	}
	if n < int64(threshold) {
		return false, nil
	}
	if err := f.store.Pipeline(ctx, func(p coordination.Pipeliner) {
		p.SRem(ctx, hasTokensSet, cred)
		p.ZRem(ctx, emptySet, cred)
		p.SAdd(ctx, quarantine, cred)
	}); err != nil {
		return true, err
	}
	if f.catalog != nil {
		if err := f.catalog.MarkLimited(ctx, cred); err != nil {
			log.WithError(err).WithField("credential", cred).Warn("catalog mark-limited failed, continuing with coordination-store state")
		}
	}
	return true, nil
}
