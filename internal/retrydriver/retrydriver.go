// Package retrydriver implements the retry loop fronting the upstream call
// (§4.7): acquire a credential, issue the call, classify the outcome, and
// either return, surface a client error, or rotate to the next credential
// and retry, up to MAX_RETRIES attempts. Attempt/backoff bookkeeping is
// delegated to github.com/avast/retry-go/v5, grounded on the teacher's own
// hand-rolled internal/upstream/retry.go rotation loop (classify,
// conditionally penalize, rotate, bounded attempts) and on the wrapper
// style of omeyang-XKit's pkg/resilience/xretry around the same kind of
// library-backed retry loop.
package retrydriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v5"
	log "github.com/sirupsen/logrus"

	"credpool-gateway/internal/breaker"
	apierrors "credpool-gateway/internal/errors"
	"credpool-gateway/internal/logging"
	"credpool-gateway/internal/monitoring"
	"credpool-gateway/internal/scheduler"
	"credpool-gateway/internal/upstreamclient"
)

// Driver is the retry-with-rotation loop described in §4.7.
type Driver struct {
	scheduler  *scheduler.Scheduler
	breaker    *breaker.Breaker
	upstream   *upstreamclient.Client
	maxRetries int
	timeout    time.Duration
}

// New builds a Driver. maxRetries is MAX_RETRIES, timeout is the per-call
// upstream timeout (TIME_OUT).
func New(s *scheduler.Scheduler, b *breaker.Breaker, up *upstreamclient.Client, maxRetries int, timeout time.Duration) *Driver {
	return &Driver{scheduler: s, breaker: b, upstream: up, maxRetries: maxRetries, timeout: timeout}
}

// retryableError wraps a non-client failure whose credential has already
// been released to the scheduler, so the retry loop knows to rotate rather
// than stop.
type retryableError struct {
	status int
	err    error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// stopError marks an error as final: the retry loop must not rotate
// credentials and try again. Wrapping is done here (rather than relying on
// retry.Unrecoverable's own unwrap behavior) so errors.As/Is can still see
// through to the underlying *apierrors.ClientError or ErrNoCapacity once
// retry.DoWithData returns.
type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

func stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

func isRetryable(err error) bool {
	var se *stopError
	return !errors.As(err, &se)
}

// Do executes one downstream request for (model, payload) against the
// upstream action (e.g. "generateContent"), per §4.7's numbered steps.
func (d *Driver) Do(ctx context.Context, model, action string, payload []byte) (*upstreamclient.Response, error) {
	var lastStatus int

	resp, err := retry.DoWithData(
		func() (*upstreamclient.Response, error) {
			cred, acqErr := d.scheduler.Acquire(ctx, model)
			if acqErr != nil {
				// NoCapacity is surfaced immediately, not retried: there is
				// no reason to expect a different credential pool shape a
				// moment later within the same request.
				return nil, stop(acqErr)
			}

			callCtx, cancel := context.WithTimeout(ctx, d.timeout)
			upResp, callErr := d.upstream.Call(callCtx, model, action, cred, payload)
			cancel()

			if callErr != nil {
				if relErr := d.scheduler.ReleaseOnFailure(ctx, cred, 0, callErr.Error()); relErr != nil {
					return nil, stop(relErr)
				}
				monitoring.RetryAttemptsTotal.WithLabelValues("server_error").Inc()
				log.WithFields(log.Fields{"credential": cred, "model": model, "kind": logging.ErrorKind(0, true)}).
					Warn("upstream transport error, rotating credential")
				lastStatus = 0
				return nil, &retryableError{err: fmt.Errorf("upstream transport error: %w", callErr)}
			}

			if upResp.Status < 400 {
				monitoring.RetryAttemptsTotal.WithLabelValues("success").Inc()
				return upResp, nil
			}

			lastStatus = upResp.Status
			if upResp.Status >= 500 {
				if err := d.breaker.RecordFailure(ctx); err != nil {
					return nil, stop(err)
				}
			}

			relErr := d.scheduler.ReleaseOnFailure(ctx, cred, upResp.Status, string(upResp.Body))
			if relErr != nil {
				// A *apierrors.ClientError: never retried, credential
				// untouched, per §4.5.
				monitoring.RetryAttemptsTotal.WithLabelValues("client_error").Inc()
				return nil, stop(relErr)
			}
			monitoring.RetryAttemptsTotal.WithLabelValues("server_error").Inc()
			log.WithFields(log.Fields{"credential": cred, "model": model, "kind": logging.ErrorKind(upResp.Status, true)}).
				Warn("upstream rejected request, rotating credential")
			return nil, &retryableError{status: upResp.Status, err: fmt.Errorf("upstream status %d", upResp.Status)}
		},
		retry.Context(ctx),
		retry.Attempts(uint(d.maxRetries)),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)

	if err == nil {
		return resp, nil
	}

	var clientErr *apierrors.ClientError
	if errors.As(err, &clientErr) {
		return nil, clientErr
	}
	if errors.Is(err, apierrors.ErrNoCapacity) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	monitoring.RetryAttemptsTotal.WithLabelValues("exhausted").Inc()
	return nil, &apierrors.UpstreamUnavailableError{LastStatus: lastStatus}
}
