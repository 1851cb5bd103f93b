package retrydriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"credpool-gateway/internal/breaker"
	"credpool-gateway/internal/coordination"
	apierrors "credpool-gateway/internal/errors"
	"credpool-gateway/internal/scheduler"
	"credpool-gateway/internal/upstreamclient"
)

type fixedPolicy struct{ rpm, rpd int }

func (f fixedPolicy) Policy(string, string) (int, int) { return f.rpm, f.rpd }

func newTestDriver(t *testing.T, upstreamURL string, maxRetries int) *Driver {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := coordination.NewFromClient(client)

	s := scheduler.New(store, fixedPolicy{rpm: 10, rpd: 1000}, nil, 5, nil)
	require.NoError(t, s.Seed(context.Background(), []string{"cred-a", "cred-b", "cred-c"}, "model-x"))

	b := breaker.New(store, 1000, time.Minute)
	up := upstreamclient.New(upstreamURL)
	return New(s, b, up, maxRetries, time.Second)
}

func TestDoReturnsUpstreamResponseOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL, 3)
	resp, err := d.Do(context.Background(), "model-x", "generateContent", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
}

func TestDoStopsImmediatelyOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL, 3)
	_, err := d.Do(context.Background(), "model-x", "generateContent", []byte(`{}`))

	var clientErr *apierrors.ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, http.StatusBadRequest, clientErr.Status)
	require.Equal(t, 1, calls, "a client error must not be retried")
}

func TestDoRotatesCredentialsOnServerErrorThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL, 5)
	resp, err := d.Do(context.Background(), "model-x", "generateContent", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 3, calls)
}

func TestDoReturnsUpstreamUnavailableWhenRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL, 2)
	_, err := d.Do(context.Background(), "model-x", "generateContent", []byte(`{}`))

	var unavailable *apierrors.UpstreamUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, http.StatusInternalServerError, unavailable.LastStatus)
}
