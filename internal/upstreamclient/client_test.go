package upstreamclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallForwardsModelActionCredentialAndBody(t *testing.T) {
	var gotPath, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Call(context.Background(), "gemini-1.5-pro", "generateContent", "secret-key", []byte(`{"prompt":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, "/v1beta/models/gemini-1.5-pro:generateContent", gotPath)
	require.Equal(t, "key=secret-key", gotQuery)
	require.Equal(t, `{"prompt":"hi"}`, gotBody)
}

func TestCallPropagatesUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Call(context.Background(), "gemini-1.5-pro", "generateContent", "secret-key", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.Status)
}
