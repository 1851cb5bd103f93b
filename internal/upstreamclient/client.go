// Package upstreamclient is the pooled HTTP client the retry driver uses to
// issue the opaque upstream call, grounded on the teacher's
// internal/upstream/gemini transport-tuning (internal/constants/network.go)
// and postJSON shape, stripped of the Gemini-CLI-specific header spoofing
// and JSON field surgery that live outside this spec's scope.
package upstreamclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"credpool-gateway/internal/constants"
)

// Client issues the opaque upstream call for one (payload, model, credential)
// triple. The wire-level request/response schema is treated opaquely per
// §1's Non-goals; this client only owns transport, not protocol.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client with a pooled transport tuned per the constants the
// teacher applies to its own upstream client. The per-call timeout is
// applied by the caller via context.WithTimeout (§5), not here.
func New(baseURL string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.DialTimeout,
			KeepAlive: constants.KeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: constants.TLSHandshakeTimeout,
		MaxIdleConns:        constants.MaxIdleConns,
		MaxIdleConnsPerHost: constants.MaxIdleConnsPerHost,
		MaxConnsPerHost:     constants.MaxConnsPerHost,
		IdleConnTimeout:     constants.IdleConnTimeout,
	}
	return &Client{baseURL: baseURL, http: &http.Client{Transport: transport}}
}

// Response is the minimal shape the retry driver needs to classify an
// upstream outcome: status code and body (read to completion and closed).
// A transport-level error is returned separately by Call.
type Response struct {
	Status int
	Body   []byte
}

// Call issues one opaque POST to {baseURL}/v1beta/models/{model}:{action}
// with the credential passed as the provider's native API-key query
// parameter, per the Gemini-style protocol named in §1. The request body is
// forwarded byte-for-byte; this client never parses it.
func (c *Client) Call(ctx context.Context, model, action, credential string, payload []byte) (*Response, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		c.baseURL, url.PathEscape(model), action, url.QueryEscape(credential))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}
