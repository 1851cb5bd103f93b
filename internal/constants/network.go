// Package constants holds tuning knobs shared across the gateway that are
// not meaningfully "configuration" (operators don't need to override them
// per deployment) but are still named rather than inlined at each call site.
package constants

import "time"

// Upstream HTTP transport tuning, applied to the pooled client in
// internal/upstreamclient.
const (
	MaxIdleConns        = 512
	MaxIdleConnsPerHost = 128
	MaxConnsPerHost     = 256
	IdleConnTimeout     = 90 * time.Second
	DialTimeout         = 10 * time.Second
	TLSHandshakeTimeout = 10 * time.Second
	KeepAlive           = 30 * time.Second
)

// Server lifecycle timing.
const (
	ServerShutdownTimeout = 30 * time.Second
)

// Retry/backoff values. Nothing in this tree reads them: internal/config
// sets its own MAX_RETRIES and TIME_OUT defaults, and the retry driver uses
// the retry library's default delay.
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultUpstreamRPCTimeout = 300 * time.Second
)
