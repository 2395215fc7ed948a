// Package posthog is a host-embedded client library for event ingestion and
// feature-flag decisioning against a PostHog-compatible remote service. It
// never blocks host code paths on network I/O and never raises to its
// caller; every failure surfaces as a boolean return, a nil/inconclusive
// FlagResult, or an onError callback invocation (spec §7).
package posthog

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultHost                      = "https://us.i.posthog.com"
	DefaultMaxQueueSize               = 10_000
	DefaultBatchSize                  = 100
	DefaultRequestTimeout             = 10 * time.Second
	DefaultMaxRetries                 = 10
	DefaultFeatureFlagPollInterval    = 30 * time.Second
	DefaultFeatureFlagRequestTimeout  = 3 * time.Second
)

// ErrorFunc is invoked for any non-fatal failure the host should be able to
// observe; code is -1 for local (non-HTTP) failures, otherwise the HTTP
// status code involved.
type ErrorFunc func(code int, message string)

// BeforeSendFunc may inspect or replace a Message's properties before it is
// queued. Returning nil drops the event entirely (spec §9 open question);
// returning a non-nil map replaces Properties going forward.
type BeforeSendFunc func(kind string, properties map[string]any) map[string]any

// Mode selects how ingestion calls hand off to the Transport. The zero value
// is Async, matching spec §3's documented default.
type Mode int

const (
	// Async enqueues messages for background delivery by the Worker. This
	// is the zero value, so a caller who never sets Mode gets it for free.
	Async Mode = iota
	// Sync calls Transport directly with a one-message Batch, blocking the
	// caller until the request completes.
	Sync
	// Test short-circuits ingestion calls to a successful no-op; no network
	// traffic is generated.
	Test
)

// Config is the process-wide configuration supplied at Client construction.
// It is immutable after New returns.
type Config struct {
	// APIKey is the project write key. Required, non-empty.
	APIKey string
	// Host is the base URL of the remote service.
	Host string
	// PersonalAPIKey, if set, enables local feature-flag evaluation: the
	// Poller starts and fetches flag/cohort definitions.
	PersonalAPIKey string

	MaxQueueSize int
	BatchSize    int

	RequestTimeout      time.Duration
	SkipTLSVerification bool

	// Mode selects Async (default), Sync, or Test ingestion handling.
	Mode Mode

	MaxRetries int

	FeatureFlagPollInterval   time.Duration
	FeatureFlagRequestTimeout time.Duration

	OnError    ErrorFunc
	BeforeSend BeforeSendFunc

	// --- ambient / domain-stack additions (SPEC_FULL §3) ---

	// Logger receives structured diagnostic output. Defaults to a
	// slog.Logger at info level writing JSON to stderr.
	Logger *slog.Logger
	// MetricsRegisterer, if set, registers Prometheus collectors describing
	// queue depth, batch/flush counts, poll cycles, and evaluation counts.
	// Nil disables metrics entirely (zero overhead).
	MetricsRegisterer prometheus.Registerer
	// Compression enables gzip Content-Encoding on outgoing /batch bodies.
	// Defaults to true; a plain bool cannot distinguish "unset" from an
	// explicit false, so pass a pointer (e.g. via BoolPtr(false)) to disable
	// it.
	Compression *bool
	// HTTPClient overrides the client used for all outbound requests
	// (capture, decide, and local-evaluation). Defaults to an
	// otel-instrumented client built from http.DefaultTransport, with
	// RequestTimeout as its timeout and TLS verification disabled when
	// SkipTLSVerification is set. SkipTLSVerification has no effect on a
	// caller-supplied HTTPClient.
	HTTPClient *http.Client
}

// withDefaults returns a copy of cfg with every zero-value field replaced by
// its documented default.
func (cfg Config) withDefaults() Config {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.FeatureFlagPollInterval <= 0 {
		cfg.FeatureFlagPollInterval = DefaultFeatureFlagPollInterval
	}
	if cfg.FeatureFlagRequestTimeout <= 0 {
		cfg.FeatureFlagRequestTimeout = DefaultFeatureFlagRequestTimeout
	}
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.Compression == nil {
		cfg.Compression = BoolPtr(true)
	}
	return cfg
}

// BoolPtr returns a pointer to b, for use with nilable Config fields like
// Compression where the zero value (false) must be distinguishable from
// "unset".
func BoolPtr(b bool) *bool { return &b }

// compressionEnabled reports the effective Compression setting. Safe to call
// only after withDefaults.
func (cfg Config) compressionEnabled() bool {
	return cfg.Compression != nil && *cfg.Compression
}
