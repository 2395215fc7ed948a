// Package transport performs the HTTP send of encoded batches against the
// PostHog capture API, classifying responses per spec §4.5. It never
// raises: every failure mode — network error, non-2xx status, malformed
// body — is folded into a Response for the caller to interpret.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/posthog/posthog-go-core/internal/backoff"
	"github.com/posthog/posthog-go-core/internal/metrics"
	"github.com/posthog/posthog-go-core/internal/pool"
)

var tracer = otel.Tracer("github.com/posthog/posthog-go-core/internal/transport")

// Status classifies a Response's outcome.
type Status int

const (
	StatusOK Status = iota
	StatusRetryable
	StatusRejected
	StatusUnauthorized
	StatusNetworkError
)

// Response is the never-raising result of a Transport.Send call.
type Response struct {
	StatusCode int
	Body       []byte
	Err        error
	RetryAfter time.Duration

	status Status
}

// Status classifies the response per spec §4.5's status table:
//   - 2xx                      -> StatusOK
//   - 429, 500-599             -> StatusRetryable
//   - 401, 403                 -> StatusUnauthorized
//   - other 4xx                -> StatusRejected
//   - transport/network error  -> StatusNetworkError
func (r Response) Status() Status { return r.status }

// Retryable reports whether the caller's backoff policy should fire again.
func (r Response) Retryable() bool {
	return r.status == StatusRetryable || r.status == StatusNetworkError
}

// Config configures a Transport.
type Config struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	Compression bool
	MaxRetries  int
	Metrics     *metrics.Metrics
}

// Transport sends encoded batch bodies to the PostHog capture endpoint,
// retrying retryable failures under a decorrelated-jitter BackoffPolicy.
type Transport struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	compression bool
	maxRetries  int
	metrics     *metrics.Metrics
}

// New builds a Transport. A nil HTTPClient defaults to http.DefaultClient; a
// nil Metrics is replaced with a disabled no-op recorder.
func New(cfg Config) *Transport {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = backoff.DefaultMaxRetries
	}
	return &Transport{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		httpClient:  hc,
		compression: cfg.Compression,
		maxRetries:  maxRetries,
		metrics:     m,
	}
}

// Send POSTs an already-encoded batch body to /batch, retrying retryable
// responses under a BackoffPolicy until success, a non-retryable outcome, or
// retry exhaustion. It never returns an error itself; failures are reported
// via Response.Err and Response.Status.
func (t *Transport) Send(ctx context.Context, path string, encoded []byte) Response {
	ctx, span := tracer.Start(ctx, "posthog.transport.send", trace.WithAttributes(
		attribute.Int("posthog.batch.bytes", len(encoded)),
	))
	defer span.End()

	resp := t.sendWithRetry(ctx, path, encoded)

	if resp.Err != nil {
		span.RecordError(resp.Err)
		span.SetStatus(codes.Error, resp.Err.Error())
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return resp
}

// sendWithRetry runs the retry loop described in spec §4.5: retry under the
// BackoffPolicy unless the server gave an explicit Retry-After, terminating
// on success, a non-retryable outcome, retry exhaustion, or context
// cancellation.
func (t *Transport) sendWithRetry(ctx context.Context, path string, encoded []byte) Response {
	policy := backoff.New()
	policy.MaxRetries = t.maxRetries

	for {
		start := time.Now()
		resp := t.send(ctx, path, encoded)
		t.metrics.RecordIngestRequest(outcomeLabel(resp.status), time.Since(start))

		if !resp.Retryable() || !policy.ShouldRetry() {
			return resp
		}

		wait := resp.RetryAfter
		if wait == 0 {
			wait = policy.NextInterval()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{StatusCode: -1, Err: ctx.Err(), status: StatusNetworkError}
		case <-timer.C:
		}
	}
}

func (t *Transport) send(ctx context.Context, path string, encoded []byte) Response {
	// A gzip failure falls back to an uncompressed body rather than dropping
	// the event or looping forever on a retry (spec: compression never costs
	// an event).
	body, contentEncoding, err := t.maybeCompress(encoded)
	if err != nil {
		body, contentEncoding = encoded, ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Response{StatusCode: -1, Err: fmt.Errorf("posthog: build request: %w", err), status: StatusNetworkError}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "posthog-go-core")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return Response{StatusCode: -1, Err: fmt.Errorf("posthog: send request: %w", err), status: StatusNetworkError}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{StatusCode: httpResp.StatusCode, Err: fmt.Errorf("posthog: read response: %w", err), status: StatusNetworkError}
	}

	return Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		status:     classifyStatus(httpResp.StatusCode),
	}
}

func (t *Transport) maybeCompress(encoded []byte) (body []byte, contentEncoding string, err error) {
	if !t.compression {
		return encoded, "", nil
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GetGzipWriter(buf)
	defer pool.PutGzipWriter(gz)

	if _, err := gz.Write(encoded); err != nil {
		return nil, "", err
	}
	if err := gz.Close(); err != nil {
		return nil, "", err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, "gzip", nil
}

func classifyStatus(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusOK
	case code == 401 || code == 403:
		return StatusUnauthorized
	case code == 429 || code >= 500:
		return StatusRetryable
	case code >= 400:
		return StatusRejected
	default:
		return StatusRetryable
	}
}

func outcomeLabel(s Status) string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRetryable:
		return "retryable"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusRejected:
		return "rejected"
	default:
		return "network_error"
	}
}

// parseRetryAfter interprets Retry-After as a delay in whole seconds. A
// missing or unparsable header yields zero, meaning "no server hint".
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
