package posthog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/posthog/posthog-go-core/internal/batch"
	"github.com/posthog/posthog-go-core/internal/evaluator"
	"github.com/posthog/posthog-go-core/internal/flags"
	"github.com/posthog/posthog-go-core/internal/logging"
	"github.com/posthog/posthog-go-core/internal/metrics"
	"github.com/posthog/posthog-go-core/internal/model"
	"github.com/posthog/posthog-go-core/internal/normalizer"
	"github.com/posthog/posthog-go-core/internal/transport"
	"github.com/posthog/posthog-go-core/internal/worker"
)

// flushPollInterval is how often Flush polls the queue-depth counter while
// waiting for it to reach zero (spec §5, "busy-waits ... ≈10ms"). Shutdown
// waits on the Worker goroutine instead of polling.
const flushPollInterval = 10 * time.Millisecond

// Client is the library's only public surface. It owns the lifecycle of the
// Normalizer, Transport, Worker, FlagFacade, and (if configured) Poller.
type Client struct {
	cfg Config

	log     *slog.Logger
	metrics *metrics.Metrics

	normalizer *normalizer.Normalizer
	transport  *transport.Transport

	messages chan model.Message
	control  chan worker.Control
	wrk      *worker.Worker
	workerWG sync.WaitGroup
	queueLen atomic.Int64

	evaluator *evaluator.Evaluator
	remote    *flags.RemoteEvaluator
	facade    *flags.FlagFacade
	poller    *flags.Poller

	shutdownOnce sync.Once
	shutdownDone atomic.Bool
}

// New constructs a Client from cfg, applying documented defaults, and
// starts its background Worker (if AsyncMode) and Poller (if
// PersonalAPIKey is set).
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("posthog: api key must be given")
	}
	cfg = cfg.withDefaults()

	log := logging.OrDefault(cfg.Logger)
	m := metrics.New(cfg.MetricsRegisterer)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		base := http.DefaultTransport
		if cfg.SkipTLSVerification {
			insecure := http.DefaultTransport.(*http.Transport).Clone()
			insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via Config.SkipTLSVerification
			base = insecure
		}
		httpClient = &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(base),
		}
	}

	t := transport.New(transport.Config{
		BaseURL:     cfg.Host,
		APIKey:      cfg.APIKey,
		HTTPClient:  httpClient,
		Compression: cfg.compressionEnabled(),
		MaxRetries:  cfg.MaxRetries,
		Metrics:     m,
	})

	eval := evaluator.New()
	remote := flags.NewRemoteEvaluator(flags.RemoteEvaluatorConfig{
		Host:       cfg.Host,
		APIKey:     cfg.APIKey,
		HTTPClient: httpClient,
		OnError:    flags.ErrorFunc(cfg.OnError),
	})
	facade := flags.NewFacade(flags.FacadeConfig{
		Evaluator:       eval,
		RemoteEvaluator: remote,
		OnError:         flags.ErrorFunc(cfg.OnError),
		Metrics:         m,
	})

	c := &Client{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		normalizer: normalizer.New(),
		transport:  t,
		evaluator:  eval,
		remote:     remote,
		facade:     facade,
	}

	if cfg.Mode == Async {
		c.messages = make(chan model.Message, cfg.MaxQueueSize)
		c.control = make(chan worker.Control, 2)
		c.wrk = worker.New(worker.Config{
			Transport: t,
			APIKey:    cfg.APIKey,
			MaxBatch:  cfg.BatchSize,
			MaxBytes:  batch.DefaultMaxBytes,
			Messages:  c.messages,
			Control:   c.control,
			OnDequeue: func() { n := c.queueLen.Add(-1); c.metrics.SetQueueDepth(int(n)) },
			OnError:   worker.ErrorFunc(cfg.OnError),
			Logger:    log,
			Metrics:   m,
		})
		c.workerWG.Add(1)
		go func() {
			defer c.workerWG.Done()
			c.wrk.Run(context.Background())
		}()
	}

	if cfg.PersonalAPIKey != "" {
		c.poller = flags.NewPoller(flags.PollerConfig{
			Host:           cfg.Host,
			APIKey:         cfg.APIKey,
			PersonalAPIKey: cfg.PersonalAPIKey,
			PollInterval:   cfg.FeatureFlagPollInterval,
			RequestTimeout: cfg.FeatureFlagRequestTimeout,
			HTTPClient:     httpClient,
			Evaluator:      eval,
			OnError:        flags.ErrorFunc(cfg.OnError),
			Metrics:        m,
		})
		c.poller.Start(context.Background())
	}

	return c, nil
}

// enqueueOrSend implements spec §4.7 steps 3-4: in async mode, non-blocking
// bounded enqueue; in sync mode, send directly; in test mode, no-op true.
func (c *Client) enqueueOrSend(ctx context.Context, msg model.Message) bool {
	switch c.cfg.Mode {
	case Test:
		return true

	case Sync:
		b := batch.New(1, batch.DefaultMaxBytes)
		outcome, err := b.Add(msg)
		if err != nil {
			c.cfg.OnError(-1, "encode message: "+err.Error())
			return false
		}
		if outcome != batch.Added {
			c.cfg.OnError(-1, "message too large to send")
			return false
		}
		encoded, err := b.Encode(c.cfg.APIKey)
		if err != nil {
			c.cfg.OnError(-1, "encode batch: "+err.Error())
			return false
		}
		resp := c.transport.Send(ctx, "/batch", encoded)
		if resp.Status() != transport.StatusOK {
			c.cfg.OnError(resp.StatusCode, "sync send failed")
			return false
		}
		return true

	default: // Async
		if c.queueLen.Load() >= int64(c.cfg.MaxQueueSize) {
			c.cfg.OnError(-1, "queue full")
			c.metrics.IncMessagesDropped("queue_full")
			return false
		}
		select {
		case c.messages <- msg:
			n := c.queueLen.Add(1)
			c.metrics.IncMessagesEnqueued()
			c.metrics.SetQueueDepth(int(n))
			return true
		default:
			c.cfg.OnError(-1, "queue full")
			c.metrics.IncMessagesDropped("queue_full")
			return false
		}
	}
}

// applyBeforeSend runs the caller's BeforeSend hook, if configured. A nil
// return drops the message (spec §9 open question); a non-nil map replaces
// Properties.
func (c *Client) applyBeforeSend(msg model.Message) (model.Message, bool) {
	if c.cfg.BeforeSend == nil {
		return msg, true
	}
	replaced := c.cfg.BeforeSend(string(msg.Kind), msg.Properties)
	if replaced == nil {
		return msg, false
	}
	msg.Properties = replaced
	return msg, true
}

func (c *Client) deliver(ctx context.Context, msg model.Message, err error) bool {
	if err != nil {
		c.cfg.OnError(-1, err.Error())
		return false
	}
	msg, ok := c.applyBeforeSend(msg)
	if !ok {
		return false
	}
	return c.enqueueOrSend(ctx, msg)
}

// Capture records an analytics event for subjectID.
func (c *Client) Capture(ctx context.Context, subjectID, event string, properties map[string]any) bool {
	msg, err := c.normalizer.Capture(normalizer.CaptureInput{
		SubjectID:  subjectID,
		EventName:  event,
		Properties: properties,
	})
	return c.deliver(ctx, msg, err)
}

// CaptureWithGroups records an analytics event with group associations and
// carried feature-flag variants (for $feature/<key> enrichment).
func (c *Client) CaptureWithGroups(ctx context.Context, subjectID, event string, properties map[string]any, groups map[string]string, featureVariants map[string]any) bool {
	msg, err := c.normalizer.Capture(normalizer.CaptureInput{
		SubjectID:       subjectID,
		EventName:       event,
		Properties:      properties,
		Groups:          groups,
		FeatureVariants: featureVariants,
	})
	return c.deliver(ctx, msg, err)
}

// Identify associates properties with subjectID.
func (c *Client) Identify(ctx context.Context, subjectID string, properties map[string]any) bool {
	msg, err := c.normalizer.Identify(normalizer.IdentifyInput{SubjectID: subjectID, Properties: properties})
	return c.deliver(ctx, msg, err)
}

// Alias merges aliasID into subjectID's identity.
func (c *Client) Alias(ctx context.Context, subjectID, aliasID string) bool {
	msg, err := c.normalizer.Alias(normalizer.AliasInput{SubjectID: subjectID, AliasID: aliasID})
	return c.deliver(ctx, msg, err)
}

// GroupIdentify associates properties with a (groupType, groupKey) group.
func (c *Client) GroupIdentify(ctx context.Context, groupType, groupKey string, properties map[string]any) bool {
	msg, err := c.normalizer.GroupIdentify(normalizer.GroupIdentifyInput{
		GroupType:  groupType,
		GroupKey:   groupKey,
		Properties: properties,
	})
	return c.deliver(ctx, msg, err)
}

// CaptureException records a handled or unhandled error for subjectID.
func (c *Client) CaptureException(ctx context.Context, subjectID string, err error, handled bool) bool {
	msg, buildErr := c.normalizer.Exception(normalizer.ExceptionInput{SubjectID: subjectID, Err: err, Handled: handled})
	return c.deliver(ctx, msg, buildErr)
}

// CaptureExceptionMessage records a synthetic (stack-trace-free) error
// report for subjectID.
func (c *Client) CaptureExceptionMessage(ctx context.Context, subjectID, message string, handled bool) bool {
	msg, buildErr := c.normalizer.Exception(normalizer.ExceptionInput{SubjectID: subjectID, Message: message, Handled: handled})
	return c.deliver(ctx, msg, buildErr)
}

// FlagEnabled reports whether key is "on" (truthy value) for subjectID.
func (c *Client) FlagEnabled(ctx context.Context, key, subjectID string) bool {
	result := c.facade.Evaluate(ctx, key, subjectID, nil, nil, nil, false)
	return truthy(result.Value)
}

// FlagValue returns key's decided value for subjectID: a bool, a variant
// string, or nil if it could not be determined.
func (c *Client) FlagValue(ctx context.Context, key, subjectID string, onlyEvaluateLocally bool) any {
	result := c.facade.Evaluate(ctx, key, subjectID, nil, nil, nil, onlyEvaluateLocally)
	return result.Value
}

// FlagPayload returns key's associated payload for subjectID, if any.
func (c *Client) FlagPayload(ctx context.Context, key, subjectID string) any {
	result := c.facade.Evaluate(ctx, key, subjectID, nil, nil, nil, false)
	return result.Payload
}

// AllFlags evaluates every known flag for subjectID.
func (c *Client) AllFlags(ctx context.Context, subjectID string, onlyEvaluateLocally bool) map[string]any {
	values, _ := c.facade.AllFlagsAndPayloads(ctx, subjectID, nil, nil, nil, onlyEvaluateLocally)
	return values
}

// AllFlagsAndPayloads evaluates every known flag for subjectID, returning
// both values and payloads.
func (c *Client) AllFlagsAndPayloads(ctx context.Context, subjectID string, onlyEvaluateLocally bool) (values map[string]any, payloads map[string]any) {
	return c.facade.AllFlagsAndPayloads(ctx, subjectID, nil, nil, nil, onlyEvaluateLocally)
}

// ReloadFeatureFlags runs an immediate Poller fetch cycle, used for manual
// refresh. Calls beyond the Poller's manual-reload throttle are dropped
// without fetching. A no-op if local evaluation is not enabled.
func (c *Client) ReloadFeatureFlags(ctx context.Context) {
	if c.poller == nil {
		return
	}
	c.poller.PollOnce(ctx)
}

// LocalEvaluationEnabled reports whether the flag-definition cache currently
// holds any flags.
func (c *Client) LocalEvaluationEnabled() bool {
	return c.facade.LocalEvaluationEnabled()
}

// QueueSize returns the number of messages currently queued for delivery.
func (c *Client) QueueSize() int {
	return int(c.queueLen.Load())
}

// IsShutdown reports whether Shutdown has completed.
func (c *Client) IsShutdown() bool {
	return c.shutdownDone.Load()
}

// Flush blocks until the queue depth counter reaches zero.
func (c *Client) Flush() {
	if c.cfg.Mode != Async {
		return
	}
	if len(c.messages) == 0 && c.queueLen.Load() == 0 {
		return
	}
	select {
	case c.control <- worker.Flush:
	default:
	}
	for c.queueLen.Load() > 0 {
		time.Sleep(flushPollInterval)
	}
}

// drainFlagCallEvents captures each pending flag-called event through the
// normal ingestion pipeline before shutdown stops the Worker (spec §4.14).
func (c *Client) drainFlagCallEvents(ctx context.Context) {
	for _, ev := range c.facade.FlushCallEvents() {
		props := map[string]any{
			"$feature_flag":          ev.FlagKey,
			"$feature_flag_response": ev.Value,
			fmt.Sprintf("$feature/%s", ev.FlagKey): ev.Value,
			"locally_evaluated":                    ev.LocallyEvaluated,
		}
		if ev.Payload != nil {
			props["$feature_flag_payload"] = ev.Payload
		}
		if ev.Reason != "" {
			props["$feature_flag_reason"] = ev.Reason
		}
		if ev.FlagVersion != 0 {
			props["$feature_flag_version"] = ev.FlagVersion
		}
		if ev.FlagID != 0 {
			props["$feature_flag_id"] = ev.FlagID
		}
		props["$feature_flag_evaluated_at"] = model.NowISO8601(ev.EvaluatedAt)

		msg, err := c.normalizer.Capture(normalizer.CaptureInput{
			SubjectID:  ev.SubjectID,
			EventName:  "$feature_flag_called",
			Properties: props,
		})
		if err != nil {
			c.cfg.OnError(-1, err.Error())
			continue
		}
		c.enqueueOrSend(ctx, msg)
	}
}

// Shutdown is idempotent: it drains pending flag-called events, stops the
// Poller and Worker, and closes the message and control channels. It does
// not close the Transport or the HTTP client's idle connections.
func (c *Client) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.drainFlagCallEvents(ctx)

		if c.poller != nil {
			c.poller.Stop()
		}

		if c.cfg.Mode == Async {
			c.control <- worker.Shutdown
			c.workerWG.Wait()
			close(c.messages)
			close(c.control)
		}

		c.shutdownDone.Store(true)
	})
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}
