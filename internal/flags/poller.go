// Package flags implements the background definition poller, the remote
// decide-endpoint client, and the local/remote routing facade (spec §4.12,
// §4.14).
package flags

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"

	"github.com/posthog/posthog-go-core/internal/evaluator"
	"github.com/posthog/posthog-go-core/internal/metrics"
	"github.com/posthog/posthog-go-core/internal/model"
	"github.com/posthog/posthog-go-core/internal/throttle"
)

var pollerTracer = otel.Tracer("github.com/posthog/posthog-go-core/internal/flags")

// ErrorFunc reports a non-fatal error; see spec §7's error taxonomy.
type ErrorFunc func(code int, message string)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Host           string
	APIKey         string
	PersonalAPIKey string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Evaluator      *evaluator.Evaluator
	OnError        ErrorFunc
	Metrics        *metrics.Metrics
}

// Poller periodically fetches flag and cohort definitions and atomically
// replaces the Evaluator's cache. The Poller is the sole writer of that
// cache; the Evaluator is the sole reader.
type Poller struct {
	cfg      PollerConfig
	reloadRL *throttle.Throttle

	mu      sync.Mutex
	etag    string
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller constructs a Poller. The caller must call Start to begin
// background polling.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 3 * time.Second
	}
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Poller{cfg: cfg, reloadRL: throttle.New(throttle.DefaultMaxPerMinute)}
}

// Start performs a synchronous first fetch so that flag queries immediately
// following construction observe cached data, then spawns the background
// polling loop.
func (p *Poller) Start(ctx context.Context) {
	p.pollOnce(ctx)

	p.mu.Lock()
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.loop()
}

func (p *Poller) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
			p.pollOnce(ctx)
			cancel()
		}
	}
}

// PollOnce performs one fetch-and-replace cycle immediately, for manual
// refresh (e.g. Client.ReloadFeatureFlags). Throttled to
// throttle.DefaultMaxPerMinute calls per minute so a host calling this in a
// tight loop cannot hammer the local-evaluation endpoint; a throttled call
// is dropped silently, identical in effect to arriving just before the next
// tick.
func (p *Poller) PollOnce(ctx context.Context) {
	if !p.reloadRL.Allow() {
		return
	}
	p.pollOnce(ctx)
}

func (p *Poller) pollOnce(ctx context.Context) {
	ctx, span := pollerTracer.Start(ctx, "posthog.poller.poll_once")
	defer span.End()

	p.mu.Lock()
	etag := p.etag
	p.mu.Unlock()

	url := fmt.Sprintf("%s/api/feature_flag/local_evaluation/?token=%s&send_cohorts", p.cfg.Host, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.cfg.OnError(-1, "poller: build request: "+err.Error())
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.PersonalAPIKey)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		p.cfg.OnError(-1, "poller: request failed: "+err.Error())
		p.cfg.Metrics.IncPollCycle("network_error")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			p.cfg.OnError(-1, "poller: read response: "+err.Error())
			p.cfg.Metrics.IncPollCycle("read_error")
			return
		}
		defs, err := decodeLocalEvaluationResponse(body)
		if err != nil {
			p.cfg.OnError(-1, "poller: decode response: "+err.Error())
			p.cfg.Metrics.IncPollCycle("decode_error")
			return
		}
		p.cfg.Evaluator.SetDefinitions(defs)
		p.cfg.Metrics.SetCacheSize(p.cfg.Evaluator.CacheSize())
		p.mu.Lock()
		p.etag = resp.Header.Get("ETag")
		p.mu.Unlock()
		p.cfg.Metrics.IncPollCycle("ok")
	case http.StatusNotModified:
		p.cfg.Metrics.IncPollCycle("not_modified")
	case http.StatusUnauthorized, http.StatusForbidden:
		p.cfg.OnError(resp.StatusCode, "poller: unauthorized")
		p.cfg.Metrics.IncPollCycle("unauthorized")
	case 402:
		p.cfg.OnError(402, "poller: quota limited")
		p.cfg.Metrics.IncPollCycle("quota_limited")
	default:
		p.cfg.OnError(resp.StatusCode, "poller: unexpected status")
		p.cfg.Metrics.IncPollCycle("error")
	}
}

// Stop blocks until the background loop has exited. Safe to call on a Poller
// that was never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// IsRunning reports whether the background loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type localEvaluationResponse struct {
	Flags            []wireFlagDefinition        `json:"flags"`
	Cohorts          map[string]model.CohortDefinition `json:"cohorts"`
	GroupTypeMapping map[string]string           `json:"group_type_mapping"`
}

type wireFlagDefinition struct {
	Key                        string             `json:"key"`
	ID                         int64              `json:"id"`
	Version                    int64              `json:"version"`
	Active                     bool               `json:"active"`
	EnsureExperienceContinuity bool               `json:"ensure_experience_continuity"`
	Filters                    model.Filters      `json:"filters"`
}

func decodeLocalEvaluationResponse(body []byte) (model.Definitions, error) {
	var parsed localEvaluationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.Definitions{}, err
	}

	defs := model.Definitions{
		FlagsByKey:       make(map[string]model.FlagDefinition, len(parsed.Flags)),
		CohortsByID:      parsed.Cohorts,
		GroupTypeMapping: make(map[int]string, len(parsed.GroupTypeMapping)),
	}
	if defs.CohortsByID == nil {
		defs.CohortsByID = map[string]model.CohortDefinition{}
	}

	for _, f := range parsed.Flags {
		defs.FlagsByKey[f.Key] = model.FlagDefinition{
			Key:                        f.Key,
			ID:                         f.ID,
			Version:                    f.Version,
			Active:                     f.Active,
			EnsureExperienceContinuity: f.EnsureExperienceContinuity,
			Filters:                    f.Filters,
		}
	}

	for indexStr, name := range parsed.GroupTypeMapping {
		idx, err := strconv.Atoi(indexStr)
		if err != nil {
			continue
		}
		defs.GroupTypeMapping[idx] = name
	}

	return defs, nil
}
