package flags

import (
	"bytes"
	"context"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/posthog/posthog-go-core/internal/model"
)

// RemoteEvaluatorConfig configures a RemoteEvaluator.
type RemoteEvaluatorConfig struct {
	Host       string
	APIKey     string
	HTTPClient *http.Client
	OnError    ErrorFunc
}

// RemoteEvaluator asks the PostHog decide endpoint to evaluate flags on the
// client's behalf, used when local evaluation is unavailable or
// inconclusive (spec §4.14).
type RemoteEvaluator struct {
	cfg RemoteEvaluatorConfig
}

// NewRemoteEvaluator constructs a RemoteEvaluator.
func NewRemoteEvaluator(cfg RemoteEvaluatorConfig) *RemoteEvaluator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	return &RemoteEvaluator{cfg: cfg}
}

type decideRequest struct {
	APIKey          string                       `json:"api_key"`
	DistinctID      string                       `json:"distinct_id"`
	Groups          map[string]string            `json:"groups,omitempty"`
	PersonProps     map[string]any               `json:"person_properties,omitempty"`
	GroupProps      map[string]map[string]any    `json:"group_properties,omitempty"`
	GeoipDisable    bool                         `json:"geoip_disable"`
}

// v2FlagMetadata is the nested metadata object carrying the flag's id,
// version, and raw payload in a v2 "flags" entry.
type v2FlagMetadata struct {
	ID      int64           `json:"id"`
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// v2FlagEntry is one entry of the v2 "flags" map.
type v2FlagEntry struct {
	Key      string         `json:"key"`
	Enabled  bool           `json:"enabled"`
	Variant  string         `json:"variant,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Metadata v2FlagMetadata `json:"metadata,omitempty"`
}

type decideResponse struct {
	Flags               map[string]v2FlagEntry    `json:"flags"`
	FeatureFlags        map[string]json.RawMessage `json:"featureFlags"`
	FeatureFlagPayloads map[string]json.RawMessage `json:"featureFlagPayloads"`
	QuotaLimited        json.RawMessage           `json:"quotaLimited"`
}

// FetchResult is the outcome of a RemoteEvaluator.Fetch call.
type FetchResult struct {
	Results      map[string]model.FlagResult
	QuotaLimited []string
}

// Fetch posts the subject's context to the decide endpoint and parses the
// response per spec §4.14's status table and dual encoding support.
func (r *RemoteEvaluator) Fetch(ctx context.Context, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any) *FetchResult {
	reqBody, err := json.Marshal(decideRequest{
		APIKey:       r.cfg.APIKey,
		DistinctID:   subjectID,
		Groups:       groups,
		PersonProps:  personProps,
		GroupProps:   groupProps,
		GeoipDisable: true,
	})
	if err != nil {
		r.cfg.OnError(-1, "remote evaluator: marshal request: "+err.Error())
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Host+"/flags?v=2", bytes.NewReader(reqBody))
	if err != nil {
		r.cfg.OnError(-1, "remote evaluator: build request: "+err.Error())
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		r.cfg.OnError(-1, "remote evaluator: request failed: "+err.Error())
		return nil
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == 402 {
		return &FetchResult{Results: map[string]model.FlagResult{}, QuotaLimited: []string{"feature_flags"}}
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		r.cfg.OnError(httpResp.StatusCode, "remote evaluator: unauthorized")
		return nil
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		r.cfg.OnError(httpResp.StatusCode, "remote evaluator: unexpected status")
		return nil
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		r.cfg.OnError(-1, "remote evaluator: read response: "+err.Error())
		return nil
	}

	var parsed decideResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		r.cfg.OnError(-1, "remote evaluator: decode response: "+err.Error())
		return nil
	}

	return parseDecideResponse(parsed)
}

func parseDecideResponse(parsed decideResponse) *FetchResult {
	results := make(map[string]model.FlagResult)

	if len(parsed.Flags) > 0 {
		for key, entry := range parsed.Flags {
			var value any = entry.Enabled
			if entry.Variant != "" {
				value = entry.Variant
			}
			reason := entry.Reason
			if reason == "" {
				reason = "remote_evaluation"
			}
			result := model.FlagResult{
				Value:            value,
				Reason:           reason,
				FlagID:           entry.Metadata.ID,
				FlagVersion:      entry.Metadata.Version,
				LocallyEvaluated: false,
			}
			if len(entry.Metadata.Payload) > 0 {
				result.Payload = decodeRemotePayload(entry.Metadata.Payload)
			}
			results[key] = result
		}
	} else {
		for key, raw := range parsed.FeatureFlags {
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				continue
			}
			result := model.FlagResult{Value: value, Reason: "remote_evaluation"}
			if payloadRaw, ok := parsed.FeatureFlagPayloads[key]; ok {
				result.Payload = decodeRemotePayload(payloadRaw)
			}
			results[key] = result
		}
	}

	return &FetchResult{
		Results:      results,
		QuotaLimited: parseQuotaLimited(parsed.QuotaLimited),
	}
}

func decodeRemotePayload(raw json.RawMessage) any {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	if s, ok := parsed.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
		return s
	}
	return parsed
}

func parseQuotaLimited(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		if asBool {
			return []string{"feature_flags"}
		}
		return nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList
	}

	return nil
}
