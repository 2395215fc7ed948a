package flags

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/posthog/posthog-go-core/internal/evaluator"
	"github.com/posthog/posthog-go-core/internal/metrics"
	"github.com/posthog/posthog-go-core/internal/model"
)

// CallEvent is a deduplicated flag-evaluation record awaiting delivery as a
// $feature_flag_called event (spec §4.14, glossary "Flag-called event").
type CallEvent struct {
	SubjectID        string
	FlagKey          string
	Value            any
	Payload          any
	LocallyEvaluated bool
	Reason           string
	FlagID           int64
	FlagVersion      int64
	EvaluatedAt      time.Time
}

type callKey struct {
	subjectID string
	flagKey   string
	value     string
}

// FacadeConfig configures a FlagFacade.
type FacadeConfig struct {
	Evaluator       *evaluator.Evaluator
	RemoteEvaluator *RemoteEvaluator
	OnError         ErrorFunc
	Metrics         *metrics.Metrics
}

// FlagFacade routes a flag query through local evaluation first, falling
// back to the remote decide endpoint, and tracks deduplicated flag-called
// telemetry.
type FlagFacade struct {
	cfg FacadeConfig

	mu   sync.Mutex
	seen map[callKey]struct{}
	pend []CallEvent
}

// NewFacade constructs a FlagFacade.
func NewFacade(cfg FacadeConfig) *FlagFacade {
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &FlagFacade{
		cfg:  cfg,
		seen: make(map[callKey]struct{}),
	}
}

// LocalEvaluationEnabled reports whether the evaluator's cache currently
// holds any flag definitions.
func (f *FlagFacade) LocalEvaluationEnabled() bool {
	return f.cfg.Evaluator.CacheSize() > 0
}

// Evaluate implements spec §4.14's flagValue routing: try local evaluation
// first; if inconclusive or cache-empty and onlyEvaluateLocally is false,
// fall back to remote; record a flag-called event for any decisive result.
func (f *FlagFacade) Evaluate(ctx context.Context, key, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any, onlyEvaluateLocally bool) model.FlagResult {
	if f.cfg.Evaluator.HasFlag(key) {
		local := f.cfg.Evaluator.Evaluate(key, subjectID, groups, personProps, groupProps)
		if !local.Inconclusive && !local.RequiresServerEvaluation {
			local.LocallyEvaluated = true
			f.cfg.Metrics.RecordEvaluation("local")
			f.recordCall(subjectID, key, local)
			return local
		}
	}

	if onlyEvaluateLocally {
		return model.FlagResult{Value: nil, Reason: "only_evaluate_locally", Inconclusive: true}
	}

	fetch := f.cfg.RemoteEvaluator.Fetch(ctx, subjectID, groups, personProps, groupProps)
	if fetch == nil {
		return model.FlagResult{Value: nil, Reason: "remote_evaluation_failed", Inconclusive: true}
	}

	result, ok := fetch.Results[key]
	if !ok {
		return model.FlagResult{Value: nil, Reason: "flag_not_found"}
	}

	f.cfg.Metrics.RecordEvaluation("remote")
	f.recordCall(subjectID, key, result)
	return result
}

// AllFlagsAndPayloads evaluates every known flag locally (falling back to a
// single remote round-trip for any that are inconclusive) and returns the
// merged value/payload maps.
func (f *FlagFacade) AllFlagsAndPayloads(ctx context.Context, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any, onlyEvaluateLocally bool) (values map[string]any, payloads map[string]any) {
	values = map[string]any{}
	payloads = map[string]any{}

	defs := f.cfg.Evaluator.Definitions()
	needsRemote := false

	for key := range defs.FlagsByKey {
		result := f.cfg.Evaluator.Evaluate(key, subjectID, groups, personProps, groupProps)
		if result.Inconclusive || result.RequiresServerEvaluation {
			needsRemote = true
			continue
		}
		result.LocallyEvaluated = true
		values[key] = result.Value
		if result.Payload != nil {
			payloads[key] = result.Payload
		}
		f.recordCall(subjectID, key, result)
	}

	if needsRemote && !onlyEvaluateLocally {
		fetch := f.cfg.RemoteEvaluator.Fetch(ctx, subjectID, groups, personProps, groupProps)
		if fetch != nil {
			for key, result := range fetch.Results {
				if _, already := values[key]; already {
					continue
				}
				values[key] = result.Value
				if result.Payload != nil {
					payloads[key] = result.Payload
				}
				f.recordCall(subjectID, key, result)
			}
		}
	}

	return values, payloads
}

func (f *FlagFacade) recordCall(subjectID, key string, result model.FlagResult) {
	k := callKey{subjectID: subjectID, flagKey: key, value: fmt.Sprintf("%v", result.Value)}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[k]; ok {
		return
	}
	f.seen[k] = struct{}{}
	f.pend = append(f.pend, CallEvent{
		SubjectID:        subjectID,
		FlagKey:          key,
		Value:            result.Value,
		Payload:          result.Payload,
		LocallyEvaluated: result.LocallyEvaluated,
		Reason:           result.Reason,
		FlagID:           result.FlagID,
		FlagVersion:      result.FlagVersion,
		EvaluatedAt:      time.Now(),
	})
}

// FlushCallEvents atomically drains the dedup cache's pending event list.
// The dedup set itself (seen) is retained so a flag re-evaluating to the
// same value after flush does not re-fire.
func (f *FlagFacade) FlushCallEvents() []CallEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pend) == 0 {
		return nil
	}
	drained := f.pend
	f.pend = nil
	return drained
}
