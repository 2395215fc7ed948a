// Package evaluator implements deterministic local flag evaluation against a
// cached set of flag and cohort definitions (spec §4.11).
package evaluator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/posthog/posthog-go-core/internal/hash"
	"github.com/posthog/posthog-go-core/internal/match"
	"github.com/posthog/posthog-go-core/internal/model"
)

// Evaluator holds the cached flag/cohort/group-type-mapping definitions
// written by the Poller and read by Evaluate. Replacement is atomic: the
// Poller builds a new model.Definitions outside any lock, then swaps it in
// under Evaluator's mutex, so readers never observe a partially-updated
// cache (spec invariant (e)).
type Evaluator struct {
	mu   sync.RWMutex
	defs model.Definitions
}

// New returns an Evaluator with an empty cache.
func New() *Evaluator {
	return &Evaluator{defs: model.Definitions{
		FlagsByKey:       map[string]model.FlagDefinition{},
		CohortsByID:      map[string]model.CohortDefinition{},
		GroupTypeMapping: map[int]string{},
	}}
}

// SetDefinitions atomically replaces the cache.
func (e *Evaluator) SetDefinitions(defs model.Definitions) {
	e.mu.Lock()
	e.defs = defs
	e.mu.Unlock()
}

// Definitions returns the current cache snapshot. The returned value shares
// its maps with the cache; callers must treat them as read-only, which holds
// as long as SetDefinitions is the only writer and always installs brand new
// maps (it does).
func (e *Evaluator) Definitions() model.Definitions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defs
}

// HasFlag reports whether key is present in the cache, used by FlagFacade to
// decide whether local evaluation is even attemptable.
func (e *Evaluator) HasFlag(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.defs.FlagsByKey[key]
	return ok
}

// CacheSize returns the number of cached flags, for metrics.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.defs.FlagsByKey)
}

// EvaluationContext is the resolved (subject, properties) pair a flag is
// evaluated against, after group-type translation.
type EvaluationContext struct {
	Subject    string
	Properties map[string]any
}

// Evaluate decides key for subjectID, given the caller's groups (group type
// -> group key) and property bags, per spec §4.11.
func (e *Evaluator) Evaluate(key, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any) model.FlagResult {
	defs := e.Definitions()

	flag, ok := defs.FlagsByKey[key]
	if !ok {
		return model.FlagResult{Value: nil, Reason: "flag_not_found", Inconclusive: true}
	}

	if !flag.Active {
		return model.FlagResult{Value: false, Reason: "flag_disabled", FlagID: flag.ID, FlagVersion: flag.Version}
	}

	if flag.EnsureExperienceContinuity {
		return model.FlagResult{RequiresServerEvaluation: true, Reason: "ensure_experience_continuity"}
	}

	evalCtx := resolveContext(flag, subjectID, groups, personProps, groupProps, defs.GroupTypeMapping)

	cache := map[string]any{}
	value, reason, payloadKey, inconclusiveErr := e.matchFlagConditions(defs, flag, evalCtx, cache)

	if inconclusiveErr != nil {
		var reqServer *requiresServerSentinel
		if errors.As(inconclusiveErr, &reqServer) {
			return model.FlagResult{RequiresServerEvaluation: true, Reason: reason}
		}
		return model.FlagResult{Inconclusive: true, Reason: inconclusiveErr.Error()}
	}

	result := model.FlagResult{
		Value:       value,
		Reason:      reason,
		FlagID:      flag.ID,
		FlagVersion: flag.Version,
	}
	if payloadKey != "" {
		result.Payload = LookupPayload(flag, payloadKey)
	}
	return result
}

func resolveContext(flag model.FlagDefinition, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any, groupTypeMapping map[int]string) EvaluationContext {
	if flag.Filters.AggregationGroupTypeIndex == nil {
		return EvaluationContext{Subject: subjectID, Properties: personProps}
	}

	groupType, ok := groupTypeMapping[*flag.Filters.AggregationGroupTypeIndex]
	if !ok {
		return EvaluationContext{Subject: subjectID, Properties: map[string]any{}}
	}

	subject := groups[groupType]
	props := groupProps[groupType]
	if props == nil {
		props = map[string]any{}
	}
	return EvaluationContext{Subject: subject, Properties: props}
}

// requiresServerSentinel is a local error type so matchFlagConditions (used
// for both top-level evaluation and dependency resolution) can propagate a
// "give up on cohorts, ask the server" decision through the generic error
// return without importing the match package's sentinel directly in callers.
type requiresServerSentinel struct{ cause string }

func (e *requiresServerSentinel) Error() string { return e.cause }

// matchFlagConditions implements spec §4.11 step 5-6: iterate condition
// groups in order, evaluate each group's properties as an AND, honor the
// rollout gate, and assign a variant. It is shared between top-level
// Evaluate and flag-dependency resolution (which skips the activity/
// continuity gating already applied by the caller for the top-level case).
func (e *Evaluator) matchFlagConditions(defs model.Definitions, flag model.FlagDefinition, ctx EvaluationContext, cache map[string]any) (value any, reason string, payloadKey string, err error) {
	var sawInconclusive error

	lookup := func(id string) (model.CohortDefinition, bool) {
		c, ok := defs.CohortsByID[id]
		return c, ok
	}

	resolveFlag := func(cond model.PropertyCondition) (any, error) {
		return e.resolveDependency(defs, cond, ctx, cache)
	}

	for _, group := range flag.Filters.Groups {
		matched, groupErr := match.EvaluateGroup(model.PropertyGroup{Type: "AND", Values: wrapConditions(group.Properties)}, ctx.Properties, lookup, resolveFlag)

		if groupErr != nil {
			if errors.Is(groupErr, match.ErrRequiresServerEvaluation) {
				return nil, "requires_server_evaluation", "", &requiresServerSentinel{cause: "static cohort reference"}
			}
			if sawInconclusive == nil {
				sawInconclusive = groupErr
			}
			continue
		}

		if !matched {
			continue
		}

		rollout := 100.0
		if group.RolloutPercentage != nil {
			rollout = *group.RolloutPercentage
		}
		if !hash.InRollout(flag.Key, ctx.Subject, rollout) {
			continue
		}

		if flag.Filters.Multivariate != nil && len(flag.Filters.Multivariate.Variants) > 0 {
			variantHash := hash.Variant(flag.Key, ctx.Subject)
			ranges := make([]hash.VariantRange, len(flag.Filters.Multivariate.Variants))
			for i, v := range flag.Filters.Multivariate.Variants {
				ranges[i] = hash.VariantRange{Key: v.Key, RolloutPercentage: v.RolloutPercentage}
			}
			variantKey := hash.PickVariant(variantHash, ranges)
			if variantKey != "" {
				return variantKey, "condition_match", variantKey, nil
			}
		}

		return true, "condition_match", "true", nil
	}

	if sawInconclusive != nil {
		return nil, "inconclusive", "", sawInconclusive
	}

	return false, "no_condition_match", "false", nil
}

func wrapConditions(conds []model.PropertyCondition) []model.PropertyGroupNode {
	nodes := make([]model.PropertyGroupNode, len(conds))
	for i := range conds {
		c := conds[i]
		nodes[i] = model.PropertyGroupNode{Condition: &c}
	}
	return nodes
}

// resolveDependency resolves one "flag" reference condition, populating the
// per-call cache. Circular chains (an empty but present dependency chain) are
// rejected by the match package before this resolver is called.
func (e *Evaluator) resolveDependency(defs model.Definitions, cond model.PropertyCondition, ctx EvaluationContext, cache map[string]any) (any, error) {
	if v, ok := cache[cond.Key]; ok {
		return v, nil
	}

	depFlag, ok := defs.FlagsByKey[cond.Key]
	if !ok {
		return nil, fmt.Errorf("dependency flag %q not found", cond.Key)
	}

	if !depFlag.Active {
		cache[cond.Key] = false
		return false, nil
	}

	value, _, _, err := e.matchFlagConditions(defs, depFlag, ctx, cache)
	if err != nil {
		return nil, err
	}

	cache[cond.Key] = value
	return value, nil
}

// LookupPayload resolves the payload for a decided flag result per spec
// §4.13: the raw payload may itself be a JSON-encoded string, in which case
// it is parsed; on parse failure the raw string is returned as-is.
func LookupPayload(flag model.FlagDefinition, payloadKey string) any {
	if flag.Filters.Payloads == nil {
		return nil
	}
	raw, ok := flag.Filters.Payloads[payloadKey]
	if !ok {
		return nil
	}
	return parsePayload(raw)
}
