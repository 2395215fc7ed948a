package match

import (
	"fmt"

	"github.com/posthog/posthog-go-core/internal/model"
)

// FlagValueResolver resolves the cached or freshly-evaluated value of a flag
// dependency referenced by a "flag"-typed PropertyCondition. It is supplied
// by the LocalEvaluator, which owns the per-call evaluation cache. The
// circular-dependency check implied by an empty (but present)
// DependencyChain is made here, in evaluateFlagRef, before the resolver is
// called.
type FlagValueResolver func(cond model.PropertyCondition) (any, error)

// CohortLookup resolves a cohort definition by id.
type CohortLookup func(id string) (model.CohortDefinition, bool)

// EvaluateGroup recursively evaluates a property group against properties,
// resolving nested cohort and flag references via lookup and resolveFlag.
func EvaluateGroup(group model.PropertyGroup, properties map[string]any, lookup CohortLookup, resolveFlag FlagValueResolver) (bool, error) {
	if len(group.Values) == 0 {
		return true, nil
	}

	isAnd := group.Type == "AND"
	var firstErr error

	for _, node := range group.Values {
		result, err := evaluateNode(node, properties, lookup, resolveFlag)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// An inconclusive/error leaf neither proves nor disproves the
			// group; keep scanning so a short-circuit on another leaf can
			// still decide the group deterministically, matching the
			// top-level evaluator's "try the next condition" contract.
			if isAnd {
				// AND cannot be proven true past an error, but a later
				// leaf might still disprove it (false dominates error).
				continue
			}
			continue
		}

		if isAnd && !result {
			return false, nil
		}
		if !isAnd && result {
			return true, nil
		}
	}

	if firstErr != nil {
		return false, firstErr
	}

	return isAnd, nil
}

func evaluateNode(node model.PropertyGroupNode, properties map[string]any, lookup CohortLookup, resolveFlag FlagValueResolver) (bool, error) {
	if node.Group != nil {
		return EvaluateGroup(*node.Group, properties, lookup, resolveFlag)
	}

	cond := *node.Condition
	var result bool
	var err error

	switch cond.Type {
	case "cohort":
		result, err = evaluateCohortRef(cond, properties, lookup, resolveFlag)
	case "flag":
		result, err = evaluateFlagRef(cond, resolveFlag)
	default:
		result, err = MatchProperty(cond, properties)
	}

	if err != nil {
		return false, err
	}

	if cond.Negation {
		result = !result
	}
	return result, nil
}

func evaluateCohortRef(cond model.PropertyCondition, properties map[string]any, lookup CohortLookup, resolveFlag FlagValueResolver) (bool, error) {
	id := fmt.Sprintf("%v", cond.Value)
	cohort, ok := lookup(id)
	if !ok {
		return false, ErrRequiresServerEvaluation
	}
	return EvaluateGroup(cohort, properties, lookup, resolveFlag)
}

func evaluateFlagRef(cond model.PropertyCondition, resolveFlag FlagValueResolver) (bool, error) {
	if cond.HasDependencyChain && len(cond.DependencyChain) == 0 {
		return false, inconclusive("circular flag dependency")
	}
	if cond.Operator != "flag_evaluates_to" {
		return false, inconclusive("unsupported flag-reference operator " + cond.Operator)
	}

	actual, err := resolveFlag(cond)
	if err != nil {
		return false, err
	}

	return flagEvaluatesTo(actual, cond.Value), nil
}

// flagEvaluatesTo implements the matching rules from spec §4.10.
func flagEvaluatesTo(actual, expected any) bool {
	switch exp := expected.(type) {
	case bool:
		if exp {
			if b, ok := actual.(bool); ok {
				return b
			}
			if s, ok := actual.(string); ok {
				return s != ""
			}
			return false
		}
		if b, ok := actual.(bool); ok {
			return !b
		}
		return actual == nil
	case string:
		s, ok := actual.(string)
		return ok && s == exp
	default:
		return false
	}
}
