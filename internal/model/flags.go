package model

import json "github.com/goccy/go-json"

// Variant is one rollout bucket of a multivariate flag.
type Variant struct {
	Key              string `json:"key"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

// ConditionGroup is one of a flag's filters.groups entries: an AND of
// PropertyConditions, gated by an optional rollout percentage.
type ConditionGroup struct {
	Properties        []PropertyCondition `json:"properties,omitempty"`
	RolloutPercentage *float64            `json:"rollout_percentage,omitempty"`
}

// Filters is the targeting configuration of a FlagDefinition.
type Filters struct {
	Groups                   []ConditionGroup   `json:"groups"`
	Multivariate             *MultivariateSpec  `json:"multivariate,omitempty"`
	Payloads                 map[string]json.RawMessage `json:"payloads,omitempty"`
	AggregationGroupTypeIndex *int              `json:"aggregation_group_type_index,omitempty"`
}

// MultivariateSpec is the ordered list of variants for a multivariate flag.
type MultivariateSpec struct {
	Variants []Variant `json:"variants"`
}

// FlagDefinition is the cached, opaque-from-the-remote's-perspective payload
// describing one feature flag, as fetched by the Poller.
type FlagDefinition struct {
	Key                        string  `json:"key"`
	ID                         int64   `json:"id"`
	Version                    int64   `json:"version"`
	Active                     bool    `json:"active"`
	EnsureExperienceContinuity bool    `json:"ensure_experience_continuity"`
	Filters                    Filters `json:"filters"`
}

// PropertyCondition is one leaf condition: a property comparison, a cohort
// reference, or a flag-dependency reference.
type PropertyCondition struct {
	Key              string   `json:"key"`
	Operator         string   `json:"operator"`
	Value            any      `json:"value"`
	Negation         bool     `json:"negation,omitempty"`
	Type             string   `json:"type,omitempty"` // "cohort" | "flag" | "" (plain property)
	DependencyChain  []string `json:"dependency_chain,omitempty"`
	HasDependencyChain bool   `json:"-"` // true iff dependency_chain key was present in the source JSON
}

// UnmarshalJSON decodes a PropertyCondition and records whether the
// dependency_chain key was present, so an empty chain can be told apart from
// an absent one.
func (c *PropertyCondition) UnmarshalJSON(data []byte) error {
	type plain PropertyCondition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	_, p.HasDependencyChain = raw["dependency_chain"]
	*c = PropertyCondition(p)
	return nil
}

// PropertyGroup is a recursive AND/OR node. Leaves are represented by
// PropertyCondition values placed in Values alongside nested PropertyGroups;
// since Go lacks sum types, PropertyGroupNode carries both and only one is
// populated per element.
type PropertyGroup struct {
	Type   string              `json:"type"` // "AND" | "OR"
	Values []PropertyGroupNode `json:"values"`
}

// PropertyGroupNode is one element of a PropertyGroup.Values list: either a
// nested PropertyGroup or a leaf PropertyCondition.
type PropertyGroupNode struct {
	Group     *PropertyGroup
	Condition *PropertyCondition
}

// UnmarshalJSON decides, by probing for a "type" field whose value is "AND"
// or "OR" versus anything else, whether this node is a nested group or a
// leaf condition.
func (n *PropertyGroupNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type == "AND" || probe.Type == "OR" {
		var g PropertyGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		n.Group = &g
		return nil
	}

	var c PropertyCondition
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(data, &raw)
	if _, ok := raw["dependency_chain"]; ok {
		c.HasDependencyChain = true
	}
	n.Condition = &c
	return nil
}

// MarshalJSON re-encodes whichever of Group/Condition is set.
func (n PropertyGroupNode) MarshalJSON() ([]byte, error) {
	if n.Group != nil {
		return json.Marshal(n.Group)
	}
	return json.Marshal(n.Condition)
}

// CohortDefinition is a named property group, keyed by cohort id in the
// cache.
type CohortDefinition = PropertyGroup

// FlagResult is the outcome of evaluating one flag for one subject.
type FlagResult struct {
	Value            any // true | false | string | nil
	Reason           string
	FlagID           int64
	FlagVersion      int64
	Payload          any
	LocallyEvaluated bool

	// Inconclusive is true when neither "true"/"false"/variant nor an
	// explicit false could be determined locally: the facade must fall
	// back to the remote evaluator (or return nil under onlyEvaluateLocally).
	Inconclusive bool
	// RequiresServerEvaluation is true when local evaluation must not even
	// be attempted further (e.g. ensureExperienceContinuity, static cohort).
	RequiresServerEvaluation bool
}

// Definitions is the atomically-swapped cache the Poller writes and the
// LocalEvaluator reads.
type Definitions struct {
	FlagsByKey       map[string]FlagDefinition
	CohortsByID      map[string]CohortDefinition
	GroupTypeMapping map[int]string
}
