package match

import (
	"errors"
	"testing"

	"github.com/posthog/posthog-go-core/internal/model"
)

func TestMatchPropertyExact(t *testing.T) {
	cond := model.PropertyCondition{Key: "plan", Operator: "exact", Value: "pro"}
	ok, err := MatchProperty(cond, map[string]any{"plan": "pro"})
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = MatchProperty(cond, map[string]any{"plan": "free"})
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchPropertyExactList(t *testing.T) {
	cond := model.PropertyCondition{Key: "plan", Operator: "exact", Value: []any{"pro", "enterprise"}}
	ok, err := MatchProperty(cond, map[string]any{"plan": "enterprise"})
	if err != nil || !ok {
		t.Fatalf("expected list match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchPropertyMissingIsInconclusive(t *testing.T) {
	cond := model.PropertyCondition{Key: "plan", Operator: "exact", Value: "pro"}
	_, err := MatchProperty(cond, map[string]any{})
	if !errors.Is(err, ErrInconclusive) {
		t.Fatalf("expected ErrInconclusive, got %v", err)
	}
}

func TestMatchPropertyIsSetIsNotSet(t *testing.T) {
	present := map[string]any{"plan": "pro"}

	ok, err := MatchProperty(model.PropertyCondition{Key: "plan", Operator: "is_set"}, present)
	if err != nil || !ok {
		t.Fatalf("is_set on present property: ok=%v err=%v", ok, err)
	}

	ok, err = MatchProperty(model.PropertyCondition{Key: "plan", Operator: "is_not_set"}, present)
	if err != nil || ok {
		t.Fatalf("is_not_set on present property: ok=%v err=%v", ok, err)
	}

	ok, err = MatchProperty(model.PropertyCondition{Key: "missing", Operator: "is_not_set"}, present)
	if err != nil || !ok {
		t.Fatalf("is_not_set on absent property: ok=%v err=%v", ok, err)
	}

	_, err = MatchProperty(model.PropertyCondition{Key: "missing", Operator: "is_set"}, present)
	if !errors.Is(err, ErrInconclusive) {
		t.Fatalf("is_set on absent property should be inconclusive, got %v", err)
	}
}

func TestMatchPropertyOrdering(t *testing.T) {
	cases := []struct {
		operator string
		value    float64
		ruleVal  float64
		want     bool
	}{
		{"gt", 10, 5, true},
		{"gt", 5, 10, false},
		{"gte", 5, 5, true},
		{"lt", 3, 5, true},
		{"lte", 5, 5, true},
	}
	for _, c := range cases {
		cond := model.PropertyCondition{Key: "n", Operator: c.operator, Value: c.ruleVal}
		ok, err := MatchProperty(cond, map[string]any{"n": c.value})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.operator, err)
		}
		if ok != c.want {
			t.Errorf("%s(%v,%v) = %v, want %v", c.operator, c.value, c.ruleVal, ok, c.want)
		}
	}
}

func TestMatchPropertyRegex(t *testing.T) {
	cond := model.PropertyCondition{Key: "email", Operator: "regex", Value: `^\w+@posthog\.com$`}
	ok, err := MatchProperty(cond, map[string]any{"email": "max@posthog.com"})
	if err != nil || !ok {
		t.Fatalf("expected regex match, got ok=%v err=%v", ok, err)
	}

	_, err = MatchProperty(model.PropertyCondition{Key: "email", Operator: "regex", Value: "("}, map[string]any{"email": "x"})
	if !errors.Is(err, ErrInconclusive) {
		t.Fatalf("invalid regex should be inconclusive, got %v", err)
	}
}

func TestMatchPropertyIcontains(t *testing.T) {
	cond := model.PropertyCondition{Key: "name", Operator: "icontains", Value: "HOG"}
	ok, err := MatchProperty(cond, map[string]any{"name": "posthog"})
	if err != nil || !ok {
		t.Fatalf("expected case-insensitive contains match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchPropertyDateBeforeAfter(t *testing.T) {
	cond := model.PropertyCondition{Key: "signed_up", Operator: "is_date_before", Value: "2025-01-01"}
	ok, err := MatchProperty(cond, map[string]any{"signed_up": "2024-06-15"})
	if err != nil || !ok {
		t.Fatalf("expected date-before match, got ok=%v err=%v", ok, err)
	}

	cond = model.PropertyCondition{Key: "signed_up", Operator: "is_date_after", Value: "2025-01-01"}
	ok, err = MatchProperty(cond, map[string]any{"signed_up": "2025-06-15"})
	if err != nil || !ok {
		t.Fatalf("expected date-after match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchPropertyUnsupportedOperator(t *testing.T) {
	cond := model.PropertyCondition{Key: "x", Operator: "bogus", Value: "y"}
	_, err := MatchProperty(cond, map[string]any{"x": "y"})
	if !errors.Is(err, ErrInconclusive) {
		t.Fatalf("expected ErrInconclusive for unsupported operator, got %v", err)
	}
}
