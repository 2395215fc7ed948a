package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/posthog/posthog-go-core/internal/model"
)

// relativeDatePattern matches the relative-date grammar: an optional sign,
// digits, and one unit character (h/d/w/m/y).
var relativeDatePattern = regexp.MustCompile(`^-?\d+[hdwmy]$`)

const maxRelativeDateMagnitude = 10000

// MatchProperty evaluates one property condition against a property bag,
// returning (true, nil), (false, nil), or (false, err) where err wraps
// ErrInconclusive.
func MatchProperty(cond model.PropertyCondition, properties map[string]any) (bool, error) {
	value, present := properties[cond.Key]

	switch cond.Operator {
	case "is_not_set":
		return !present, nil
	case "is_set":
		if !present {
			return false, inconclusive(fmt.Sprintf("property %q is absent", cond.Key))
		}
		return true, nil
	}

	if !present {
		return false, inconclusive(fmt.Sprintf("property %q is absent", cond.Key))
	}

	switch cond.Operator {
	case "exact":
		return matchExact(value, cond.Value), nil
	case "is_not":
		return !matchExact(value, cond.Value), nil
	case "icontains":
		return matchContains(value, cond.Value), nil
	case "not_icontains":
		return !matchContains(value, cond.Value), nil
	case "regex":
		return matchRegex(value, cond.Value)
	case "not_regex":
		ok, err := matchRegex(value, cond.Value)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "gt", "gte", "lt", "lte":
		return matchOrdering(cond.Operator, value, cond.Value)
	case "is_date_before":
		return matchDate(value, cond.Value, true)
	case "is_date_after":
		return matchDate(value, cond.Value, false)
	default:
		return false, inconclusive(fmt.Sprintf("unsupported operator %q", cond.Operator))
	}
}

func matchExact(value, ruleValue any) bool {
	if list, ok := ruleValue.([]any); ok {
		for _, item := range list {
			if stringsEqualFold(value, item) {
				return true
			}
		}
		return false
	}
	return stringsEqualFold(value, ruleValue)
}

func stringsEqualFold(a, b any) bool {
	return strings.EqualFold(toString(a), toString(b))
}

func matchContains(value, ruleValue any) bool {
	return strings.Contains(strings.ToLower(toString(value)), strings.ToLower(toString(ruleValue)))
}

func matchRegex(value, ruleValue any) (bool, error) {
	re, err := regexp.Compile(toString(ruleValue))
	if err != nil {
		return false, inconclusive("invalid regex: " + err.Error())
	}
	return re.MatchString(toString(value)), nil
}

func matchOrdering(operator string, value, ruleValue any) (bool, error) {
	leftNum, leftOK := toFloat(value)
	rightNum, rightOK := toFloat(ruleValue)

	var cmp int
	if leftOK && rightOK {
		switch {
		case leftNum < rightNum:
			cmp = -1
		case leftNum > rightNum:
			cmp = 1
		default:
			cmp = 0
		}
	} else {
		cmp = strings.Compare(toString(value), toString(ruleValue))
	}

	switch operator {
	case "gt":
		return cmp > 0, nil
	case "gte":
		return cmp >= 0, nil
	case "lt":
		return cmp < 0, nil
	case "lte":
		return cmp <= 0, nil
	}
	return false, inconclusive("unsupported ordering operator " + operator)
}

func matchDate(value, ruleValue any, before bool) (bool, error) {
	target, err := parseConditionDate(toString(ruleValue))
	if err != nil {
		return false, inconclusive("invalid date in condition: " + err.Error())
	}

	subject, err := parsePropertyDate(value)
	if err != nil {
		return false, inconclusive("invalid date in property: " + err.Error())
	}

	if before {
		return subject.Before(target), nil
	}
	return subject.After(target), nil
}

// parseConditionDate parses either an absolute date or a relative-date
// expression, relative to now (UTC).
func parseConditionDate(s string) (time.Time, error) {
	if relativeDatePattern.MatchString(s) {
		return parseRelativeDate(s, time.Now().UTC())
	}
	return parseAbsoluteDate(s)
}

func parseRelativeDate(s string, now time.Time) (time.Time, error) {
	sign := 1
	rest := s
	if strings.HasPrefix(rest, "-") {
		sign = -1
		rest = rest[1:]
	}
	unit := rest[len(rest)-1]
	magnitudeStr := rest[:len(rest)-1]
	magnitude, err := strconv.Atoi(magnitudeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad relative date %q: %w", s, err)
	}
	if magnitude > maxRelativeDateMagnitude {
		magnitude = maxRelativeDateMagnitude
	}
	magnitude *= sign

	switch unit {
	case 'h':
		return now.Add(time.Duration(magnitude) * time.Hour), nil
	case 'd':
		return now.AddDate(0, 0, magnitude), nil
	case 'w':
		return now.AddDate(0, 0, magnitude*7), nil
	case 'm':
		return now.AddDate(0, magnitude, 0), nil
	case 'y':
		return now.AddDate(magnitude, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown relative date unit %q", unit)
	}
}

var absoluteDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseAbsoluteDate(s string) (time.Time, error) {
	for _, layout := range absoluteDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

// parsePropertyDate parses the subject-side value: an integer/float
// unix-seconds timestamp, or a string absolute date.
func parsePropertyDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Unix(int64(n), 0).UTC(), nil
		}
		return parseAbsoluteDate(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported property date type %T", value)
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
