package normalizer

import (
	"testing"
	"time"

	"github.com/posthog/posthog-go-core/internal/model"
)

func fixedNormalizer(t time.Time) *Normalizer {
	return &Normalizer{now: func() time.Time { return t }}
}

func TestCaptureHappyPath(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	msg, err := n.Capture(CaptureInput{
		SubjectID:  "user-1",
		EventName:  "signed_up",
		Properties: map[string]any{"plan": "pro"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != model.KindCapture || msg.SubjectID != "user-1" || msg.EventName != "signed_up" {
		t.Fatalf("unexpected message shape: %+v", msg)
	}
	if msg.Properties["plan"] != "pro" {
		t.Errorf("expected caller property to survive, got %v", msg.Properties["plan"])
	}
	if msg.Properties["$lib"] != model.LibName || msg.Properties["$lib_version"] != model.LibVersion {
		t.Errorf("expected $lib/$lib_version injection, got %+v", msg.Properties)
	}
	if msg.MessageID == "" || msg.TimestampISO8601 == "" {
		t.Error("expected messageId and timestamp to be stamped")
	}
}

func TestCaptureValidation(t *testing.T) {
	n := New()

	if _, err := n.Capture(CaptureInput{EventName: "x"}); !IsValidationError(err) {
		t.Errorf("expected ValidationError for missing distinct_id, got %v", err)
	}
	if _, err := n.Capture(CaptureInput{SubjectID: "user-1"}); !IsValidationError(err) {
		t.Errorf("expected ValidationError for missing event, got %v", err)
	}
}

func TestCaptureInjectsGroupsAndFeatureVariants(t *testing.T) {
	n := New()
	msg, err := n.Capture(CaptureInput{
		SubjectID: "user-1",
		EventName: "checkout",
		Groups:    map[string]string{"organization": "org-1"},
		FeatureVariants: map[string]any{
			"new-checkout": "test",
			"disabled-one": false,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	groups, ok := msg.Properties["$groups"].(map[string]string)
	if !ok || groups["organization"] != "org-1" {
		t.Errorf("expected $groups injection, got %v", msg.Properties["$groups"])
	}
	if msg.Properties["$feature/new-checkout"] != "test" {
		t.Errorf("expected $feature/new-checkout, got %v", msg.Properties["$feature/new-checkout"])
	}
	active, ok := msg.Properties["$active_feature_flags"].([]string)
	if !ok {
		t.Fatalf("expected $active_feature_flags to be a []string, got %T", msg.Properties["$active_feature_flags"])
	}
	if len(active) != 1 || active[0] != "new-checkout" {
		t.Errorf("expected only the truthy variant in $active_feature_flags, got %v", active)
	}
}

func TestIdentifyMovesPropertiesIntoSet(t *testing.T) {
	n := New()
	msg, err := n.Identify(IdentifyInput{SubjectID: "user-1", Properties: map[string]any{"email": "a@b.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.EventName != "$identify" {
		t.Errorf("expected $identify event name, got %q", msg.EventName)
	}
	if msg.SetProperties["email"] != "a@b.com" {
		t.Errorf("expected email in SetProperties, got %+v", msg.SetProperties)
	}
	if _, ok := msg.Properties["email"]; ok {
		t.Error("caller properties must not leak into base Properties")
	}
}

func TestAliasValidation(t *testing.T) {
	n := New()
	if _, err := n.Alias(AliasInput{SubjectID: "user-1"}); !IsValidationError(err) {
		t.Errorf("expected ValidationError for missing alias, got %v", err)
	}

	msg, err := n.Alias(AliasInput{SubjectID: "user-1", AliasID: "user-1-old"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Properties["distinct_id"] != "user-1" || msg.Properties["alias"] != "user-1-old" {
		t.Errorf("unexpected alias properties: %+v", msg.Properties)
	}
}

func TestGroupIdentifySynthesizesSubjectID(t *testing.T) {
	n := New()
	msg, err := n.GroupIdentify(GroupIdentifyInput{GroupType: "organization", GroupKey: "org-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.SubjectID != "$organization_org-1" {
		t.Errorf("expected synthesized subject id, got %q", msg.SubjectID)
	}
	if msg.Properties["$group_type"] != "organization" || msg.Properties["$group_key"] != "org-1" {
		t.Errorf("unexpected group properties: %+v", msg.Properties)
	}
}

func TestGroupIdentifyValidation(t *testing.T) {
	n := New()
	if _, err := n.GroupIdentify(GroupIdentifyInput{GroupKey: "org-1"}); !IsValidationError(err) {
		t.Error("expected ValidationError for missing group_type")
	}
	if _, err := n.GroupIdentify(GroupIdentifyInput{GroupType: "organization"}); !IsValidationError(err) {
		t.Error("expected ValidationError for missing group_key")
	}
}

func TestExceptionRequiresErrOrMessage(t *testing.T) {
	n := New()
	_, err := n.Exception(ExceptionInput{SubjectID: "user-1"})
	if !IsValidationError(err) {
		t.Errorf("expected ValidationError when neither Err nor Message is given, got %v", err)
	}
}

func TestExceptionSyntheticCapture(t *testing.T) {
	n := New()
	msg, err := n.Exception(ExceptionInput{SubjectID: "user-1", Message: "out of cheese", Handled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.EventName != "$exception" {
		t.Errorf("expected $exception event name, got %q", msg.EventName)
	}
	if msg.Properties["$exception_message"] != "out of cheese" {
		t.Errorf("expected synthetic message to carry through, got %+v", msg.Properties)
	}
	list, ok := msg.Properties["$exception_list"].([]map[string]any)
	if !ok || len(list) != 1 {
		t.Fatalf("expected a single-entry $exception_list, got %+v", msg.Properties["$exception_list"])
	}
	mech, ok := list[0]["mechanism"].(map[string]any)
	if !ok {
		t.Fatalf("expected a mechanism map, got %T", list[0]["mechanism"])
	}
	if mech["synthetic"] != true {
		t.Error("expected mechanism.synthetic true for message-only capture")
	}
}

func TestNormalizedUUIDRejectsInvalid(t *testing.T) {
	n := New()
	msg, err := n.Capture(CaptureInput{SubjectID: "user-1", EventName: "x", UUID: "not-a-uuid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.UUID != "" {
		t.Errorf("expected invalid UUID to be dropped, got %q", msg.UUID)
	}
}

func TestNormalizedUUIDAcceptsValid(t *testing.T) {
	n := New()
	const validV4 = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	msg, err := n.Capture(CaptureInput{SubjectID: "user-1", EventName: "x", UUID: validV4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.UUID != validV4 {
		t.Errorf("expected valid UUID to survive, got %q", msg.UUID)
	}
}
