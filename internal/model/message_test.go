package model

import (
	"testing"
	"time"
)

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	original := Message{
		Kind:             KindCapture,
		EventName:        "signed_up",
		SubjectID:        "user-1",
		TimestampISO8601: "2026-01-01T00:00:00.000Z",
		MessageID:        NewMessageID(),
		Properties:       map[string]any{"plan": "pro"},
		UUID:             "",
	}

	encoded, err := original.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	var decoded Message
	if err := decoded.UnmarshalJSON(encoded); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}

	if decoded.Kind != original.Kind || decoded.EventName != original.EventName ||
		decoded.SubjectID != original.SubjectID || decoded.MessageID != original.MessageID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Properties["plan"] != "pro" {
		t.Errorf("expected property to survive round trip, got %v", decoded.Properties["plan"])
	}
}

func TestNewMessageIDIsValidUUIDv4(t *testing.T) {
	id := NewMessageID()
	if !IsValidUUIDv4(id) {
		t.Errorf("NewMessageID produced an invalid v4 UUID: %q", id)
	}
}

func TestIsValidUUIDv4RejectsGarbage(t *testing.T) {
	if IsValidUUIDv4("not-a-uuid") {
		t.Error("expected garbage string to be rejected")
	}
	if IsValidUUIDv4("") {
		t.Error("expected empty string to be rejected")
	}
}

func TestNowISO8601Format(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	got := NowISO8601(ts)
	want := "2026-03-04T05:06:07.008Z"
	if got != want {
		t.Errorf("NowISO8601() = %q, want %q", got, want)
	}
}
