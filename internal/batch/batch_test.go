package batch

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/posthog/posthog-go-core/internal/model"
)

func sampleMessage(subjectID string) model.Message {
	return model.Message{
		Kind:             model.KindCapture,
		EventName:        "event",
		SubjectID:        subjectID,
		TimestampISO8601: "2026-01-01T00:00:00.000Z",
		MessageID:        "11111111-1111-4111-8111-111111111111",
		Properties:       map[string]any{"$lib": "posthog-go-core"},
	}
}

func TestAddWithinLimits(t *testing.T) {
	b := New(DefaultMaxCount, DefaultMaxBytes)
	outcome, err := b.Add(sampleMessage("user-1"))
	if err != nil || outcome != Added {
		t.Fatalf("expected Added, got outcome=%v err=%v", outcome, err)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

func TestAddRespectsCountLimit(t *testing.T) {
	b := New(2, DefaultMaxBytes)
	for i := 0; i < 2; i++ {
		if outcome, err := b.Add(sampleMessage("user")); err != nil || outcome != Added {
			t.Fatalf("message %d: expected Added, got outcome=%v err=%v", i, outcome, err)
		}
	}
	if !b.Full() {
		t.Fatal("expected batch to report Full at count limit")
	}
	outcome, err := b.Add(sampleMessage("user"))
	if err != nil || outcome != BatchFull {
		t.Fatalf("expected BatchFull beyond count limit, got outcome=%v err=%v", outcome, err)
	}
}

func TestAddRespectsByteLimit(t *testing.T) {
	msg := sampleMessage("user-1")
	encoded, err := encodeForTest(msg)
	if err != nil {
		t.Fatal(err)
	}
	// Size the batch so exactly one message fits alongside the array brackets.
	maxBytes := arrayBracketsBytes + len(encoded)
	b := New(DefaultMaxCount, maxBytes)

	if outcome, _ := b.Add(msg); outcome != Added {
		t.Fatalf("first message should fit, got %v", outcome)
	}
	if outcome, _ := b.Add(msg); outcome != BatchFull {
		t.Fatalf("second message should overflow the byte budget, got %v", outcome)
	}
}

func TestAddMessageTooLarge(t *testing.T) {
	msg := sampleMessage("user-1")
	msg.Properties["blob"] = strings.Repeat("x", MaxMessageBytes)

	b := New(DefaultMaxCount, DefaultMaxBytes)
	outcome, err := b.Add(msg)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if outcome != MessageTooLarge {
		t.Fatalf("expected MessageTooLarge, got %v", outcome)
	}
	if b.Len() != 0 {
		t.Error("an oversized message must not be appended")
	}
}

func TestEncodeEnvelopeShape(t *testing.T) {
	b := New(DefaultMaxCount, DefaultMaxBytes)
	if _, err := b.Add(sampleMessage("user-1")); err != nil {
		t.Fatal(err)
	}

	encoded, err := b.Encode("my-api-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(encoded)
	if !strings.Contains(s, `"api_key":"my-api-key"`) {
		t.Errorf("expected api_key in envelope, got %s", s)
	}
	if !strings.Contains(s, `"batch":[`) {
		t.Errorf("expected batch array in envelope, got %s", s)
	}
}

func TestResetClearsBatch(t *testing.T) {
	b := New(DefaultMaxCount, DefaultMaxBytes)
	if _, err := b.Add(sampleMessage("user-1")); err != nil {
		t.Fatal(err)
	}
	b.Reset()
	if !b.Empty() {
		t.Error("expected batch to be empty after Reset")
	}

	// A fresh Add after Reset should behave exactly as on a new Batch (byte
	// accounting must have been reset too, not just the message slice).
	outcome, err := b.Add(sampleMessage("user-1"))
	if err != nil || outcome != Added {
		t.Fatalf("expected Added after Reset, got outcome=%v err=%v", outcome, err)
	}
}

func encodeForTest(msg model.Message) ([]byte, error) {
	return json.Marshal(msg)
}
