// Package model holds the wire and cache types shared across the ingestion
// pipeline and the feature-flag subsystem: Message, FlagDefinition,
// CohortDefinition, PropertyCondition, and FlagResult.
package model

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind identifies the shape of a Message.
type Kind string

const (
	KindCapture       Kind = "capture"
	KindIdentify      Kind = "identify"
	KindAlias         Kind = "alias"
	KindGroupIdentify Kind = "groupIdentify"
	KindException     Kind = "exception"
)

// LibName and LibVersion are injected into every Message's properties by the
// normalizer, identifying this library to the remote service.
const (
	LibName    = "posthog-go-core"
	LibVersion = "1.0.0"
)

// Message is the unit of delivery to the ingestion endpoint. Once returned by
// the normalizer, a Message is immutable: callers must not mutate its map
// fields in place.
type Message struct {
	Kind            Kind
	EventName       string
	SubjectID       string
	TimestampISO8601 string
	MessageID       string
	Properties      map[string]any
	SetProperties   map[string]any
	UUID            string // empty if absent/invalid
}

// wireMessage is the JSON shape accepted by the /batch endpoint.
type wireMessage struct {
	Type           string         `json:"type"`
	Event          string         `json:"event,omitempty"`
	DistinctID     string         `json:"distinct_id"`
	Timestamp      string         `json:"timestamp"`
	MessageID      string         `json:"messageId"`
	Properties     map[string]any `json:"properties"`
	Set            map[string]any `json:"$set,omitempty"`
	Library        string         `json:"library"`
	LibraryVersion string         `json:"library_version"`
	UUID           string         `json:"uuid,omitempty"`
}

// MarshalJSON encodes a Message into the wire shape documented in spec §6.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:           string(m.Kind),
		Event:          m.EventName,
		DistinctID:     m.SubjectID,
		Timestamp:      m.TimestampISO8601,
		MessageID:      m.MessageID,
		Properties:     m.Properties,
		Set:            m.SetProperties,
		Library:        LibName,
		LibraryVersion: LibVersion,
		UUID:           m.UUID,
	})
}

// UnmarshalJSON decodes a Message from the wire shape. Used by tests asserting
// the round-trip invariant (spec §8 property 7).
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Kind = Kind(w.Type)
	m.EventName = w.Event
	m.SubjectID = w.DistinctID
	m.TimestampISO8601 = w.Timestamp
	m.MessageID = w.MessageID
	m.Properties = w.Properties
	m.SetProperties = w.Set
	m.UUID = w.UUID
	return nil
}

// NewMessageID returns a fresh RFC-4122 v4 UUID string for MessageID.
func NewMessageID() string {
	return uuid.New().String()
}

// NowISO8601 formats t as UTC with millisecond precision and a trailing Z,
// matching spec §3 invariant (b).
func NowISO8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// IsValidUUIDv4 reports whether s is a syntactically valid UUID v4 string.
func IsValidUUIDv4(s string) bool {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return parsed.Version() == 4
}
