// Package normalizer validates and normalizes public-API inputs into typed
// Messages (spec §4.1).
package normalizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/posthog/posthog-go-core/internal/exception"
	"github.com/posthog/posthog-go-core/internal/model"
)

// ValidationError is returned when a required field is missing or empty.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return validationError("%s must be given", field)
	}
	return nil
}

// Normalizer builds immutable Messages from caller-supplied arguments,
// injecting library metadata and stamping messageId/timestamp.
type Normalizer struct {
	now func() time.Time
}

// New returns a Normalizer that stamps messages with the real wall clock.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

func (n *Normalizer) stamp() (id, ts string) {
	return model.NewMessageID(), model.NowISO8601(n.now())
}

func baseProperties(extra map[string]any) map[string]any {
	props := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		props[k] = v
	}
	props["$lib"] = model.LibName
	props["$lib_version"] = model.LibVersion
	return props
}

// CaptureInput holds the arguments to Capture.
type CaptureInput struct {
	SubjectID      string
	EventName      string
	Properties     map[string]any
	Groups         map[string]string
	FeatureVariants map[string]any
	UUID           string
}

// Capture builds a capture Message.
func (n *Normalizer) Capture(in CaptureInput) (model.Message, error) {
	if err := requireNonEmpty("distinct_id", in.SubjectID); err != nil {
		return model.Message{}, err
	}
	if err := requireNonEmpty("event", in.EventName); err != nil {
		return model.Message{}, err
	}

	props := baseProperties(in.Properties)

	if len(in.Groups) > 0 {
		props["$groups"] = in.Groups
	}

	if len(in.FeatureVariants) > 0 {
		active := make([]string, 0, len(in.FeatureVariants))
		for key, value := range in.FeatureVariants {
			props["$feature/"+key] = value
			if b, ok := value.(bool); !ok || b {
				active = append(active, key)
			}
		}
		props["$active_feature_flags"] = active
	}

	id, ts := n.stamp()
	return model.Message{
		Kind:             model.KindCapture,
		EventName:        in.EventName,
		SubjectID:        in.SubjectID,
		TimestampISO8601: ts,
		MessageID:        id,
		Properties:       props,
		UUID:             normalizedUUID(in.UUID),
	}, nil
}

// IdentifyInput holds the arguments to Identify.
type IdentifyInput struct {
	SubjectID  string
	Properties map[string]any
	UUID       string
}

// Identify builds an identify Message: the caller's properties move into
// SetProperties ($set); the injected base properties remain in Properties.
func (n *Normalizer) Identify(in IdentifyInput) (model.Message, error) {
	if err := requireNonEmpty("distinct_id", in.SubjectID); err != nil {
		return model.Message{}, err
	}

	id, ts := n.stamp()
	return model.Message{
		Kind:             model.KindIdentify,
		EventName:        "$identify",
		SubjectID:        in.SubjectID,
		TimestampISO8601: ts,
		MessageID:        id,
		Properties:       baseProperties(nil),
		SetProperties:    in.Properties,
		UUID:             normalizedUUID(in.UUID),
	}, nil
}

// AliasInput holds the arguments to Alias.
type AliasInput struct {
	SubjectID string
	AliasID   string
	UUID      string
}

// Alias builds an alias Message.
func (n *Normalizer) Alias(in AliasInput) (model.Message, error) {
	if err := requireNonEmpty("distinct_id", in.SubjectID); err != nil {
		return model.Message{}, err
	}
	if err := requireNonEmpty("alias", in.AliasID); err != nil {
		return model.Message{}, err
	}

	props := baseProperties(nil)
	props["distinct_id"] = in.SubjectID
	props["alias"] = in.AliasID

	id, ts := n.stamp()
	return model.Message{
		Kind:             model.KindAlias,
		EventName:        "$create_alias",
		SubjectID:        in.SubjectID,
		TimestampISO8601: ts,
		MessageID:        id,
		Properties:       props,
		UUID:             normalizedUUID(in.UUID),
	}, nil
}

// GroupIdentifyInput holds the arguments to GroupIdentify.
type GroupIdentifyInput struct {
	SubjectID  string // optional; synthesized from group type/key if empty
	GroupType  string
	GroupKey   string
	Properties map[string]any
	UUID       string
}

// GroupIdentify builds a groupIdentify Message.
func (n *Normalizer) GroupIdentify(in GroupIdentifyInput) (model.Message, error) {
	if err := requireNonEmpty("group_type", in.GroupType); err != nil {
		return model.Message{}, err
	}
	if err := requireNonEmpty("group_key", in.GroupKey); err != nil {
		return model.Message{}, err
	}

	subjectID := in.SubjectID
	if subjectID == "" {
		subjectID = fmt.Sprintf("$%s_%s", in.GroupType, in.GroupKey)
	}

	props := baseProperties(nil)
	props["$group_type"] = in.GroupType
	props["$group_key"] = in.GroupKey
	props["$group_set"] = in.Properties

	id, ts := n.stamp()
	return model.Message{
		Kind:             model.KindGroupIdentify,
		EventName:        "$groupidentify",
		SubjectID:        subjectID,
		TimestampISO8601: ts,
		MessageID:        id,
		Properties:       props,
		UUID:             normalizedUUID(in.UUID),
	}, nil
}

// ExceptionInput holds the arguments to Exception.
type ExceptionInput struct {
	SubjectID string
	Err       error  // native throwable; mutually exclusive with Message
	Message   string // synthetic capture
	Handled   bool
	UUID      string
}

// Exception builds an exception Message, delegating property contents to
// the ExceptionSerializer.
func (n *Normalizer) Exception(in ExceptionInput) (model.Message, error) {
	if err := requireNonEmpty("distinct_id", in.SubjectID); err != nil {
		return model.Message{}, err
	}
	if in.Err == nil && in.Message == "" {
		return model.Message{}, validationError("exception or message must be given")
	}

	var serialized map[string]any
	if in.Err != nil {
		serialized = exception.Serialize(in.Err, in.Handled)
	} else {
		serialized = exception.SerializeSynthetic(in.Message, in.Handled)
	}

	props := baseProperties(serialized)

	id, ts := n.stamp()
	return model.Message{
		Kind:             model.KindException,
		EventName:        "$exception",
		SubjectID:        in.SubjectID,
		TimestampISO8601: ts,
		MessageID:        id,
		Properties:       props,
		UUID:             normalizedUUID(in.UUID),
	}, nil
}

func normalizedUUID(candidate string) string {
	if candidate != "" && model.IsValidUUIDv4(candidate) {
		return candidate
	}
	return ""
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
