// Package batch accumulates normalized messages into size- and
// count-bounded wire batches (spec §4.3).
package batch

import (
	json "github.com/goccy/go-json"

	"github.com/posthog/posthog-go-core/internal/model"
)

// Outcome reports the result of an Add call.
type Outcome int

const (
	// Added means msg fit and was appended.
	Added Outcome = iota
	// BatchFull means msg would have pushed the batch over a count or byte
	// limit; the batch is unchanged and the caller should flush first.
	BatchFull
	// MessageTooLarge means msg alone exceeds MaxMessageBytes and can never
	// fit in any batch; the caller should drop it.
	MessageTooLarge
)

const (
	DefaultMaxCount = 100
	// DefaultMaxBytes is the encoded-batch byte ceiling (spec §3).
	DefaultMaxBytes = 500_000
	// MaxMessageBytes is the single-message byte ceiling (spec §3).
	MaxMessageBytes = 32_768
	// arrayBracketsBytes accounts for the surrounding "[" and "]" of the
	// batch array in the running byte total (spec §4.3).
	arrayBracketsBytes = 2
)

// Batch accumulates messages and knows how to encode itself onto the wire.
type Batch struct {
	maxCount int
	maxBytes int

	messages  []model.Message
	sizeBytes int
}

// New returns an empty Batch bounded by maxCount messages and maxBytes of
// encoded batch-array payload.
func New(maxCount, maxBytes int) *Batch {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	b := &Batch{maxCount: maxCount, maxBytes: maxBytes}
	b.sizeBytes = arrayBracketsBytes
	return b
}

// Add attempts to append msg to the batch.
func (b *Batch) Add(msg model.Message) (Outcome, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return MessageTooLarge, err
	}

	if len(encoded) > MaxMessageBytes {
		return MessageTooLarge, nil
	}

	separator := 0
	if len(b.messages) > 0 {
		separator = 1
	}

	if len(b.messages) >= b.maxCount || b.sizeBytes+separator+len(encoded) > b.maxBytes {
		return BatchFull, nil
	}

	b.messages = append(b.messages, msg)
	b.sizeBytes += separator + len(encoded)
	return Added, nil
}

// Len returns the number of messages currently accumulated.
func (b *Batch) Len() int {
	return len(b.messages)
}

// Full reports whether the batch has reached its count limit.
func (b *Batch) Full() bool {
	return len(b.messages) >= b.maxCount
}

// Empty reports whether the batch holds no messages.
func (b *Batch) Empty() bool {
	return len(b.messages) == 0
}

// Messages returns the accumulated messages, in insertion order.
func (b *Batch) Messages() []model.Message {
	return b.messages
}

// wireEnvelope is the {"api_key":...,"batch":[...]} shape posted to /batch.
type wireEnvelope struct {
	APIKey string          `json:"api_key"`
	Batch  []model.Message `json:"batch"`
}

// Encode marshals the batch's envelope for transmission. The caller must not
// call Encode on an empty batch (spec invariant (d)).
func (b *Batch) Encode(apiKey string) ([]byte, error) {
	return json.Marshal(wireEnvelope{APIKey: apiKey, Batch: b.messages})
}

// Reset empties the batch so it can be reused for the next cycle.
func (b *Batch) Reset() {
	b.messages = b.messages[:0]
	b.sizeBytes = arrayBracketsBytes
}
