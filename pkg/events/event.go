package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxTitleLen and MinTitleLen bound Event.Title per spec §3.
	MaxTitleLen = 200
	MinTitleLen = 1
	// MaxDescriptionLen and MinDescriptionLen bound Event.Description.
	MaxDescriptionLen = 2000
	MinDescriptionLen = 1
	// MaxTaskIDLen bounds a free-form (non-UUID) TaskID.
	MaxTaskIDLen = 64
	// MaxDataBytes is the serialized ceiling for Data before rejection.
	MaxDataBytes = 64 * 1024
	// CompressionRecommendedBytes is the Data size at which compression is
	// recommended to downstream writers (not enforced here).
	CompressionRecommendedBytes = 16 * 1024
	// MaxSerializedBytes is the absolute ceiling for one canonical event.
	MaxSerializedBytes = 1024 * 1024
)

// Event is a unit of work produced by the assistant and carried through the
// ingestion/dedup/delivery pipeline (spec §3). The `validate` tags mirror
// MinTitleLen/MaxTitleLen etc. above (struct tags must be literals) and are
// enforced by pkg/validation via go-playground/validator/v10; business
// rules and cross-field checks stay hand-written on top.
type Event struct {
	EventID       string                 `json:"event_id" validate:"required,uuid4"`
	Type          Type                   `json:"type"`
	Source        string                 `json:"source,omitempty"`
	Timestamp     time.Time              `json:"timestamp" validate:"required"`
	Title         string                 `json:"title" validate:"required,min=1,max=200"`
	Description   string                 `json:"description" validate:"required,min=1,max=2000"`
	TaskID        string                 `json:"task_id,omitempty" validate:"omitempty,max=64"`
	CorrelationID string                 `json:"correlation_id,omitempty" validate:"omitempty,uuid4"`
	Data          map[string]interface{} `json:"data,omitempty"`

	// Derived fields, computed by the integrity validator (C1) and not
	// trusted from the wire — always recomputed on ingress.
	ContentHash       string `json:"content_hash,omitempty"`
	ContentSizeBytes  int    `json:"content_size_bytes,omitempty"`
}

// NewEventID returns a fresh UUID v4 suitable for EventID or CorrelationID.
func NewEventID() string { return uuid.NewString() }

// Canonical serializes the event as snake_case JSON with null/empty derived
// fields omitted and keys in stable (alphabetical) order, per spec §4.1. The
// ContentHash/ContentSizeBytes fields are always excluded — they are derived
// FROM the canonical bytes, not part of them.
func (e Event) Canonical() ([]byte, error) {
	m := map[string]interface{}{
		"event_id":  e.EventID,
		"type":      string(e.Type),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		"title":     e.Title,
		"description": e.Description,
	}
	if e.Source != "" {
		m["source"] = e.Source
	}
	if e.TaskID != "" {
		m["task_id"] = e.TaskID
	}
	if e.CorrelationID != "" {
		m["correlation_id"] = e.CorrelationID
	}
	if len(e.Data) > 0 {
		m["data"] = e.Data
	}
	return canonicalJSON(m)
}

// canonicalJSON renders m with keys sorted and no HTML escaping, giving a
// stable byte representation across runs for a fixed logical value.
func canonicalJSON(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(bytes.TrimRight(valBytes, "\n"))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v interface{}) ([]byte, error) {
	if nested, ok := v.(map[string]interface{}); ok {
		return canonicalJSON(nested)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeContentHash returns the lowercase-hex SHA-256 of the event's
// canonical serialization.
func (e Event) ComputeContentHash() (string, []byte, error) {
	canonical, err := e.Canonical()
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}

// ShortHash renders the first 8 hex characters of a full hash, for logging
// per spec §4.1 ("never the content").
func ShortHash(fullHash string) string {
	if len(fullHash) <= 8 {
		return fullHash
	}
	return fullHash[:8]
}

// Stamp computes and fills ContentHash/ContentSizeBytes from the event's
// current field values.
func (e *Event) Stamp() error {
	hash, canonical, err := e.ComputeContentHash()
	if err != nil {
		return err
	}
	e.ContentHash = hash
	e.ContentSizeBytes = len(canonical)
	return nil
}
