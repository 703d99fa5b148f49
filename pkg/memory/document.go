package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Annotation fields written by the tiered store into every stored copy.
const (
	FieldID        = "id"
	FieldKey       = "memory_key"
	FieldLayer     = "memory_layer"
	FieldStoredAt  = "stored_at"
	FieldUpdatedAt = "updated_at"
	FieldScore     = "score"
	FieldContent   = "content"
	FieldText      = "text"
)

// Document is the structured content a layer persists.
type Document map[string]any

// Item is the typed view of a stored document.
type Item struct {
	Key      string        `json:"key"`
	Content  Document      `json:"content"`
	StoredAt time.Time     `json:"stored_at"`
	Layer    string        `json:"layer"`
	TTL      time.Duration `json:"ttl,omitempty"`
}

// ItemFromDocument extracts the annotation fields of an annotated document.
func ItemFromDocument(doc Document) Item {
	item := Item{
		Key:     doc.String(FieldKey),
		Layer:   doc.String(FieldLayer),
		Content: doc,
	}
	if ts := doc.String(FieldStoredAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			item.StoredAt = t
		}
	}
	return item
}

// Identity returns the de-duplication identity of a document: its "id"
// field, falling back to "memory_key". The second return is false when
// neither is present.
func (d Document) Identity() (string, bool) {
	for _, field := range []string{FieldID, FieldKey} {
		v, ok := d[field]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// String returns a field rendered as a string, or "" when absent.
func (d Document) String(field string) string {
	v, ok := d[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns a numeric field as float64.
func (d Document) Float(field string) (float64, bool) {
	switch v := d[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Clone returns a deep copy of the document so copies written to different
// layers never share nested maps or slices.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge writes every field of partial into a clone of d.
func (d Document) Merge(partial Document) Document {
	out := d.Clone()
	if out == nil {
		out = make(Document, len(partial))
	}
	for k, v := range partial {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Marshal encodes a document as JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDocument decodes JSON produced by Marshal.
func UnmarshalDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
