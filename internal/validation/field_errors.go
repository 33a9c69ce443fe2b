package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// FieldError is a single field → message pair.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors is an ordered field → message map. Order matters: the first
// entry is the one surfaced as the headline error, so it survives JSON
// encoding and decoding (encoded as an object in insertion order).
type FieldErrors []FieldError

// Set adds or replaces the message for field, keeping its first position.
func (fe *FieldErrors) Set(field, msg string) {
	for i := range *fe {
		if (*fe)[i].Field == field {
			(*fe)[i].Message = msg
			return
		}
	}
	*fe = append(*fe, FieldError{Field: field, Message: msg})
}

// Get returns the message for field.
func (fe FieldErrors) Get(field string) (string, bool) {
	for _, e := range fe {
		if e.Field == field {
			return e.Message, true
		}
	}
	return "", false
}

// First returns the first message, or "".
func (fe FieldErrors) First() string {
	if len(fe) == 0 {
		return ""
	}
	return fe[0].Message
}

// Fields returns field names in order.
func (fe FieldErrors) Fields() []string {
	out := make([]string, len(fe))
	for i, e := range fe {
		out[i] = e.Field
	}
	return out
}

// Map returns an unordered copy.
func (fe FieldErrors) Map() map[string]string {
	m := make(map[string]string, len(fe))
	for _, e := range fe {
		m[e.Field] = e.Message
	}
	return m
}

// MarshalJSON encodes the errors as a JSON object preserving order.
func (fe FieldErrors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range fe {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, e.Field); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, e.Message); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order. Non-string
// values are kept in their JSON text form.
func (fe *FieldErrors) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("validation: field errors must be a JSON object")
	}
	out := FieldErrors{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			msg = string(raw)
		}
		out.Set(key, msg)
	}
	*fe = out
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("validation: encode %q: %w", s, err)
	}
	// Encoder appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
