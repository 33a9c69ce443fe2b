package client

import (
	"bytes"
	"encoding/json"

	"github.com/tbourn/go-callback-backend/internal/validation"
)

// Result is the normalized server reply.
type Result struct {
	// Success defaults to true when the server omits the field.
	Success    bool
	Message    string
	Errors     validation.FieldErrors
	Code       string
	RequestID  string
	Processing bool
	// Raw is the decoded payload as received.
	Raw map[string]any
}

// parsePayload decodes body. An empty body is an empty object; an
// unparseable one becomes a synthetic PARSE_ERROR payload.
func parsePayload(body []byte) (map[string]any, validation.FieldErrors) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return map[string]any{
			"success": false,
			"code":    CodeParseError,
			"message": msgBadReply,
		}, nil
	}

	// Field errors are decoded a second time to keep the server's order.
	var ordered struct {
		Errors json.RawMessage `json:"errors"`
	}
	var fe validation.FieldErrors
	if err := json.Unmarshal(body, &ordered); err == nil && len(ordered.Errors) > 0 && ordered.Errors[0] == '{' {
		_ = json.Unmarshal(ordered.Errors, &fe)
	}
	return payload, fe
}

// normalize maps a payload onto Result.
func normalize(payload map[string]any, fe validation.FieldErrors) *Result {
	r := &Result{Success: true, Raw: payload, Errors: fe}
	if v, ok := payload["success"]; ok {
		r.Success = truthy(v)
	}
	r.Message, _ = payload["message"].(string)
	r.Code, _ = payload["code"].(string)
	r.RequestID, _ = payload["request_id"].(string)
	r.Processing, _ = payload["processing"].(bool)
	if r.Errors == nil {
		r.Errors = validation.FieldErrors{}
	}
	return r
}

// truthy follows loose boolean conversion: false, null, 0 and "" are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}
