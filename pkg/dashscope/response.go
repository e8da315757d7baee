package dashscope

import (
	"encoding/json"
	"net/http"
)

/*
APIResponse is the envelope every DashScope HTTP answer is decoded into,
whether it arrived as a single JSON body or as one chunk of an SSE stream.

Field semantics:
  - RequestID: service-assigned id, also present on error bodies
  - StatusCode: HTTP status of the response (or of the failed stream chunk)
  - Code, Message: populated on errors only
  - Output: API-specific result payload, left raw for the typed sub-packages
  - Usage: API-specific token/metering payload, left raw likewise
*/
type APIResponse struct {
	RequestID  string          `json:"request_id,omitempty"`
	StatusCode int             `json:"-"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Usage      json.RawMessage `json:"usage,omitempty"`
}

// OK reports whether the envelope carries a successful answer.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Err converts a failed envelope into an *APIError. It returns nil when the
// envelope is successful, so it can be chained directly after a call.
func (r *APIResponse) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{
		StatusCode: r.StatusCode,
		Code:       r.Code,
		Message:    r.Message,
		RequestID:  r.RequestID,
	}
}

// ToJSON returns a JSON encoding of the envelope.
func (r *APIResponse) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// decodeEnvelope parses a raw JSON body into an APIResponse with the given
// HTTP status. Bodies that only carry a top-level task_id (legacy async
// submissions) are normalized into output.task_id.
func decodeEnvelope(statusCode int, body []byte) (*APIResponse, error) {
	var raw struct {
		APIResponse
		TaskID string `json:"task_id,omitempty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	rsp := raw.APIResponse
	rsp.StatusCode = statusCode
	if len(rsp.Output) == 0 && raw.TaskID != "" {
		out, _ := json.Marshal(map[string]string{"task_id": raw.TaskID})
		rsp.Output = out
	}
	return &rsp, nil
}
