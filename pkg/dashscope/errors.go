package dashscope

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned when no API key is configured and
	// DASHSCOPE_API_KEY is unset.
	ErrMissingAPIKey = errors.New("dashscope: missing DASHSCOPE_API_KEY")

	// ErrMissingModel is returned when a request omits the model name.
	ErrMissingModel = errors.New("dashscope: model is required")

	// ErrInputRequired is returned when a request omits its primary input
	// (prompt, messages or text, depending on the API).
	ErrInputRequired = errors.New("dashscope: input is required")

	// ErrMissingTaskID is returned when a task operation is called without
	// a task id.
	ErrMissingTaskID = errors.New("dashscope: task id is required")
)

// APIError is the structured error surfaced when the service answers with a
// non-2xx status, a failed stream chunk, or a FAILED task. Its fields mirror
// the response envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Raw        []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dashscope: http %d: %s: %s (request_id=%s)", e.StatusCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("dashscope: http %d: %s (request_id=%s)", e.StatusCode, e.Message, e.RequestID)
}
