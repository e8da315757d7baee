package dashscope

import (
	"net/http"
	"strings"
)

// Payload is the request body shared by every DashScope model API:
// {"model": ..., "input": {...}, "parameters": {...}}.
type Payload struct {
	Model      string         `json:"model"`
	Input      any            `json:"input,omitempty"`
	Parameters any            `json:"parameters,omitempty"`
	Resources  any            `json:"resources,omitempty"`
	Task       string         `json:"task,omitempty"`
	Extra      map[string]any `json:"-"`
}

// Validate checks the invariants shared by all model APIs.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return ErrMissingModel
	}
	if p.Input == nil {
		return ErrInputRequired
	}
	return nil
}

// requestConfig is the resolved per-request state built from RequestOptions.
type requestConfig struct {
	method     string
	stream     bool
	async      bool
	query      bool
	ossResolve bool
	headers    http.Header
	params     map[string]string // URL query parameters (GET)
}

// RequestOption customizes a single call.
type RequestOption func(*requestConfig)

// WithHeader adds one request header, overriding any default of the same name.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.headers == nil {
			rc.headers = make(http.Header)
		}
		rc.headers.Set(key, value)
	}
}

// WithHeaders merges a header set into the request.
func WithHeaders(h http.Header) RequestOption {
	return func(rc *requestConfig) {
		if rc.headers == nil {
			rc.headers = make(http.Header)
		}
		for k, vs := range h {
			for _, v := range vs {
				rc.headers.Add(k, v)
			}
		}
	}
}

// WithOSSResolve asks the service to resolve oss:// resource references in
// the request input (set after uploading local media).
func WithOSSResolve() RequestOption {
	return func(rc *requestConfig) { rc.ossResolve = true }
}
