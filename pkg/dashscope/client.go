package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxErrorBodyBytes caps how much of a failed response body is read back.
const maxErrorBodyBytes = 1 << 20

// Client issues requests against the DashScope HTTP API. It is cheap to copy
// and safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(config Config) Client {
	hc := config.httpClient
	if hc == nil {
		// NOTE: http.Client.Timeout covers the whole request lifetime
		// (including reading resp.Body). Streaming requests rely on context
		// cancellation instead, so Timeout is left to 0 and synchronous
		// calls get a per-request deadline.
		hc = &http.Client{Timeout: 0}
	}
	return Client{
		config:     config,
		httpClient: hc,
	}
}

func (c Client) Config() Config { return c.config }

// Call posts a model payload to the given API path (e.g.
// "/services/aigc/text-generation/generation") and decodes the answer into
// the response envelope. HTTP failures come back as *APIError.
func (c Client) Call(ctx context.Context, path string, p Payload, opts ...RequestOption) (*APIResponse, error) {
	rc := c.resolve(http.MethodPost, opts)
	return c.post(ctx, path, p, rc)
}

// AsyncCall submits a model payload as an asynchronous task
// (X-DashScope-Async: enable). The returned envelope carries output.task_id
// and output.task_status instead of a result.
func (c Client) AsyncCall(ctx context.Context, path string, p Payload, opts ...RequestOption) (*APIResponse, error) {
	rc := c.resolve(http.MethodPost, opts)
	rc.async = true
	return c.post(ctx, path, p, rc)
}

// Stream posts a model payload with SSE enabled and returns a Streamer that
// yields one envelope per event. Callers must Close the Streamer.
func (c Client) Stream(ctx context.Context, path string, p Payload, opts ...RequestOption) (*Streamer, error) {
	if err := c.ensureConfig(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rc := c.resolve(http.MethodPost, opts)
	rc.stream = true

	body, err := marshalPayload(p)
	if err != nil {
		return nil, fmt.Errorf("dashscope: marshal request: %w", err)
	}
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	c.config.logger.Debug().Str("url", endpoint).RawJSON("body", body).Msg("stream request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dashscope: create request: %w", err)
	}
	req.Header = c.buildHeaders(rc)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashscope: http request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.failure(resp)
	}
	return newStreamer(resp, c.config.logger), nil
}

func (c Client) post(ctx context.Context, path string, p Payload, rc requestConfig) (*APIResponse, error) {
	if err := c.ensureConfig(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := marshalPayload(p)
	if err != nil {
		return nil, fmt.Errorf("dashscope: marshal request: %w", err)
	}
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	c.config.logger.Debug().Str("url", endpoint).RawJSON("body", body).Msg("request")

	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), rc)
}

// get issues a GET request against an absolute endpoint (task queries).
func (c Client) get(ctx context.Context, endpoint string, rc requestConfig) (*APIResponse, error) {
	if err := c.ensureConfig(); err != nil {
		return nil, err
	}
	if len(rc.params) > 0 {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("dashscope: invalid endpoint: %w", err)
		}
		q := u.Query()
		for k, v := range rc.params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, rc)
}

func (c Client) do(ctx context.Context, method, endpoint string, body io.Reader, rc requestConfig) (*APIResponse, error) {
	if c.config.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.timeout)
		defer cancel()
	}
	rc.method = method

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("dashscope: create request: %w", err)
	}
	req.Header = c.buildHeaders(rc)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashscope: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.failure(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dashscope: read response: %w", err)
	}
	c.config.logger.Debug().Int("status", resp.StatusCode).RawJSON("body", raw).Msg("response")

	rsp, err := decodeEnvelope(resp.StatusCode, raw)
	if err != nil {
		return nil, fmt.Errorf("dashscope: decode response: %w", err)
	}
	return rsp, nil
}

// failure maps a non-2xx answer to an *APIError, decoding the structured
// error body (code/message/request_id) when the service provided one.
func (c Client) failure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Raw:        raw,
	}
	var body struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.RequestID = body.RequestID
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	c.config.logger.Debug().Int("status", resp.StatusCode).Str("code", apiErr.Code).Msg(apiErr.Message)
	return apiErr
}

func (c Client) resolve(method string, opts []RequestOption) requestConfig {
	rc := requestConfig{method: method}
	for _, opt := range opts {
		if opt != nil {
			opt(&rc)
		}
	}
	return rc
}

func (c Client) endpoint(path string) (string, error) {
	base := strings.TrimSpace(c.config.baseURL)
	if base == "" {
		return "", fmt.Errorf("dashscope: missing base URL (%s)", EnvBaseURL)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("dashscope: invalid base URL: %w", err)
	}
	return u.JoinPath(strings.TrimPrefix(path, "/")).String(), nil
}

func (c Client) ensureConfig() error {
	if strings.TrimSpace(c.config.apiKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// marshalPayload encodes the payload, folding Extra fields into the top
// level without letting them override the core fields.
func marshalPayload(p Payload) ([]byte, error) {
	if len(p.Extra) == 0 {
		return json.Marshal(p)
	}
	m := map[string]any{"model": p.Model}
	if p.Input != nil {
		m["input"] = p.Input
	}
	if p.Parameters != nil {
		m["parameters"] = p.Parameters
	}
	if p.Resources != nil {
		m["resources"] = p.Resources
	}
	if p.Task != "" {
		m["task"] = p.Task
	}
	for k, v := range p.Extra {
		if _, taken := m[k]; taken {
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}
