// Package generation binds the DashScope text-generation API (the qwen model
// family), with synchronous calls and SSE streaming.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

// Path is the text-generation endpoint, relative to the API base URL.
const Path = "/services/aigc/text-generation/generation"

// Model identifiers for the qwen text family.
const (
	ModelQwenTurbo = "qwen-turbo"
	ModelQwenPlus  = "qwen-plus"
	ModelQwenMax   = "qwen-max"
	ModelQwenLong  = "qwen-long"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Result formats for Parameters.ResultFormat.
const (
	ResultFormatText    = "text"
	ResultFormatMessage = "message"
)

type Message struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	Name             string     `json:"name,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a (possibly partial) function invocation emitted by the model.
// In incremental streams, Name and Arguments arrive in fragments keyed by
// Index and are stitched together by the Accumulator.
type ToolCall struct {
	Index    *int          `json:"index,omitempty"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function *FunctionCall `json:"function,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Parameters carries the request options of the text-generation API. Fields
// left nil are omitted so the service applies its own defaults.
type Parameters struct {
	ResultFormat      string   `json:"result_format,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	Seed              *int     `json:"seed,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Stop              any      `json:"stop,omitempty"` // string, []string or token ids
	EnableSearch      *bool    `json:"enable_search,omitempty"`
	IncrementalOutput *bool    `json:"incremental_output,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
	ToolChoice        any      `json:"tool_choice,omitempty"`

	// Extra holds model-specific parameters with no first-class field
	// (e.g. "enable_thinking"). Keys never override declared fields.
	Extra map[string]any `json:"-"`
}

// EnableThinking toggles deep-thinking mode on models that support it
// (qwen3 and later). It rides along as an extra field.
func (p *Parameters) EnableThinking(enabled bool) {
	if p.Extra == nil {
		p.Extra = map[string]any{}
	}
	p.Extra["enable_thinking"] = enabled
}

func (p Parameters) MarshalJSON() ([]byte, error) {
	type alias Parameters
	declared, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return declared, nil
	}
	var m map[string]any
	if err := json.Unmarshal(declared, &m); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, taken := m[k]; taken {
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}

// Request is one text-generation call. Either Prompt or Messages must be
// set; Messages wins when both are present.
type Request struct {
	Model      string
	Prompt     string
	Messages   []Message
	Parameters Parameters
}

func (r Request) payload() (dashscope.Payload, error) {
	if strings.TrimSpace(r.Model) == "" {
		return dashscope.Payload{}, dashscope.ErrMissingModel
	}
	input := map[string]any{}
	switch {
	case len(r.Messages) > 0:
		input["messages"] = r.Messages
	case r.Prompt != "":
		input["prompt"] = r.Prompt
	default:
		return dashscope.Payload{}, dashscope.ErrInputRequired
	}
	return dashscope.Payload{
		Model:      r.Model,
		Input:      input,
		Parameters: r.Parameters,
	}, nil
}

// incremental reports whether the request asked for delta chunks, which is
// when stream accumulation applies.
func (r Request) incremental() bool {
	return r.Parameters.IncrementalOutput != nil && *r.Parameters.IncrementalOutput
}

type Output struct {
	Text         string   `json:"text,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Choices      []Choice `json:"choices,omitempty"`
}

type Choice struct {
	Index        *int      `json:"index,omitempty"`
	Message      Message   `json:"message"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Logprobs     *Logprobs `json:"logprobs,omitempty"`
}

type Logprobs struct {
	Content []json.RawMessage `json:"content,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// Response is the typed text-generation envelope.
type Response struct {
	RequestID  string
	StatusCode int
	Code       string
	Message    string
	Output     Output
	Usage      Usage
}

// Text returns the generated text regardless of result format.
func (r *Response) Text() string {
	if r.Output.Text != "" {
		return r.Output.Text
	}
	if len(r.Output.Choices) > 0 {
		return r.Output.Choices[0].Message.Content
	}
	return ""
}

// Err converts a failed response into an *dashscope.APIError, nil otherwise.
func (r *Response) Err() error {
	return envelope(r).Err()
}

func envelope(r *Response) *dashscope.APIResponse {
	return &dashscope.APIResponse{
		RequestID:  r.RequestID,
		StatusCode: r.StatusCode,
		Code:       r.Code,
		Message:    r.Message,
	}
}

func fromEnvelope(rsp *dashscope.APIResponse) (*Response, error) {
	out := &Response{
		RequestID:  rsp.RequestID,
		StatusCode: rsp.StatusCode,
		Code:       rsp.Code,
		Message:    rsp.Message,
	}
	if len(rsp.Output) > 0 {
		if err := json.Unmarshal(rsp.Output, &out.Output); err != nil {
			return nil, fmt.Errorf("generation: decode output: %w", err)
		}
	}
	if len(rsp.Usage) > 0 {
		if err := json.Unmarshal(rsp.Usage, &out.Usage); err != nil {
			return nil, fmt.Errorf("generation: decode usage: %w", err)
		}
	}
	return out, nil
}

// Client calls the text-generation API.
type Client struct {
	api dashscope.Client
}

func New(config dashscope.Config) Client {
	return Client{api: dashscope.NewClient(config)}
}

// NewWithClient wraps an existing core client.
func NewWithClient(api dashscope.Client) Client {
	return Client{api: api}
}

// Call runs one synchronous generation.
func (c Client) Call(ctx context.Context, req Request, opts ...dashscope.RequestOption) (*Response, error) {
	p, err := req.payload()
	if err != nil {
		return nil, err
	}
	rsp, err := c.api.Call(ctx, Path, p, opts...)
	if err != nil {
		return nil, err
	}
	return fromEnvelope(rsp)
}

// Stream runs a streaming generation. When the request enables
// incremental_output, each received Response carries the accumulated text,
// reasoning and tool calls so far (mirroring the non-incremental wire shape);
// otherwise chunks pass through exactly as sent.
func (c Client) Stream(ctx context.Context, req Request, opts ...dashscope.RequestOption) (*Stream, error) {
	p, err := req.payload()
	if err != nil {
		return nil, err
	}
	inner, err := c.api.Stream(ctx, Path, p, opts...)
	if err != nil {
		return nil, err
	}
	s := &Stream{inner: inner}
	if req.incremental() {
		s.acc = NewAccumulator()
	}
	return s, nil
}

// Stream yields one Response per chunk and io.EOF at the end.
type Stream struct {
	inner *dashscope.Streamer
	acc   *Accumulator
}

func (s *Stream) Recv() (*Response, error) {
	raw, err := s.inner.Recv()
	if err != nil {
		return nil, err
	}
	rsp, err := fromEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if s.acc != nil && rsp.StatusCode == http.StatusOK {
		s.acc.Merge(&rsp.Output)
	}
	return rsp, nil
}

func (s *Stream) Close() error {
	return s.inner.Close()
}

// Drain consumes the rest of the stream and returns the final response.
func (s *Stream) Drain() (*Response, error) {
	var last *Response
	for {
		rsp, err := s.Recv()
		if err == io.EOF {
			if last == nil {
				return nil, io.ErrUnexpectedEOF
			}
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		last = rsp
	}
}
