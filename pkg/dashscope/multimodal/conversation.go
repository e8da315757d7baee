// Package multimodal binds the DashScope multimodal-generation API: vision
// and audio conversations (qwen-vl, qwen-audio) and speech synthesis
// (qwen-tts).
package multimodal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

// Path is the multimodal-generation endpoint, relative to the API base URL.
const Path = "/services/aigc/multimodal-generation/generation"

const (
	ModelQwenVLPlus     = "qwen-vl-plus"
	ModelQwenVLMax      = "qwen-vl-max"
	ModelQwenAudioTurbo = "qwen-audio-turbo"
	ModelQwenTTS        = "qwen-tts"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentItem is one element of a multimodal message: exactly one of the
// fields should be set. Media fields carry URLs (https:// or oss://).
type ContentItem struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
	Video string `json:"video,omitempty"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

type Parameters struct {
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	Seed              *int     `json:"seed,omitempty"`
	IncrementalOutput *bool    `json:"incremental_output,omitempty"`

	Extra map[string]any `json:"-"`
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

// Request is one multimodal call. Conversations set Messages; speech
// synthesis (qwen-tts) sets Text and optionally Voice instead.
type Request struct {
	Model      string
	Messages   []Message
	Text       string
	Voice      string
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
	case r.Text != "":
		input["text"] = r.Text
		if r.Voice != "" {
			input["voice"] = r.Voice
		}
	default:
		return dashscope.Payload{}, dashscope.ErrInputRequired
	}
	return dashscope.Payload{
		Model:      r.Model,
		Input:      input,
		Parameters: r.Parameters,
	}, nil
}

func (r Request) incremental() bool {
	return r.Parameters.IncrementalOutput != nil && *r.Parameters.IncrementalOutput
}

// Audio is the speech-synthesis result. Streaming chunks carry base64 PCM in
// Data; the final non-streaming answer carries a downloadable URL instead.
type Audio struct {
	ID        string `json:"id,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type Choice struct {
	Index        *int    `json:"index,omitempty"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Output struct {
	Choices      []Choice `json:"choices,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Audio        *Audio   `json:"audio,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	AudioTokens  int `json:"audio_tokens,omitempty"`
	ImageTokens  int `json:"image_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

type Response struct {
	RequestID  string
	StatusCode int
	Code       string
	Message    string
	Output     Output
	Usage      Usage
}

// Text returns the first text part of the first choice.
func (r *Response) Text() string {
	for _, ch := range r.Output.Choices {
		for _, item := range ch.Message.Content {
			if item.Text != "" {
				return item.Text
			}
		}
	}
	return ""
}

func (r *Response) Err() error {
	e := &dashscope.APIResponse{
		RequestID:  r.RequestID,
		StatusCode: r.StatusCode,
		Code:       r.Code,
		Message:    r.Message,
	}
	return e.Err()
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
			return nil, fmt.Errorf("multimodal: decode output: %w", err)
		}
	}
	if len(rsp.Usage) > 0 {
		if err := json.Unmarshal(rsp.Usage, &out.Usage); err != nil {
			return nil, fmt.Errorf("multimodal: decode usage: %w", err)
		}
	}
	return out, nil
}

type Client struct {
	api dashscope.Client
}

func New(config dashscope.Config) Client {
	return Client{api: dashscope.NewClient(config)}
}

func NewWithClient(api dashscope.Client) Client {
	return Client{api: api}
}

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

// Stream runs a streaming conversation or synthesis. Incremental text parts
// are accumulated in place; audio chunks always pass through as sent, since
// each one is an independent PCM fragment.
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
		s.acc = newAccumulator()
	}
	return s, nil
}

type Stream struct {
	inner *dashscope.Streamer
	acc   *accumulator
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
		s.acc.merge(&rsp.Output)
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
