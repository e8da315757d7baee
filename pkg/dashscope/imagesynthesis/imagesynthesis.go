// Package imagesynthesis binds the DashScope image generation APIs (the wanx
// model family). Generation runs as an asynchronous task: submit, then fetch
// or wait for the result.
package imagesynthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

// Endpoints, relative to the API base URL. Text-to-image and image-to-image
// (style repaint, sketch) live on distinct paths.
const (
	TextToImagePath  = "/services/aigc/text2image/image-synthesis"
	ImageToImagePath = "/services/aigc/image2image/image-synthesis"
)

const (
	ModelWanxV1              = "wanx-v1"
	ModelWanxSketchToImageV1 = "wanx-sketch-to-image-v1"
	ModelWanxStyleRepaintV1  = "wanx-style-repaint-v1"
)

type Parameters struct {
	Style string   `json:"style,omitempty"`
	Size  string   `json:"size,omitempty"` // "<width>*<height>"
	N     *int     `json:"n,omitempty"`
	Seed  *int     `json:"seed,omitempty"`
	Steps *int     `json:"steps,omitempty"`
	Scale *float64 `json:"scale,omitempty"`

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

// Request is one synthesis task. Text-to-image sets Prompt; style repaint
// sets ImageURL (plus StyleIndex or StyleRefURL); sketch-to-image sets
// SketchImageURL. ExtraInput merges additional model-specific input fields.
type Request struct {
	Model          string
	Prompt         string
	NegativePrompt string
	RefImageURL    string
	SketchImageURL string
	ImageURL       string
	StyleIndex     *int
	StyleRefURL    string
	ExtraInput     map[string]any
	Parameters     Parameters

	// Path overrides the derived endpoint when a model lives elsewhere.
	Path string
}

func (r Request) path() string {
	if r.Path != "" {
		return r.Path
	}
	if r.ImageURL != "" || r.SketchImageURL != "" {
		return ImageToImagePath
	}
	return TextToImagePath
}

func (r Request) payload() (dashscope.Payload, error) {
	if strings.TrimSpace(r.Model) == "" {
		return dashscope.Payload{}, dashscope.ErrMissingModel
	}
	if r.Prompt == "" && r.ImageURL == "" && r.SketchImageURL == "" {
		return dashscope.Payload{}, dashscope.ErrInputRequired
	}
	input := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			input[k] = v
		}
	}
	set("prompt", r.Prompt)
	set("negative_prompt", r.NegativePrompt)
	set("ref_img", r.RefImageURL)
	set("sketch_image_url", r.SketchImageURL)
	set("image_url", r.ImageURL)
	set("style_ref_url", r.StyleRefURL)
	if r.StyleIndex != nil {
		input["style_index"] = *r.StyleIndex
	}
	for k, v := range r.ExtraInput {
		if _, taken := input[k]; taken {
			continue
		}
		input[k] = v
	}
	return dashscope.Payload{
		Model:      r.Model,
		Input:      input,
		Parameters: r.Parameters,
	}, nil
}

// Result is one generated image.
type Result struct {
	URL     string `json:"url,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type TaskMetrics struct {
	Total     int `json:"TOTAL"`
	Succeeded int `json:"SUCCEEDED"`
	Failed    int `json:"FAILED"`
}

type Output struct {
	TaskID        string               `json:"task_id,omitempty"`
	TaskStatus    dashscope.TaskStatus `json:"task_status,omitempty"`
	Results       []Result             `json:"results,omitempty"`
	TaskMetrics   *TaskMetrics         `json:"task_metrics,omitempty"`
	Code          string               `json:"code,omitempty"`
	Message       string               `json:"message,omitempty"`
	SubmitTime    string               `json:"submit_time,omitempty"`
	ScheduledTime string               `json:"scheduled_time,omitempty"`
	EndTime       string               `json:"end_time,omitempty"`
}

type Usage struct {
	ImageCount int `json:"image_count,omitempty"`
}

type Response struct {
	RequestID  string
	StatusCode int
	Code       string
	Message    string
	Output     Output
	Usage      Usage
}

func (r *Response) TaskID() string { return r.Output.TaskID }

// Err reports HTTP-level failures and FAILED tasks as *dashscope.APIError.
func (r *Response) Err() error {
	e := &dashscope.APIResponse{
		RequestID:  r.RequestID,
		StatusCode: r.StatusCode,
		Code:       r.Code,
		Message:    r.Message,
	}
	if err := e.Err(); err != nil {
		return err
	}
	if r.Output.TaskStatus == dashscope.TaskFailed {
		return &dashscope.APIError{
			StatusCode: r.StatusCode,
			Code:       r.Output.Code,
			Message:    r.Output.Message,
			RequestID:  r.RequestID,
		}
	}
	return nil
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
			return nil, fmt.Errorf("imagesynthesis: decode output: %w", err)
		}
	}
	if len(rsp.Usage) > 0 {
		if err := json.Unmarshal(rsp.Usage, &out.Usage); err != nil {
			return nil, fmt.Errorf("imagesynthesis: decode usage: %w", err)
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

// AsyncCall submits a synthesis task and returns immediately with the task
// id and its initial status.
func (c Client) AsyncCall(ctx context.Context, req Request, opts ...dashscope.RequestOption) (*Response, error) {
	p, err := req.payload()
	if err != nil {
		return nil, err
	}
	rsp, err := c.api.AsyncCall(ctx, req.path(), p, opts...)
	if err != nil {
		return nil, err
	}
	return fromEnvelope(rsp)
}

// Fetch queries the status or result of a submitted task.
func (c Client) Fetch(ctx context.Context, taskID string, opts ...dashscope.RequestOption) (*Response, error) {
	rsp, err := c.api.FetchTask(ctx, taskID, opts...)
	if err != nil {
		return nil, err
	}
	return fromEnvelope(rsp)
}

// Wait blocks until the task reaches a terminal status.
func (c Client) Wait(ctx context.Context, taskID string, opts ...dashscope.RequestOption) (*Response, error) {
	rsp, err := c.api.WaitTask(ctx, taskID, opts...)
	if err != nil {
		return nil, err
	}
	return fromEnvelope(rsp)
}

// Cancel cancels a task. Only tasks whose status is PENDING can be canceled.
func (c Client) Cancel(ctx context.Context, taskID string, opts ...dashscope.RequestOption) (*dashscope.APIResponse, error) {
	return c.api.CancelTask(ctx, taskID, opts...)
}

// Call submits a task and waits for its result.
func (c Client) Call(ctx context.Context, req Request, opts ...dashscope.RequestOption) (*Response, error) {
	submitted, err := c.AsyncCall(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	if submitted.TaskID() == "" {
		return nil, fmt.Errorf("imagesynthesis: submission returned no task id (request_id=%s)", submitted.RequestID)
	}
	return c.Wait(ctx, submitted.TaskID(), opts...)
}
