// Package videosynthesis binds the DashScope video generation API (the wanx
// txt2video / img2video models). Like image synthesis it is an asynchronous
// task API: submit, then fetch or wait.
package videosynthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

// Path is the video-generation endpoint, relative to the API base URL.
const Path = "/services/aigc/video-generation/video-synthesis"

const (
	ModelWanxTxt2VideoPro = "wanx-txt2video-pro"
	ModelWanxImg2VideoPro = "wanx-img2video-pro"
	ModelWanx21T2VTurbo   = "wanx2.1-t2v-turbo"
	ModelWanx21T2VPlus    = "wanx2.1-t2v-plus"
)

type Parameters struct {
	Size     string `json:"size,omitempty"` // "<width>*<height>"
	Duration *int   `json:"duration,omitempty"`
	Seed     *int   `json:"seed,omitempty"`

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

// DefaultTask is the task name submitted with every synthesis request
// unless the Request overrides it.
const DefaultTask = "video-generation"

// Request is one video synthesis task. Prompt is required; ImageURL feeds
// the img2video models.
type Request struct {
	Model          string
	Prompt         string
	ImageURL       string
	ExtendPrompt   *bool
	NegativePrompt string
	Template       string
	ExtraInput     map[string]any
	Parameters     Parameters

	// Task overrides the API task name, for models served under a task
	// other than DefaultTask.
	Task string
}

func (r Request) payload() (dashscope.Payload, error) {
	if strings.TrimSpace(r.Model) == "" {
		return dashscope.Payload{}, dashscope.ErrMissingModel
	}
	if r.Prompt == "" {
		return dashscope.Payload{}, dashscope.ErrInputRequired
	}
	input := map[string]any{"prompt": r.Prompt}
	if r.ExtendPrompt != nil {
		input["extend_prompt"] = *r.ExtendPrompt
	}
	if r.NegativePrompt != "" {
		input["negative_prompt"] = r.NegativePrompt
	}
	if r.Template != "" {
		input["template"] = r.Template
	}
	if r.ImageURL != "" {
		input["img_url"] = r.ImageURL
	}
	for k, v := range r.ExtraInput {
		if _, taken := input[k]; taken {
			continue
		}
		input[k] = v
	}
	task := r.Task
	if task == "" {
		task = DefaultTask
	}
	return dashscope.Payload{
		Model:      r.Model,
		Task:       task,
		Input:      input,
		Parameters: r.Parameters,
	}, nil
}

type Output struct {
	TaskID        string               `json:"task_id,omitempty"`
	TaskStatus    dashscope.TaskStatus `json:"task_status,omitempty"`
	VideoURL      string               `json:"video_url,omitempty"`
	Code          string               `json:"code,omitempty"`
	Message       string               `json:"message,omitempty"`
	SubmitTime    string               `json:"submit_time,omitempty"`
	ScheduledTime string               `json:"scheduled_time,omitempty"`
	EndTime       string               `json:"end_time,omitempty"`
}

type Usage struct {
	VideoCount    int    `json:"video_count,omitempty"`
	VideoDuration int    `json:"video_duration,omitempty"`
	VideoRatio    string `json:"video_ratio,omitempty"`
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
			return nil, fmt.Errorf("videosynthesis: decode output: %w", err)
		}
	}
	if len(rsp.Usage) > 0 {
		if err := json.Unmarshal(rsp.Usage, &out.Usage); err != nil {
			return nil, fmt.Errorf("videosynthesis: decode usage: %w", err)
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

// AsyncCall submits a synthesis task and returns the task id immediately.
func (c Client) AsyncCall(ctx context.Context, req Request, opts ...dashscope.RequestOption) (*Response, error) {
	p, err := req.payload()
	if err != nil {
		return nil, err
	}
	rsp, err := c.api.AsyncCall(ctx, Path, p, opts...)
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

// List pages through this account's video synthesis tasks.
func (c Client) List(ctx context.Context, params dashscope.ListTasksParams, opts ...dashscope.RequestOption) (*dashscope.APIResponse, error) {
	return c.api.ListTasks(ctx, params, opts...)
}

// Call submits a task and waits for its result.
func (c Client) Call(ctx context.Context, req Request, opts ...dashscope.RequestOption) (*Response, error) {
	submitted, err := c.AsyncCall(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	if submitted.TaskID() == "" {
		return nil, fmt.Errorf("videosynthesis: submission returned no task id (request_id=%s)", submitted.RequestID)
	}
	return c.Wait(ctx, submitted.TaskID(), opts...)
}
