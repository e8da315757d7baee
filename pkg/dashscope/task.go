package dashscope

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of an asynchronous task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskSuspended TaskStatus = "SUSPENDED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCanceled  TaskStatus = "CANCELED"
	TaskUnknown   TaskStatus = "UNKNOWN"
)

// Terminal reports whether the task will not change state anymore.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCanceled, TaskUnknown:
		return true
	default:
		return false
	}
}

// Wait polling: the interval starts low for short tasks and backs off to a
// steady cadence for long-running generation.
const (
	waitInitialInterval = 500 * time.Millisecond
	waitMaxInterval     = 5 * time.Second
)

// taskEndpoint derives the absolute URL of a task query. The task API is
// served from the api-task variant of the base URL, so
// …/api/v1/tasks/{id} becomes …/api-task/v1/tasks/{id}. Base URLs without an
// /api/ segment (local test servers) are used as-is.
func (c Client) taskEndpoint(path string) (string, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return "", err
	}
	return strings.Replace(endpoint, "/api/", "/api-task/", 1), nil
}

// ListTasksParams filters and pages the task listing endpoint.
type ListTasksParams struct {
	StartTime string // e.g. 20230420000000
	EndTime   string
	ModelName string
	APIKeyID  string
	Region    string
	Status    TaskStatus
	PageNo    int
	PageSize  int
}

// FetchTask queries the status or result of an asynchronous task.
func (c Client) FetchTask(ctx context.Context, taskID string, opts ...RequestOption) (*APIResponse, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrMissingTaskID
	}
	endpoint, err := c.taskEndpoint("/tasks/" + taskID)
	if err != nil {
		return nil, err
	}
	rc := c.resolve(http.MethodGet, opts)
	rc.query = true
	return c.get(ctx, endpoint, rc)
}

// WaitTask polls the task until it reaches a terminal status or the context
// is cancelled, and returns the final envelope.
func (c Client) WaitTask(ctx context.Context, taskID string, opts ...RequestOption) (*APIResponse, error) {
	interval := waitInitialInterval
	for {
		rsp, err := c.FetchTask(ctx, taskID, opts...)
		if err != nil {
			return nil, err
		}
		if TaskStatusOf(rsp).Terminal() {
			return rsp, nil
		}
		c.config.logger.Debug().Str("task_id", taskID).Str("status", string(TaskStatusOf(rsp))).Msg("task pending")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if interval < waitMaxInterval {
			interval *= 2
			if interval > waitMaxInterval {
				interval = waitMaxInterval
			}
		}
	}
}

// CancelTask cancels an asynchronous task. Only tasks whose status is
// PENDING can be canceled.
func (c Client) CancelTask(ctx context.Context, taskID string, opts ...RequestOption) (*APIResponse, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrMissingTaskID
	}
	endpoint, err := c.taskEndpoint("/tasks/" + taskID + "/cancel")
	if err != nil {
		return nil, err
	}
	rc := c.resolve(http.MethodPost, opts)
	rc.query = true
	return c.do(ctx, http.MethodPost, endpoint, nil, rc)
}

// ListTasks lists asynchronous tasks, paged and optionally filtered.
func (c Client) ListTasks(ctx context.Context, params ListTasksParams, opts ...RequestOption) (*APIResponse, error) {
	endpoint, err := c.taskEndpoint("/tasks")
	if err != nil {
		return nil, err
	}
	rc := c.resolve(http.MethodGet, opts)
	rc.query = true
	rc.params = map[string]string{}

	set := func(k, v string) {
		if v != "" {
			rc.params[k] = v
		}
	}
	set("start_time", params.StartTime)
	set("end_time", params.EndTime)
	set("model_name", params.ModelName)
	set("api_key_id", params.APIKeyID)
	set("region", params.Region)
	set("status", string(params.Status))
	if params.PageNo > 0 {
		set("page_no", strconv.Itoa(params.PageNo))
	}
	if params.PageSize > 0 {
		set("page_size", strconv.Itoa(params.PageSize))
	}
	return c.get(ctx, endpoint, rc)
}

// TaskStatusOf extracts output.task_status from an envelope. Envelopes
// without one report TaskUnknown.
func TaskStatusOf(rsp *APIResponse) TaskStatus {
	if rsp == nil || len(rsp.Output) == 0 {
		return TaskUnknown
	}
	var out struct {
		TaskStatus TaskStatus `json:"task_status"`
	}
	if err := json.Unmarshal(rsp.Output, &out); err != nil || out.TaskStatus == "" {
		return TaskUnknown
	}
	return out.TaskStatus
}

// TaskIDOf extracts output.task_id from an envelope.
func TaskIDOf(rsp *APIResponse) string {
	if rsp == nil || len(rsp.Output) == 0 {
		return ""
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(rsp.Output, &out); err != nil {
		return ""
	}
	return out.TaskID
}
