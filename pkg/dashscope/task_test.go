package dashscope

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/tasks/t-9" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("X-DashScope-Async") != "" {
			t.Errorf("task query must not carry the async header")
		}
		_, _ = w.Write([]byte(`{"request_id":"req-t","output":{"task_id":"t-9","task_status":"RUNNING"}}`))
	}))
	defer srv.Close()
	c := NewClient(NewConfig().WithAPIKey("sk").WithBaseURL(srv.URL))

	rsp, err := c.FetchTask(context.Background(), "t-9")
	if err != nil {
		t.Fatalf("FetchTask: %v", err)
	}
	if TaskStatusOf(rsp) != TaskRunning {
		t.Fatalf("expected RUNNING, got %s", TaskStatusOf(rsp))
	}

	if _, err := c.FetchTask(context.Background(), " "); !errors.Is(err, ErrMissingTaskID) {
		t.Fatalf("expected ErrMissingTaskID, got %v", err)
	}
}

func TestTaskQueriesUseTaskVariantOfBaseURL(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"request_id":"req-t","output":{"task_id":"t-9","task_status":"SUCCEEDED"}}`))
	}))
	defer srv.Close()
	c := NewClient(NewConfig().WithAPIKey("sk").WithBaseURL(srv.URL + "/api/v1"))

	if _, err := c.FetchTask(context.Background(), "t-9"); err != nil {
		t.Fatalf("FetchTask: %v", err)
	}
	if _, err := c.CancelTask(context.Background(), "t-9"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if _, err := c.ListTasks(context.Background(), ListTasksParams{}); err != nil {
		t.Fatalf("ListTasks: %v", err)
	}

	want := []string{"/api-task/v1/tasks/t-9", "/api-task/v1/tasks/t-9/cancel", "/api-task/v1/tasks"}
	for i, p := range want {
		if i >= len(paths) || paths[i] != p {
			t.Fatalf("expected paths %v, got %v", want, paths)
		}
	}

	// Model calls stay on the plain api base.
	if _, err := c.Call(context.Background(), "/services/x", Payload{Model: "m", Input: map[string]any{"prompt": "p"}}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := paths[len(paths)-1]; got != "/api/v1/services/x" {
		t.Fatalf("expected model call on /api/v1, got %q", got)
	}
}

func TestWaitTaskPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	statuses := []TaskStatus{TaskPending, TaskRunning, TaskSucceeded}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		status := statuses[len(statuses)-1]
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		fmt.Fprintf(w, `{"request_id":"req-w","output":{"task_id":"t-w","task_status":"%s","results":[{"url":"https://x/img.png"}]}}`, status)
	}))
	defer srv.Close()
	c := NewClient(NewConfig().WithAPIKey("sk").WithBaseURL(srv.URL))

	rsp, err := c.WaitTask(context.Background(), "t-w")
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if TaskStatusOf(rsp) != TaskSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", TaskStatusOf(rsp))
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", calls.Load())
	}
}

func TestWaitTaskHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"task_status":"RUNNING"}}`))
	}))
	defer srv.Close()
	c := NewClient(NewConfig().WithAPIKey("sk").WithBaseURL(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WaitTask(ctx, "t-c")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCancelTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks/t-p/cancel" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"request_id":"req-c"}`))
	}))
	defer srv.Close()
	c := NewClient(NewConfig().WithAPIKey("sk").WithBaseURL(srv.URL))

	rsp, err := c.CancelTask(context.Background(), "t-p")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if rsp.RequestID != "req-c" {
		t.Fatalf("unexpected envelope: %+v", rsp)
	}
}

func TestListTasksQueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "SUCCEEDED" || q.Get("page_no") != "2" || q.Get("page_size") != "10" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if q.Get("model_name") != "wanx-v1" {
			t.Errorf("missing model_name filter")
		}
		_, _ = w.Write([]byte(`{"request_id":"req-l","output":{"tasks":[]}}`))
	}))
	defer srv.Close()
	c := NewClient(NewConfig().WithAPIKey("sk").WithBaseURL(srv.URL))

	_, err := c.ListTasks(context.Background(), ListTasksParams{
		ModelName: "wanx-v1",
		Status:    TaskSucceeded,
		PageNo:    2,
		PageSize:  10,
	})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
}
