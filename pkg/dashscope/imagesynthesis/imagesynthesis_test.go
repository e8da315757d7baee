package imagesynthesis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

func testConfig(url string) dashscope.Config {
	return dashscope.NewConfig().WithAPIKey("sk-test").WithBaseURL(url)
}

func TestAsyncCallTextToImage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != TextToImagePath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("X-DashScope-Async") != "enable" {
			t.Errorf("missing async header")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{
			"request_id": "req-img",
			"output": {"task_id": "task-1", "task_status": "PENDING"}
		}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	rsp, err := c.AsyncCall(context.Background(), Request{
		Model:          ModelWanxV1,
		Prompt:         "a lighthouse at dawn",
		NegativePrompt: "people",
		Parameters:     Parameters{Size: "1024*1024", N: dashscope.IntPtr(2), Style: "<watercolor>"},
	})
	if err != nil {
		t.Fatalf("AsyncCall: %v", err)
	}
	if rsp.TaskID() != "task-1" || rsp.Output.TaskStatus != dashscope.TaskPending {
		t.Fatalf("unexpected response %+v", rsp.Output)
	}

	input, _ := body["input"].(map[string]any)
	if input["prompt"] != "a lighthouse at dawn" || input["negative_prompt"] != "people" {
		t.Fatalf("unexpected input %v", input)
	}
	params, _ := body["parameters"].(map[string]any)
	if params["size"] != "1024*1024" || params["n"] != float64(2) {
		t.Fatalf("unexpected parameters %v", params)
	}
}

func TestAsyncCallStyleRepaintPath(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ImageToImagePath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"request_id": "req-sr", "output": {"task_id": "task-sr", "task_status": "PENDING"}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.AsyncCall(context.Background(), Request{
		Model:      ModelWanxStyleRepaintV1,
		ImageURL:   "https://example.com/me.png",
		StyleIndex: dashscope.IntPtr(3),
	})
	if err != nil {
		t.Fatalf("AsyncCall: %v", err)
	}

	input, _ := body["input"].(map[string]any)
	if input["image_url"] != "https://example.com/me.png" || input["style_index"] != float64(3) {
		t.Fatalf("unexpected input %v", input)
	}
	if _, found := input["prompt"]; found {
		t.Fatalf("prompt should be absent, got %v", input)
	}
}

func TestCallSubmitsAndWaits(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == TextToImagePath:
			_, _ = w.Write([]byte(`{"request_id": "req-s", "output": {"task_id": "task-w", "task_status": "PENDING"}}`))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tasks/"):
			if r.URL.Path != "/tasks/task-w" {
				t.Errorf("unexpected task path %q", r.URL.Path)
			}
			if fetches.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"request_id": "req-p", "output": {"task_id": "task-w", "task_status": "RUNNING"}}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"request_id": "req-d",
				"output": {
					"task_id": "task-w",
					"task_status": "SUCCEEDED",
					"results": [{"url": "https://dashscope-result.oss/a.png"}],
					"task_metrics": {"TOTAL": 1, "SUCCEEDED": 1, "FAILED": 0}
				},
				"usage": {"image_count": 1}
			}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	rsp, err := c.Call(context.Background(), Request{Model: ModelWanxV1, Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if rsp.Output.TaskStatus != dashscope.TaskSucceeded {
		t.Fatalf("unexpected status %q", rsp.Output.TaskStatus)
	}
	if len(rsp.Output.Results) != 1 || rsp.Output.Results[0].URL == "" {
		t.Fatalf("unexpected results %+v", rsp.Output.Results)
	}
	if rsp.Usage.ImageCount != 1 {
		t.Fatalf("unexpected usage %+v", rsp.Usage)
	}
	if fetches.Load() < 2 {
		t.Fatalf("expected at least two polls, got %d", fetches.Load())
	}
}

func TestErrReportsFailedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"request_id": "req-f",
			"output": {"task_id": "task-f", "task_status": "FAILED", "code": "InvalidParameter", "message": "bad size"}
		}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	rsp, err := c.Fetch(context.Background(), "task-f")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var apiErr *dashscope.APIError
	if !errors.As(rsp.Err(), &apiErr) {
		t.Fatalf("expected APIError, got %v", rsp.Err())
	}
	if apiErr.Code != "InvalidParameter" || apiErr.Message != "bad size" {
		t.Fatalf("unexpected error %v", apiErr)
	}
}

func TestCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks/task-c/cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"request_id": "req-c"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	if _, err := c.Cancel(context.Background(), "task-c"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:0"))
	if _, err := c.AsyncCall(context.Background(), Request{Prompt: "x"}); !errors.Is(err, dashscope.ErrMissingModel) {
		t.Fatalf("expected ErrMissingModel, got %v", err)
	}
	if _, err := c.AsyncCall(context.Background(), Request{Model: ModelWanxV1}); !errors.Is(err, dashscope.ErrInputRequired) {
		t.Fatalf("expected ErrInputRequired, got %v", err)
	}
}
