package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

func TestNewTaskID(t *testing.T) {
	id := NewTaskID()
	if len(id) != 32 {
		t.Fatalf("expected 32 hex chars, got %q (%d)", id, len(id))
	}
	if strings.Contains(id, "-") {
		t.Fatalf("task id should not contain dashes: %q", id)
	}
	if id == NewTaskID() {
		t.Fatal("task ids should be unique")
	}
}

func TestStartFrameShape(t *testing.T) {
	f := startFrame("abc123", "paraformer-realtime-v2", Input{AppID: "app-1"}, Parameters{
		Format:     "pcm",
		SampleRate: 16000,
	})
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	header, _ := m["header"].(map[string]any)
	if header["action"] != ActionRunTask || header["task_id"] != "abc123" || header["streaming"] != "duplex" {
		t.Fatalf("unexpected header %v", header)
	}
	payload, _ := m["payload"].(map[string]any)
	if payload["model"] != "paraformer-realtime-v2" {
		t.Fatalf("unexpected payload %v", payload)
	}
	params, _ := payload["parameters"].(map[string]any)
	if params["format"] != "pcm" || params["sampleRate"] != float64(16000) {
		t.Fatalf("unexpected parameters %v", params)
	}
}

// recorder collects callback invocations for assertions.
type recorder struct {
	mu      sync.Mutex
	taskID  string
	results []string
	errs    []*dashscope.APIError
	ended   bool
	closed  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan struct{})}
}

func (c *recorder) OnOpen(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskID = taskID
}

func (c *recorder) OnSpeechListen(Output) {}

func (c *recorder) OnRecognizeResult(out Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, out.Text)
}

func (c *recorder) OnAIResult(Output) {}

func (c *recorder) OnSpeechEnd(Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
}

func (c *recorder) OnError(err *dashscope.APIError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recorder) OnClose() { close(c.closed) }

var upgrader = websocket.Upgrader{}

func wsConfig(t *testing.T, handler http.HandlerFunc) (dashscope.Config, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg := dashscope.NewConfig().WithAPIKey("sk-test").WithWebsocketURL(wsURL)
	return cfg, srv.Close
}

func TestRecognizerSession(t *testing.T) {
	cfg, shutdown := wsConfig(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var start Frame
		if err := conn.ReadJSON(&start); err != nil {
			t.Errorf("read run-task: %v", err)
			return
		}
		if start.Header.Action != ActionRunTask || start.Payload.Model != "paraformer-realtime-v2" {
			t.Errorf("unexpected start frame %+v", start)
		}
		taskID := start.Header.TaskID

		_ = conn.WriteJSON(Frame{Header: Header{Event: EventTaskStarted, TaskID: taskID}})

		// One binary audio frame, then results, then the finish directive.
		mt, audio, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			t.Errorf("expected binary frame, got type=%d err=%v", mt, err)
			return
		}
		if string(audio) != "pcm-bytes" {
			t.Errorf("unexpected audio payload %q", audio)
		}

		_ = conn.WriteJSON(Frame{
			Header:  Header{Event: EventResultGenerated, TaskID: taskID},
			Payload: Payload{Output: &Output{Action: OutputRecognizeResult, Text: "hello"}},
		})
		_ = conn.WriteJSON(Frame{
			Header:  Header{Event: EventResultGenerated, TaskID: taskID},
			Payload: Payload{Output: &Output{Action: OutputRecognizeResult, Text: "hello world", IsFinal: true}},
		})

		var finish Frame
		if err := conn.ReadJSON(&finish); err != nil {
			t.Errorf("read finish-task: %v", err)
			return
		}
		if finish.Header.Action != ActionFinishTask {
			t.Errorf("unexpected finish frame %+v", finish)
		}
		_ = conn.WriteJSON(Frame{Header: Header{Event: EventTaskFinished, TaskID: taskID}})
	})
	defer shutdown()

	cb := newRecorder()
	rec := NewRecognizer(cfg, cb)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rec.Start(ctx, RecognizerOptions{
		Model:      "paraformer-realtime-v2",
		Parameters: Parameters{Format: "pcm", SampleRate: 16000},
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.TaskID() == "" {
		t.Fatal("expected a task id after Start")
	}
	if err := rec.SendAudioFrame([]byte("pcm-bytes")); err != nil {
		t.Fatalf("SendAudioFrame: %v", err)
	}
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-cb.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnClose never fired")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.taskID != rec.TaskID() {
		t.Fatalf("OnOpen task id %q != %q", cb.taskID, rec.TaskID())
	}
	if len(cb.results) != 2 || cb.results[1] != "hello world" {
		t.Fatalf("unexpected results %v", cb.results)
	}
	if len(cb.errs) != 0 {
		t.Fatalf("unexpected errors %v", cb.errs)
	}
}

func TestRecognizerDispatchesUnlabeledResultFrames(t *testing.T) {
	cfg, shutdown := wsConfig(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var start Frame
		if err := conn.ReadJSON(&start); err != nil {
			return
		}
		taskID := start.Header.TaskID
		_ = conn.WriteJSON(Frame{Header: Header{Event: EventTaskStarted, TaskID: taskID}})

		// No event labels: results ride on bare frames and the session is
		// ended by speech-end, not by task-finished.
		_ = conn.WriteJSON(Frame{
			Header:  Header{TaskID: taskID},
			Payload: Payload{Output: &Output{Action: OutputRecognizeResult, Text: "partial"}},
		})
		_ = conn.WriteJSON(Frame{
			Header:  Header{TaskID: taskID},
			Payload: Payload{Output: &Output{Action: OutputSpeechEnd}},
		})
		_, _, _ = conn.ReadMessage() // hold the conn until the client closes
	})
	defer shutdown()

	cb := newRecorder()
	rec := NewRecognizer(cfg, cb)
	if err := rec.Start(context.Background(), RecognizerOptions{Model: "paraformer-realtime-v2"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-cb.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("speech-end did not end the session")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.results) != 1 || cb.results[0] != "partial" {
		t.Fatalf("unexpected results %v", cb.results)
	}
	if !cb.ended {
		t.Fatal("OnSpeechEnd never fired")
	}
	if len(cb.errs) != 0 {
		t.Fatalf("unexpected errors %v", cb.errs)
	}
}

func TestRecognizerStartRejected(t *testing.T) {
	cfg, shutdown := wsConfig(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var start Frame
		_ = conn.ReadJSON(&start)
		_ = conn.WriteJSON(Frame{Header: Header{
			Event:        EventTaskFailed,
			TaskID:       start.Header.TaskID,
			ErrorCode:    "InvalidApiKey",
			ErrorMessage: "the api key is invalid",
		}})
	})
	defer shutdown()

	rec := NewRecognizer(cfg, newRecorder())
	err := rec.Start(context.Background(), RecognizerOptions{Model: "paraformer-realtime-v2"})
	if err == nil {
		t.Fatal("expected Start to fail")
	}
	apiErr, ok := err.(*dashscope.APIError)
	if !ok {
		t.Fatalf("expected *dashscope.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "InvalidApiKey" {
		t.Fatalf("unexpected error %v", apiErr)
	}
}

func TestRecognizerValidation(t *testing.T) {
	rec := NewRecognizer(dashscope.NewConfig().WithAPIKey(""), newRecorder())
	if err := rec.Start(context.Background(), RecognizerOptions{Model: "m"}); err != dashscope.ErrMissingAPIKey {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	rec = NewRecognizer(dashscope.NewConfig().WithAPIKey("sk-test"), newRecorder())
	if err := rec.Start(context.Background(), RecognizerOptions{}); err != dashscope.ErrMissingModel {
		t.Fatalf("expected ErrMissingModel, got %v", err)
	}
	if err := rec.SendAudioFrame([]byte("x")); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}
