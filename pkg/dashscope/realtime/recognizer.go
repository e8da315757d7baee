package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

// ErrNotStarted is returned when audio is sent before Start succeeded.
var ErrNotStarted = errors.New("realtime: recognizer not started")

// pingInterval keeps long idle recognition sessions alive.
const pingInterval = 30 * time.Second

/*
Callback receives recognizer events. Methods are invoked sequentially from
the read loop goroutine; a slow callback stalls the stream, so hand heavy
work off to another goroutine.
*/
type Callback interface {
	// OnOpen fires once the websocket is connected and the task accepted.
	OnOpen(taskID string)

	// OnSpeechListen fires when the server starts listening for speech.
	OnSpeechListen(out Output)

	// OnRecognizeResult delivers partial and final transcription results.
	OnRecognizeResult(out Output)

	// OnAIResult delivers model-generated replies, when the task produces them.
	OnAIResult(out Output)

	// OnSpeechEnd fires when the server detects the end of the utterance.
	// The session ends with it and the connection is closed.
	OnSpeechEnd(out Output)

	// OnError reports task failures. The connection is closed afterwards.
	OnError(err *dashscope.APIError)

	// OnClose fires exactly once when the read loop exits.
	OnClose()
}

// RecognizerOptions configure one recognition task.
type RecognizerOptions struct {
	Model      string
	Input      Input
	Parameters Parameters

	// TaskID overrides the generated task id, mainly for tests.
	TaskID string
}

/*
Recognizer drives one duplex recognition task: Start opens the websocket and
launches the task, SendAudioFrame pushes raw audio upstream, and results
arrive through the Callback. Stop signals the end of audio; Close tears the
connection down.
*/
type Recognizer struct {
	config   dashscope.Config
	callback Callback
	log      zerolog.Logger

	mu     sync.Mutex // guards conn writes and the started flag
	conn   *websocket.Conn
	taskID string

	done chan struct{}
}

func NewRecognizer(config dashscope.Config, callback Callback) *Recognizer {
	return &Recognizer{
		config:   config,
		callback: callback,
		log:      config.Logger(),
	}
}

// TaskID returns the id of the running task, empty before Start.
func (r *Recognizer) TaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskID
}

/*
Start dials the websocket endpoint, sends the run-task directive and waits
for the server to accept it. On success the read loop runs until the task
finishes, fails, or Close is called.
*/
func (r *Recognizer) Start(ctx context.Context, opts RecognizerOptions) error {
	if r.config.APIKey() == "" {
		return dashscope.ErrMissingAPIKey
	}
	if opts.Model == "" {
		return dashscope.ErrMissingModel
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.config.APIKey())
	header.Set("User-Agent", dashscope.UserAgent())
	if ws := r.config.Workspace(); ws != "" {
		header.Set("X-DashScope-WorkSpace", ws)
	}

	conn, rsp, err := websocket.DefaultDialer.DialContext(ctx, r.config.WebsocketURL(), header)
	if err != nil {
		if rsp != nil {
			return fmt.Errorf("realtime: dial %s: %s: %w", r.config.WebsocketURL(), rsp.Status, err)
		}
		return fmt.Errorf("realtime: dial %s: %w", r.config.WebsocketURL(), err)
	}

	taskID := opts.TaskID
	if taskID == "" {
		taskID = NewTaskID()
	}
	start := startFrame(taskID, opts.Model, opts.Input, opts.Parameters)
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return fmt.Errorf("realtime: send run-task: %w", err)
	}

	// The first frame decides whether the task runs at all.
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return fmt.Errorf("realtime: read task ack: %w", err)
	}
	switch first.Header.Event {
	case EventTaskStarted:
	case EventTaskFailed:
		_ = conn.Close()
		return taskError(&first)
	default:
		_ = conn.Close()
		return fmt.Errorf("realtime: unexpected event %q before task start", first.Header.Event)
	}

	r.mu.Lock()
	r.conn = conn
	r.taskID = taskID
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.log.Debug().Str("task_id", taskID).Str("model", opts.Model).Msg("realtime task started")
	r.callback.OnOpen(taskID)
	go r.readLoop(conn)
	go r.pingLoop(conn, r.done)
	return nil
}

// pingLoop sends websocket pings until the session ends. WriteControl is safe
// to call concurrently with the data writes.
func (r *Recognizer) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// SendAudioFrame pushes one chunk of raw audio upstream.
func (r *Recognizer) SendAudioFrame(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ErrNotStarted
	}
	return r.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Stop tells the server that no more audio will come and waits for the read
// loop to drain the remaining results.
func (r *Recognizer) Stop(ctx context.Context) error {
	r.mu.Lock()
	conn, taskID, done := r.conn, r.taskID, r.done
	r.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	finish := finishFrame(taskID, Input{})
	r.mu.Lock()
	err := conn.WriteJSON(finish)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("realtime: send finish-task: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the connection down. Safe to call more than once.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (r *Recognizer) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = r.Close()
		close(r.done)
		r.callback.OnClose()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug().Err(err).Msg("realtime read loop ended")
			}
			return
		}

		switch frame.Header.Event {
		case EventTaskFailed:
			r.callback.OnError(taskError(&frame))
			return
		case EventTaskFinished:
			return
		}
		// Results are dispatched on any frame carrying an output, whether
		// or not the server labels it result-generated.
		if r.dispatch(frame.Payload.Output) {
			return
		}
	}
}

// dispatch routes one result to the callback. It reports true when the
// output ends the session (speech-end, or a task failure in the payload).
func (r *Recognizer) dispatch(out *Output) (terminal bool) {
	if out == nil {
		return false
	}
	switch out.Action {
	case OutputSpeechListen:
		r.callback.OnSpeechListen(*out)
	case OutputRecognizeResult:
		r.callback.OnRecognizeResult(*out)
	case OutputAIResult:
		r.callback.OnAIResult(*out)
	case OutputSpeechEnd:
		r.callback.OnSpeechEnd(*out)
		return true
	case OutputTaskFailed:
		r.callback.OnError(&dashscope.APIError{
			StatusCode: http.StatusBadRequest,
			Code:       out.ErrorCode,
			Message:    out.ErrorMessage,
		})
		return true
	}
	return false
}

// taskError converts a task-failed frame into the error type the HTTP side
// of the client uses, so callers handle both transports uniformly.
func taskError(frame *Frame) *dashscope.APIError {
	e := &dashscope.APIError{
		StatusCode: http.StatusBadRequest,
		Code:       frame.Header.ErrorCode,
		Message:    frame.Header.ErrorMessage,
		RequestID:  frame.Header.TaskID,
	}
	if e.Code == "" && frame.Payload.Output != nil {
		e.Code = frame.Payload.Output.ErrorCode
		e.Message = frame.Payload.Output.ErrorMessage
	}
	return e
}
