// Package realtime implements the DashScope duplex websocket protocol used
// by streaming speech recognition models. Audio goes up as binary frames,
// results come back as JSON event frames.
package realtime

import (
	"strings"

	"github.com/google/uuid"
)

// Client-to-server actions.
const (
	ActionRunTask      = "run-task"
	ActionContinueTask = "continue-task"
	ActionFinishTask   = "finish-task"
)

// Server-to-client events.
const (
	EventTaskStarted     = "task-started"
	EventResultGenerated = "result-generated"
	EventTaskFinished    = "task-finished"
	EventTaskFailed      = "task-failed"
)

// Actions carried inside result payloads.
const (
	OutputSpeechListen    = "speech-listen"
	OutputRecognizeResult = "recognize-result"
	OutputAIResult        = "ai-result"
	OutputSpeechEnd       = "speech-end"
	OutputTaskFailed      = "task-failed"
)

// Header identifies the task and, on inbound frames, the event. Streaming is
// always "duplex" on this endpoint.
type Header struct {
	Action       string `json:"action,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	Event        string `json:"event,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Input addresses the server-side application handling the audio.
type Input struct {
	AppID       string `json:"appId,omitempty"`
	Directive   string `json:"directive,omitempty"`
	DataID      string `json:"dataId,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// Parameters configure the audio format and recognition behaviour.
type Parameters struct {
	Format        string `json:"format,omitempty"` // e.g. "pcm"
	SampleRate    int    `json:"sampleRate,omitempty"`
	Terminology   string `json:"terminology,omitempty"`
	MaxEndSilence int    `json:"maxEndSilence,omitempty"`
}

// Output is the recognition result carried by result-generated events.
type Output struct {
	Action       string `json:"action,omitempty"`
	Text         string `json:"text,omitempty"`
	Spoken       string `json:"spokenText,omitempty"`
	IsFinal      bool   `json:"isFinal,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type Payload struct {
	Model      string      `json:"model,omitempty"`
	Input      *Input      `json:"input,omitempty"`
	Parameters *Parameters `json:"parameters,omitempty"`
	Output     *Output     `json:"output,omitempty"`
}

// Frame is one JSON message on the websocket, in either direction.
type Frame struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
}

// NewTaskID returns a 32-character lowercase hex task id.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func startFrame(taskID, model string, input Input, params Parameters) Frame {
	return Frame{
		Header: Header{
			Action:    ActionRunTask,
			TaskID:    taskID,
			Streaming: "duplex",
		},
		Payload: Payload{
			Model:      model,
			Input:      &input,
			Parameters: &params,
		},
	}
}

func finishFrame(taskID string, input Input) Frame {
	return Frame{
		Header: Header{
			Action:    ActionFinishTask,
			TaskID:    taskID,
			Streaming: "duplex",
		},
		Payload: Payload{
			Input: &input,
		},
	}
}
