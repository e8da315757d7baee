package dashscope

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aqstack/dashscope-go/pkg/dashscope/internal/sse"
)

// Streamer iterates a streaming response. Recv yields one envelope per SSE
// event and io.EOF once the stream ends; error chunks are surfaced as
// envelopes with Code/Message populated, not as Go errors, so a consumer can
// keep draining the stream.
type Streamer struct {
	resp *http.Response
	dec  *sse.Decoder
	log  zerolog.Logger

	// requestID sticks once the service announced it, so later chunks
	// without one (including malformed ones) stay attributable.
	requestID string
}

func newStreamer(resp *http.Response, log zerolog.Logger) *Streamer {
	return &Streamer{
		resp: resp,
		dec:  sse.NewDecoder(resp.Body),
		log:  log,
	}
}

func (s *Streamer) Recv() (*APIResponse, error) {
	ev, err := s.dec.Next()
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("event", ev.Name).Str("id", ev.ID).Msg(ev.Data)

	var msg struct {
		RequestID string          `json:"request_id"`
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		Output    json.RawMessage `json:"output"`
		Usage     json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
		// Not JSON; surface the raw chunk so the caller can decide.
		return &APIResponse{
			RequestID:  s.requestID,
			StatusCode: http.StatusBadRequest,
			Code:       "Unknown",
			Message:    ev.Data,
		}, nil
	}
	if msg.RequestID != "" {
		s.requestID = msg.RequestID
	}

	if ev.IsError() {
		status := ev.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return &APIResponse{
			RequestID:  s.requestID,
			StatusCode: status,
			Code:       msg.Code,
			Message:    msg.Message,
		}, nil
	}

	return &APIResponse{
		RequestID:  s.requestID,
		StatusCode: http.StatusOK,
		Output:     msg.Output,
		Usage:      msg.Usage,
	}, nil
}

func (s *Streamer) Close() error {
	return s.resp.Body.Close()
}
