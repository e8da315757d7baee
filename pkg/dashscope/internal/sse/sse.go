// Package sse decodes the Server-Sent Events framing used by the DashScope
// streaming endpoints.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// statusComment is the comment prefix DashScope uses to smuggle the upstream
// HTTP status of an error chunk into the stream, e.g. ":HTTP_STATUS/429".
const statusComment = "HTTP_STATUS/"

// Event is one decoded SSE event. Status is zero unless the server attached
// an HTTP_STATUS comment to the event.
type Event struct {
	ID     string
	Name   string
	Data   string
	Status int
}

// IsError reports whether the server flagged the event as an error chunk.
func (e Event) IsError() bool { return e.Name == "error" }

// Decoder reads SSE events from a response body.
type Decoder struct {
	r  *bufio.Reader
	ev Event

	data []string
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event. Multi-line data fields are joined by "\n".
// It returns io.EOF when the underlying reader ends.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return Event{}, err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if ev, ok := d.flush(); ok {
				return ev, nil
			}
			if err == io.EOF {
				return Event{}, io.EOF
			}
			continue
		}

		d.consume(line)

		if err == io.EOF {
			if ev, ok := d.flush(); ok {
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

func (d *Decoder) consume(line string) {
	switch {
	case strings.HasPrefix(line, ":"):
		// Comment line; DashScope uses it to carry the chunk status.
		c := strings.TrimSpace(strings.TrimPrefix(line, ":"))
		if strings.HasPrefix(c, statusComment) {
			if code, err := strconv.Atoi(strings.TrimPrefix(c, statusComment)); err == nil {
				d.ev.Status = code
			}
		}
	case strings.HasPrefix(line, "id:"):
		d.ev.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
	case strings.HasPrefix(line, "event:"):
		d.ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		d.data = append(d.data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	}
}

// flush emits the buffered event, if any field of it was populated.
func (d *Decoder) flush() (Event, bool) {
	if len(d.data) == 0 && d.ev == (Event{}) {
		return Event{}, false
	}
	ev := d.ev
	ev.Data = strings.Join(d.data, "\n")
	d.ev = Event{}
	d.data = d.data[:0]
	return ev, true
}
