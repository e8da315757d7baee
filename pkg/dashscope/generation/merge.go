package generation

import (
	"encoding/json"
	"strings"
)

/*
Accumulator stitches incremental stream chunks back into full messages.

When incremental_output is enabled, the service sends deltas: text fragments,
reasoning fragments, partial tool calls keyed by index, and logprob slices.
Merge mutates each Output in place so that after the call it looks like a
cumulative chunk:

  - output.text is concatenated when no choices are present
  - per choice (keyed by choice.index when provided, position otherwise):
    message content and reasoning_content are concatenated, tool calls are
    merged by their index (name and arguments fragments concatenated, other
    fields last-write-wins), and logprobs content is extended.

One Accumulator tracks one stream and is not safe for concurrent use.
*/
type Accumulator struct {
	choices map[int]*choiceState
}

type choiceState struct {
	content   strings.Builder
	reasoning strings.Builder
	toolCalls []ToolCall
	logprobs  []json.RawMessage
}

func NewAccumulator() *Accumulator {
	return &Accumulator{choices: make(map[int]*choiceState)}
}

// Merge folds one chunk into the accumulated state and rewrites the chunk to
// carry the accumulated values.
func (a *Accumulator) Merge(out *Output) {
	if out == nil {
		return
	}

	// output.text mode (result_format "text"): choice slot 0 keeps the
	// running text.
	if len(out.Choices) == 0 {
		if out.Text == "" {
			return
		}
		st := a.state(0)
		st.content.WriteString(out.Text)
		out.Text = st.content.String()
		return
	}

	for i := range out.Choices {
		ch := &out.Choices[i]
		idx := i
		if ch.Index != nil {
			idx = *ch.Index
		}
		st := a.state(idx)

		if ch.Message.Content != "" {
			st.content.WriteString(ch.Message.Content)
		}
		ch.Message.Content = st.content.String()

		if ch.Message.ReasoningContent != "" {
			st.reasoning.WriteString(ch.Message.ReasoningContent)
		}
		ch.Message.ReasoningContent = st.reasoning.String()

		if len(ch.Message.ToolCalls) > 0 {
			st.mergeToolCalls(ch.Message.ToolCalls)
		}
		if len(st.toolCalls) > 0 {
			ch.Message.ToolCalls = cloneToolCalls(st.toolCalls)
		}

		if ch.Logprobs != nil && len(ch.Logprobs.Content) > 0 {
			st.logprobs = append(st.logprobs, ch.Logprobs.Content...)
		}
		if len(st.logprobs) > 0 {
			ch.Logprobs = &Logprobs{Content: append([]json.RawMessage(nil), st.logprobs...)}
		}
	}
}

func (a *Accumulator) state(idx int) *choiceState {
	st, ok := a.choices[idx]
	if !ok {
		st = &choiceState{}
		a.choices[idx] = st
	}
	return st
}

func (st *choiceState) mergeToolCalls(calls []ToolCall) {
	for _, call := range calls {
		if call.Index == nil {
			// Calls without an index cannot be correlated across chunks;
			// keep them as-is.
			st.toolCalls = append(st.toolCalls, call)
			continue
		}
		existing := st.findCall(*call.Index)
		if existing == nil {
			st.toolCalls = append(st.toolCalls, copyCall(call))
			continue
		}
		if call.ID != "" {
			existing.ID = call.ID
		}
		if call.Type != "" {
			existing.Type = call.Type
		}
		if call.Function != nil {
			if existing.Function == nil {
				existing.Function = &FunctionCall{}
			}
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
		}
	}
}

func (st *choiceState) findCall(idx int) *ToolCall {
	for i := range st.toolCalls {
		if st.toolCalls[i].Index != nil && *st.toolCalls[i].Index == idx {
			return &st.toolCalls[i]
		}
	}
	return nil
}

func copyCall(call ToolCall) ToolCall {
	out := call
	if call.Index != nil {
		idx := *call.Index
		out.Index = &idx
	}
	if call.Function != nil {
		fn := *call.Function
		out.Function = &fn
	}
	return out
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, copyCall(call))
	}
	return out
}
