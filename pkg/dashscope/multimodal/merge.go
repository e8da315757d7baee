package multimodal

import "strings"

// accumulator stitches incremental multimodal chunks together: the text
// parts of each choice's content are concatenated position by position,
// media parts are left alone.
type accumulator struct {
	choices map[int][]*strings.Builder
}

func newAccumulator() *accumulator {
	return &accumulator{choices: make(map[int][]*strings.Builder)}
}

func (a *accumulator) merge(out *Output) {
	if out == nil {
		return
	}
	for i := range out.Choices {
		ch := &out.Choices[i]
		idx := i
		if ch.Index != nil {
			idx = *ch.Index
		}
		parts := a.choices[idx]
		for len(parts) < len(ch.Message.Content) {
			parts = append(parts, &strings.Builder{})
		}
		for j := range ch.Message.Content {
			item := &ch.Message.Content[j]
			if item.Text == "" && parts[j].Len() == 0 {
				continue
			}
			parts[j].WriteString(item.Text)
			item.Text = parts[j].String()
		}
		a.choices[idx] = parts
	}
}
