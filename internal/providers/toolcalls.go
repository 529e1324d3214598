package providers

import (
	"encoding/json"
	"sort"
	"strings"
)

// toolCallAccumulator reassembles streamed tool-call fragments. Providers
// deliver the call id and name once and the JSON arguments in pieces, keyed
// by a block index.
type toolCallAccumulator struct {
	byIndex map[int]*partialToolCall
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*partialToolCall)}
}

// add merges one fragment into the call at index. Empty fields are fill-ins
// from later fragments and never overwrite earlier values.
func (a *toolCallAccumulator) add(index int, id, name, argsFragment string) {
	p, ok := a.byIndex[index]
	if !ok {
		p = &partialToolCall{}
		a.byIndex[index] = p
	}
	if id != "" {
		p.id = id
	}
	if name != "" {
		p.name = name
	}
	p.args.WriteString(argsFragment)
}

// calls finalizes the accumulated fragments in index order. Arguments that
// fail to parse as JSON degrade to an empty map; the tool's schema
// validation reports the problem downstream.
func (a *toolCallAccumulator) calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		p := a.byIndex[i]
		args := map[string]interface{}{}
		if raw := p.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]interface{}{}
			}
		}
		out = append(out, ToolCall{ID: p.id, Name: p.name, Arguments: args})
	}
	return out
}
