// Package stream decodes and re-encodes the newline-delimited JSON records
// exchanged with the generator and the client.
package stream

import "encoding/json"

type EventType string

const (
	EventText     EventType = "text"
	EventToolCall EventType = "tool_call"
)

// Event is one wire record: a text delta or a tool call.
type Event struct {
	Type     EventType       `json:"type"`
	Content  string          `json:"content,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
}

func TextDelta(content string) Event {
	return Event{Type: EventText, Content: content}
}

// ToolCall builds a tool_call record, marshalling args when it is not raw JSON already.
func ToolCall(name string, args any) (Event, error) {
	raw, ok := args.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(args)
		if err != nil {
			return Event{}, err
		}
		raw = encoded
	}

	return Event{Type: EventToolCall, ToolName: name, Args: raw}, nil
}

// Sink receives events in arrival order.
type Sink interface {
	Emit(Event) error
}

type SinkFunc func(Event) error

func (f SinkFunc) Emit(ev Event) error {
	return f(ev)
}

// Discard is a sink that drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })
