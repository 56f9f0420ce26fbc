package agent

// EventKind names a StreamEvent.
type EventKind string

const (
	EventModelStart  EventKind = "on_chat_model_start"
	EventModelStream EventKind = "on_chat_model_stream"
	EventModelEnd    EventKind = "on_chat_model_end"
	EventToolStart   EventKind = "on_tool_start"
	EventToolEnd     EventKind = "on_tool_end"
	EventError       EventKind = "error"
	EventDone        EventKind = "done"
)

// StreamEvent is sent from the agent loop to the chat stream driver.
//
// Data payloads by kind:
//
//	on_chat_model_stream  {"chunk": {"content": "<delta>"}}
//	on_tool_start         {"input": <args>}
//	on_tool_end           {"output": <result>}
//	error                 {"error": "<message>"}
//	done                  {"chat_id": "<id>"}
type StreamEvent struct {
	Event  EventKind `json:"event"`
	Name   string    `json:"name,omitempty"` // tool name or model name
	RunID  string    `json:"run_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	ChatID string    `json:"chat_id,omitempty"` // set on "done" event
}
