package agent

import (
	"fmt"
	"strings"
)

// Message represents a chat message in the conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	Name       string     `json:"name,omitempty"`         // tool name when Role == "tool"
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ValidRole returns true if r is a known message role.
func ValidRole(r string) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// HistoryRole returns true if the role may appear in client-supplied
// chat history. Only persisted chat roles qualify.
func HistoryRole(r string) bool {
	return r == RoleUser || r == RoleAssistant
}

// Human creates a user message.
func Human(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// System creates a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AI creates an assistant message with optional tool calls.
//
//	AI("Sure, I can help.")  → plain response
//	AI("", tc1, tc2)         → tool-calling response
func AI(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMsg creates a tool result message.
//
//	ToolMsg("call_123", "calculate", "42")
func ToolMsg(toolCallID, name, output string) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: toolCallID, Name: name}
}

// Messages is an ordered list of messages.
type Messages []Message

// Last returns the last message, or a zero Message if empty.
func (m Messages) Last() Message {
	if len(m) == 0 {
		return Message{}
	}
	return m[len(m)-1]
}

// LastUser returns the content of the most recent user message.
func (m Messages) LastUser() string {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i].Role == RoleUser {
			return m[i].Content
		}
	}
	return ""
}

// ValidateHistory checks client-supplied history: only user and assistant
// roles, and no empty user turns.
func (m Messages) ValidateHistory() error {
	for i, msg := range m {
		if !HistoryRole(msg.Role) {
			return fmt.Errorf("message[%d]: role %q not allowed (must be \"user\" or \"assistant\")", i, msg.Role)
		}
		if msg.Role == RoleUser && strings.TrimSpace(msg.Content) == "" {
			return fmt.Errorf("message[%d]: content must not be empty", i)
		}
	}
	return nil
}

// Window keeps system messages plus the last n conversation messages,
// moving the cut forward so the kept conversation starts on a user
// message. If no user message remains after the cut, it moves back to the
// closest earlier one instead.
func (m Messages) Window(n int) Messages {
	var system, convo Messages
	for _, msg := range m {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			convo = append(convo, msg)
		}
	}
	if n <= 0 || len(convo) <= n {
		if len(convo) > 0 && convo[0].Role != RoleUser {
			convo = convo[startOnUser(convo, 0):]
		}
		return append(system, convo...)
	}

	start := startOnUser(convo, len(convo)-n)
	return append(system, convo[start:]...)
}

func startOnUser(convo Messages, from int) int {
	for i := from; i < len(convo); i++ {
		if convo[i].Role == RoleUser {
			return i
		}
	}
	for i := from - 1; i >= 0; i-- {
		if convo[i].Role == RoleUser {
			return i
		}
	}
	return from
}

// PrettyPrint returns a human-readable representation of the message chain.
func (m Messages) PrettyPrint() string {
	var sb strings.Builder
	for _, msg := range m {
		if msg.Role == RoleTool {
			fmt.Fprintf(&sb, "[%s: %s (call_id=%s)]\n", roleLabel(msg.Role), msg.Name, msg.ToolCallID)
		} else {
			fmt.Fprintf(&sb, "[%s]\n", roleLabel(msg.Role))
		}
		if msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&sb, "  → tool_call: %s(id=%s, args=%v)\n", tc.Name, tc.ID, tc.Args)
		}
	}
	return sb.String()
}

func roleLabel(role string) string {
	switch role {
	case RoleSystem:
		return "System"
	case RoleUser:
		return "Human"
	case RoleAssistant:
		return "AI"
	case RoleTool:
		return "Tool"
	default:
		return role
	}
}
