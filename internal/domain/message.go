// Package domain contains core domain types for the chat relay.
package domain

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem is the per-request instruction. System messages are never stored.
	RoleSystem Role = "system"
	// RoleUser is a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant is a reply produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single chat message as sent to the inference provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
