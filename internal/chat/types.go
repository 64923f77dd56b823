// Package chat composes prompts, history and model calls into chat turns.
package chat

import "github.com/ashureev/chatrelay/internal/prompt"

// Canned replies.
const (
	ReplyEmptyMessage = "Please enter a message."
	ReplyApology      = "Sorry, something went wrong while preparing your request."
	errorReplyPrefix  = "An error occurred: "
)

// Request is one chat turn as received from a client.
type Request struct {
	SessionID string
	Message   string
	Tool      string
	Params    prompt.Params
}

// Reply is the result of a chat turn. Text is HTML-safe.
type Reply struct {
	Text      string
	SessionID string
	// Failed is set when the turn produced an error reply instead of a model reply.
	Failed bool
}

// PromptResolver turns a tool request into the prompt sent to the model.
type PromptResolver interface {
	Resolve(tool, message string, params prompt.Params) (string, error)
	Tools() []string
}

// Renderer converts raw model output into HTML-safe text.
type Renderer interface {
	Render(raw string) string
}

// Config holds orchestrator settings.
type Config struct {
	SystemPrompt  string
	HistoryWindow int
}

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely, using markdown where it helps readability."
