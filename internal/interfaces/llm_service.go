package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// LLMService defines the chat completion surface used by the summarizer.
// Implementations wrap a cloud provider (Claude, Gemini) behind their own
// rate limiting; retry classification is the caller's responsibility via the
// returned error kinds.
type LLMService interface {
	// Chat generates a completion response based on the conversation history.
	// The messages slice should contain the full conversation context in
	// chronological order, including system prompts.
	Chat(ctx context.Context, messages []Message) (string, error)

	// HealthCheck verifies the service is operational and can handle requests
	HealthCheck(ctx context.Context) error

	// Provider returns the provider identifier ("claude" or "gemini")
	Provider() string

	// Close releases resources and performs cleanup operations
	Close() error
}
