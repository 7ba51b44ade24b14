package domain

// Role values accepted by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the use case
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body accepted by the chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatReply is the body returned by the chat endpoint on success.
type ChatReply struct {
	Reply string `json:"reply"`
}
