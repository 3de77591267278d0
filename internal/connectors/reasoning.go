package connectors

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest один вызов модели рассуждений
type CompletionRequest struct {
	SystemPrompt string
	ModelID      string
	MaxTokens    int
	Messages     []Message
}

type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ReasoningClient адаптер к конкретному API модели. Реализации живут вне ядра.
type ReasoningClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
