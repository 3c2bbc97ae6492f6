package llm

import "context"

// Message is one prompt message in provider-neutral form.
type Message struct {
	Role    string
	Content string
}

// Context is the bounded prompt handed to a provider for one turn.
type Context struct {
	System    string
	Messages  []Message
	MaxTokens int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// LLMAdapter is the provider-neutral surface the fallback reasoner calls.
// One Generate per turn; the caller owns timeout and cancellation via ctx.
type LLMAdapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	Name() string
}
