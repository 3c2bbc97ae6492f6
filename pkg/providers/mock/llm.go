package mock

import (
	"context"
	"sync"

	"github.com/chatterlinx/frontdesk/pkg/llm"
)

// LLMAdapter is a scripted adapter for tests and the examples. It
// returns Responses in order, repeating the last one, or a fixed error.
type LLMAdapter struct {
	mu        sync.Mutex
	responses []string
	err       error
	delay     func(ctx context.Context) error
	calls     int
}

type LLMConfig struct {
	Responses []string
	Err       error
	// Delay, when set, runs before answering; return ctx.Err() to
	// simulate a provider timing out.
	Delay func(ctx context.Context) error
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if len(cfg.Responses) == 0 && cfg.Err == nil {
		cfg.Responses = []string{`{"action":"ask_question","nextPrompt":"Could you tell me a bit more?","confidence":0.5}`}
	}
	return &LLMAdapter{responses: cfg.Responses, err: cfg.Err, delay: cfg.Delay}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, _ llm.Context) (llm.Response, error) {
	if a.delay != nil {
		if err := a.delay(ctx); err != nil {
			return llm.Response{}, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return llm.Response{}, a.err
	}
	idx := a.calls - 1
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	return llm.Response{Text: a.responses[idx], FinishReason: "stop"}, nil
}

// Calls reports how many times Generate ran.
func (a *LLMAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)
