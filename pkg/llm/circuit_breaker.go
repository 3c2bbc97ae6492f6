package llm

import (
	"context"
	"time"

	"github.com/chatterlinx/frontdesk/pkg/resilience"
)

// CircuitBreakerAdapter wraps an LLMAdapter so repeated timeouts or rate
// limits stop hitting the provider for a cooldown window. While open,
// Generate fails fast and the orchestrator falls back to its safe
// generic decision without waiting.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
}

func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	if !a.breaker.Allow() {
		return Response{}, resilience.RateLimitError{Provider: a.Name(), Message: "circuit open"}
	}
	resp, err := a.inner.Generate(ctx, input)
	if err != nil {
		a.breaker.OnError(err)
		return Response{}, err
	}
	a.breaker.OnSuccess()
	return resp, nil
}

var _ LLMAdapter = (*CircuitBreakerAdapter)(nil)
