package llm

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/chatterlinx/frontdesk/pkg/resilience"
)

type scriptedAdapter struct {
	errs  []error
	calls int
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Generate(ctx context.Context, _ Context) (Response, error) {
	idx := a.calls
	a.calls++
	if idx < len(a.errs) && a.errs[idx] != nil {
		return Response{}, a.errs[idx]
	}
	return Response{Text: "ok"}, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{
		resilience.RateLimitError{Provider: "scripted", Message: "429"},
		resilience.RateLimitError{Provider: "scripted", Message: "429"},
	}}
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		if _, err := a.Generate(context.Background(), Context{}); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	// Open now: the provider must not see the next call.
	before := inner.calls
	_, err := a.Generate(context.Background(), Context{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("open breaker should fail fast with a rate limit error, got %v", err)
	}
	if inner.calls != before {
		t.Fatal("open breaker must not call the provider")
	}
}

func TestCircuitBreakerClosesOnSuccess(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{
		resilience.RateLimitError{Provider: "scripted", Message: "429"},
	}}
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(3, time.Hour))

	_, _ = a.Generate(context.Background(), Context{})
	if resp, err := a.Generate(context.Background(), Context{}); err != nil || resp.Text != "ok" {
		t.Fatalf("expected success, got %v %v", resp, err)
	}
}

func TestRetryAdapterRetriesTransportErrors(t *testing.T) {
	var nerr net.Error = timeoutErr{}
	inner := &scriptedAdapter{errs: []error{nerr, nerr}}
	a := NewRetryAdapter(inner, RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(time.Duration) {},
	})

	resp, err := a.Generate(context.Background(), Context{})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("response: %q", resp.Text)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryAdapterDoesNotRetryRateLimits(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{
		resilience.RateLimitError{Provider: "scripted", Message: "429"},
	}}
	a := NewRetryAdapter(inner, RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(time.Duration) {},
	})

	if _, err := a.Generate(context.Background(), Context{}); err == nil {
		t.Fatal("expected failure")
	}
	if inner.calls != 1 {
		t.Fatalf("rate limit must not retry, got %d attempts", inner.calls)
	}
}

func TestRetrySingleAttemptPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	inner := &scriptedAdapter{errs: []error{boom}}
	a := NewRetryAdapter(inner, RetryConfig{MaxAttempts: 1})

	_, err := a.Generate(context.Background(), Context{})
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped original error, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("attempts: %d", inner.calls)
	}
}
