package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatterlinx/frontdesk/pkg/errorsx"
	"github.com/chatterlinx/frontdesk/pkg/providers/mock"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

func TestDecideParsesStructuredDecision(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Responses: []string{
		"```json\n{\"action\":\"ask_question\",\"nextPrompt\":\"What's the address?\",\"extractedSlots\":{\"problem\":\"no cold air\"},\"confidence\":0.8}\n```",
	}})
	r := NewReasoner(adapter, Config{}, nil)

	d, err := r.Decide(context.Background(), Input{CallID: "ca-1", Utterance: "no cold air upstairs"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Action != turns.ActionAskQuestion {
		t.Fatalf("action: %s", d.Action)
	}
	if d.NextPrompt != "What's the address?" {
		t.Fatalf("next prompt: %q", d.NextPrompt)
	}
	if d.ExtractedSlots["problem"] != "no cold air" {
		t.Fatalf("slots: %+v", d.ExtractedSlots)
	}
	if d.Confidence != 0.8 {
		t.Fatalf("confidence: %v", d.Confidence)
	}
}

func TestDecideReturnsParseErrorForNonJSON(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Responses: []string{"I think you should just call them back."}})
	r := NewReasoner(adapter, Config{}, nil)

	_, err := r.Decide(context.Background(), Input{CallID: "ca-2", Utterance: "hmm"})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.RawResponse == "" {
		t.Fatalf("raw response should be captured")
	}
	if errorsx.Reason(err) != errorsx.ReasonLLMParse {
		t.Fatalf("reason: %s", errorsx.Reason(err))
	}
}

func TestDecideRejectsInvalidAction(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Responses: []string{
		`{"action":"launch_rockets","nextPrompt":"ok","confidence":1}`,
	}})
	r := NewReasoner(adapter, Config{}, nil)
	if _, err := r.Decide(context.Background(), Input{CallID: "ca-3", Utterance: "x"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestDecideTimeoutReportedAsTimeout(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Delay: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	r := NewReasoner(adapter, Config{Timeout: 10 * time.Millisecond}, nil)

	_, err := r.Decide(context.Background(), Input{CallID: "ca-4", Utterance: "slow"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if errorsx.Reason(err) != errorsx.ReasonLLMTimeout {
		t.Fatalf("reason: %s", errorsx.Reason(err))
	}
}

func TestDecideCachesDuplicateDelivery(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Responses: []string{
		`{"action":"ask_question","nextPrompt":"Could you repeat that?","confidence":0.5}`,
	}})
	r := NewReasoner(adapter, Config{}, nil)

	in := Input{CallID: "ca-5", Utterance: "same words"}
	if _, err := r.Decide(context.Background(), in); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	if _, err := r.Decide(context.Background(), in); err != nil {
		t.Fatalf("second decide: %v", err)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("expected single model call, got %d", adapter.Calls())
	}
}
