package frontdesk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chatterlinx/frontdesk/pkg/appointments"
	"github.com/chatterlinx/frontdesk/pkg/errorsx"
	"github.com/chatterlinx/frontdesk/pkg/fallback"
	"github.com/chatterlinx/frontdesk/pkg/session"
	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/trace"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []trace.Event
}

func (c *captureEmitter) RecordEvent(ev trace.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureEmitter) byStage(stage trace.Stage) []trace.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []trace.Event
	for _, ev := range c.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}

type fakeReasoner struct {
	decision fallback.Decision
	err      error
	calls    int
}

func (f *fakeReasoner) Decide(ctx context.Context, in fallback.Input) (fallback.Decision, error) {
	f.calls++
	return f.decision, f.err
}

func hvacConfig() *tenantcfg.Config {
	return &tenantcfg.Config{
		TenantID:             "acme-hvac",
		Version:              3,
		FillerWords:          []string{"um", "uh", "like", "you know"},
		MinConfidence:        0.4,
		RequiredBookingSlots: []string{turns.SlotName, turns.SlotAddress, turns.SlotProblem},
		EscalationTarget:     "dispatch",
		Scenarios: []tenantcfg.Scenario{
			{
				ID:           "ac-not-cooling",
				Category:     "troubleshooting",
				TriggerTerms: []string{"ac", "not cooling"},
				Canonical:    "my ac is not cooling the house",
				Response:     "A clogged filter is the usual culprit. Try swapping it, and if the air still isn't cold we'll send a technician out.",
			},
		},
		Consent: tenantcfg.ConsentPolicy{RequireExplicitConfirmation: true},
	}
}

func testEngine(t *testing.T, cfg *tenantcfg.Config, r *fakeReasoner, emit trace.Emitter) (*Engine, *appointments.MemoryStore) {
	t.Helper()
	store := appointments.NewMemoryStore()
	eng, err := New(Options{
		Tenants:      tenantcfg.NewStaticSource(cfg),
		Appointments: store,
		Reasoner:     r,
		Emitter:      emit,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Sessions().Stop)
	return eng, store
}

func turn(t *testing.T, eng *Engine, callID, text string) turns.Reply {
	t.Helper()
	reply, err := eng.HandleTurn(context.Background(), turns.Utterance{
		CallID:   callID,
		TenantID: "acme-hvac",
		Text:     text,
	})
	if err != nil {
		t.Fatalf("turn %q: %v", text, err)
	}
	return reply
}

func TestHandleTurnTier1AnswerWithFillerText(t *testing.T) {
	r := &fakeReasoner{}
	emit := &captureEmitter{}
	eng, _ := testEngine(t, hvacConfig(), r, emit)

	reply := turn(t, eng, "call-1", "Um, my AC is, like, not cooling at all")
	if reply.Action != turns.ActionAnswerKnowledge {
		t.Fatalf("expected answer_with_knowledge, got %s", reply.Action)
	}
	if !strings.Contains(reply.Text, "filter") {
		t.Fatalf("expected the scenario response, got %q", reply.Text)
	}
	if r.calls != 0 {
		t.Fatal("tier-1 hit must not consult the model")
	}

	decides := emit.byStage(trace.StageDecide)
	if len(decides) != 1 {
		t.Fatalf("expected one decide event, got %d", len(decides))
	}
	if decides[0].MatchSource != string(turns.SourceTriageTier1) {
		t.Fatalf("match source: %q", decides[0].MatchSource)
	}
	if len(emit.byStage(trace.StageTriage)) != 1 {
		t.Fatal("expected a triage event")
	}
}

func TestHandleTurnBookingEndToEnd(t *testing.T) {
	r := &fakeReasoner{}
	eng, store := testEngine(t, hvacConfig(), r, &captureEmitter{})

	reply := turn(t, eng, "call-2", "hi, can you send someone out to take a look")
	if reply.Action != turns.ActionAskQuestion || !strings.Contains(strings.ToLower(reply.Text), "name") {
		t.Fatalf("expected name question, got %s %q", reply.Action, reply.Text)
	}
	reply = turn(t, eng, "call-2", "my name is jane doe")
	if !strings.Contains(strings.ToLower(reply.Text), "address") {
		t.Fatalf("expected address question, got %q", reply.Text)
	}
	reply = turn(t, eng, "call-2", "it's 12 oak street")
	if !strings.Contains(strings.ToLower(reply.Text), "problem") {
		t.Fatalf("expected problem question, got %q", reply.Text)
	}
	reply = turn(t, eng, "call-2", "the furnace is making noise at night")
	if reply.Action != turns.ActionAskQuestion || !strings.Contains(strings.ToLower(reply.Text), "confirm") {
		t.Fatalf("expected consent read-back, got %s %q", reply.Action, reply.Text)
	}

	reply = turn(t, eng, "call-2", "yes")
	if reply.Action != turns.ActionInitiateBooking {
		t.Fatalf("expected initiate_booking, got %s %q", reply.Action, reply.Text)
	}

	appt, err := store.GetByCall(context.Background(), "acme-hvac", "call-2")
	if err != nil {
		t.Fatalf("appointment not stored: %v", err)
	}
	if appt.Slots[turns.SlotName] != "jane doe" {
		t.Fatalf("name slot: %q", appt.Slots[turns.SlotName])
	}
	if appt.Slots[turns.SlotAddress] != "12 oak street" {
		t.Fatalf("address slot: %q", appt.Slots[turns.SlotAddress])
	}

	sess, ok := eng.Sessions().Get("call-2")
	if !ok {
		t.Fatal("session should survive booking")
	}
	if sess.State != session.StateBooked {
		t.Fatalf("state: %s", sess.State)
	}

	// A later "book me again" stays idempotent.
	reply = turn(t, eng, "call-2", "actually can you book an appointment for me")
	if reply.Action == turns.ActionInitiateBooking {
		t.Fatalf("repeat booking request must not book again, got %s", reply.Action)
	}
	if got, _ := store.GetByCall(context.Background(), "acme-hvac", "call-2"); got.ID != appt.ID {
		t.Fatalf("appointment replaced: %q vs %q", got.ID, appt.ID)
	}
}

func TestHandleTurnWrappedConsentBooks(t *testing.T) {
	r := &fakeReasoner{}
	eng, store := testEngine(t, hvacConfig(), r, &captureEmitter{})

	turn(t, eng, "call-10", "can you send someone out")
	turn(t, eng, "call-10", "my name is jane doe")
	turn(t, eng, "call-10", "it's 12 oak street")
	reply := turn(t, eng, "call-10", "the furnace is making noise at night")
	if !strings.Contains(strings.ToLower(reply.Text), "confirm") {
		t.Fatalf("expected consent read-back, got %q", reply.Text)
	}

	// The affirmative arrives wrapped in extra words, not as a bare yes.
	reply = turn(t, eng, "call-10", "yes please book it")
	if reply.Action != turns.ActionInitiateBooking {
		t.Fatalf("expected initiate_booking, got %s %q", reply.Action, reply.Text)
	}
	if _, err := store.GetByCall(context.Background(), "acme-hvac", "call-10"); err != nil {
		t.Fatalf("appointment not stored: %v", err)
	}
	if r.calls != 0 {
		t.Fatal("consent turn must not consult the model")
	}
}

func TestHandleTurnEmergencyEscalates(t *testing.T) {
	r := &fakeReasoner{}
	eng, _ := testEngine(t, hvacConfig(), r, &captureEmitter{})

	reply := turn(t, eng, "call-3", "i think there's a gas leak in the basement")
	if reply.Action != turns.ActionEscalate {
		t.Fatalf("expected escalate_to_human, got %s", reply.Action)
	}
	if reply.TransferTarget != "dispatch" {
		t.Fatalf("transfer target: %q", reply.TransferTarget)
	}
	sess, ok := eng.Sessions().Get("call-3")
	if !ok {
		t.Fatal("escalated session should stay live for the handoff")
	}
	if sess.State != session.StateEscalated {
		t.Fatalf("state: %s", sess.State)
	}
	if r.calls != 0 {
		t.Fatal("emergency must not consult the model")
	}
}

func TestHandleTurnGuardrailBlocksUnbackedPrice(t *testing.T) {
	r := &fakeReasoner{decision: fallback.Decision{
		Action:     turns.ActionAnswerKnowledge,
		NextPrompt: "A new compressor runs about $1,200 installed.",
		Confidence: 0.8,
	}}
	emit := &captureEmitter{}
	eng, _ := testEngine(t, hvacConfig(), r, emit)

	reply := turn(t, eng, "call-4", "what would a new compressor run me roughly")
	if reply.Action != turns.ActionEscalate {
		t.Fatalf("unbacked price must escalate, got %s %q", reply.Action, reply.Text)
	}
	if strings.Contains(reply.Text, "$1,200") {
		t.Fatalf("price leaked to caller: %q", reply.Text)
	}
	if len(emit.byStage(trace.StageGuardrail)) != 1 {
		t.Fatal("expected a guardrail event")
	}
}

func TestHandleTurnMicroUtteranceShortCircuits(t *testing.T) {
	r := &fakeReasoner{}
	emit := &captureEmitter{}
	eng, _ := testEngine(t, hvacConfig(), r, emit)

	reply := turn(t, eng, "call-5", "ok")
	if reply.Action != turns.ActionNoOp {
		t.Fatalf("expected no_op, got %s", reply.Action)
	}
	if reply.Text == "" {
		t.Fatal("micro-utterance should still get an acknowledgement")
	}
	if len(emit.byStage(trace.StageClassify)) != 0 || len(emit.byStage(trace.StageTriage)) != 0 {
		t.Fatal("micro-utterance must skip classify and triage")
	}
	if r.calls != 0 {
		t.Fatal("micro-utterance must not consult the model")
	}
}

func TestHandleTurnFallbackParseErrorTraced(t *testing.T) {
	r := &fakeReasoner{err: errorsx.Wrap(errors.New("no json object in response"), errorsx.ReasonLLMParse)}
	emit := &captureEmitter{}
	eng, _ := testEngine(t, hvacConfig(), r, emit)

	reply := turn(t, eng, "call-9", "there's this weird thing happening with the vents")
	if reply.Action != turns.ActionAskQuestion {
		t.Fatalf("parse failure should degrade to a question, got %s", reply.Action)
	}
	evs := emit.byStage(trace.StageFallback)
	if len(evs) != 1 {
		t.Fatalf("expected one fallback event, got %d", len(evs))
	}
	if evs[0].Reason != "fallback_decision_due_to_parse_error" {
		t.Fatalf("fallback reason: %q", evs[0].Reason)
	}
}

func TestHandleTurnEndCallTearsDownSession(t *testing.T) {
	r := &fakeReasoner{decision: fallback.Decision{
		Action:     turns.ActionEndCall,
		NextPrompt: "Thanks for calling, have a great day.",
		Confidence: 0.9,
	}}
	eng, _ := testEngine(t, hvacConfig(), r, &captureEmitter{})

	reply := turn(t, eng, "call-6", "that's everything i needed today thanks so much")
	if reply.Action != turns.ActionEndCall {
		t.Fatalf("expected end_call, got %s", reply.Action)
	}
	if _, ok := eng.Sessions().Get("call-6"); ok {
		t.Fatal("ended call should be removed from the store")
	}
}

func TestHandleTurnDisabledTenant(t *testing.T) {
	cfg := hvacConfig()
	cfg.Disabled = true
	eng, _ := testEngine(t, cfg, &fakeReasoner{}, &captureEmitter{})

	reply := turn(t, eng, "call-7", "hello i need some help with my heater")
	if reply.Action != turns.ActionNoOp {
		t.Fatalf("disabled tenant must no_op, got %s", reply.Action)
	}
}

func TestHandleTurnUnknownTenant(t *testing.T) {
	eng, _ := testEngine(t, hvacConfig(), &fakeReasoner{}, &captureEmitter{})
	_, err := eng.HandleTurn(context.Background(), turns.Utterance{
		CallID:   "call-8",
		TenantID: "nobody",
		Text:     "hello",
	})
	if err == nil {
		t.Fatal("unknown tenant should error")
	}
	if eng.Sessions().Count() != 0 {
		t.Fatal("failed resolve must not leave a session behind")
	}
}

func TestHandleTurnRejectsMissingIDs(t *testing.T) {
	eng, _ := testEngine(t, hvacConfig(), &fakeReasoner{}, &captureEmitter{})
	if _, err := eng.HandleTurn(context.Background(), turns.Utterance{Text: "hi"}); err == nil {
		t.Fatal("expected error for missing ids")
	}
}
