package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/chatterlinx/frontdesk/pkg/turns"
)

type stubHandler struct {
	reply turns.Reply
	err   error
	last  turns.Utterance
	ended []string
	turns int
}

func (s *stubHandler) HandleTurn(ctx context.Context, utt turns.Utterance) (turns.Reply, error) {
	s.last = utt
	s.turns++
	return s.reply, s.err
}

func (s *stubHandler) EndCall(callID string) {
	s.ended = append(s.ended, callID)
}

func TestHandleTurnJSON(t *testing.T) {
	stub := &stubHandler{reply: turns.Reply{
		Text:   "Can I get your name, please?",
		Action: turns.ActionAskQuestion,
	}}
	srv := New(Config{}, stub, nil)

	body, _ := json.Marshal(turns.Utterance{CallID: "call-1", TenantID: "acme-hvac", Text: "i need an appointment"})
	req := httptest.NewRequest(http.MethodPost, "/turn", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleTurn(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var reply turns.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Action != turns.ActionAskQuestion {
		t.Fatalf("action: %s", reply.Action)
	}
	if stub.last.CallID != "call-1" || stub.last.TenantID != "acme-hvac" {
		t.Fatalf("utterance not forwarded: %+v", stub.last)
	}
}

func TestHandleTurnFailsClosed(t *testing.T) {
	stub := &stubHandler{err: errors.New("db unavailable")}
	srv := New(Config{}, stub, nil)

	body, _ := json.Marshal(turns.Utterance{CallID: "call-1", TenantID: "acme-hvac", Text: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/turn", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleTurn(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("fail-closed must still answer 200, got %d", rec.Code)
	}
	var reply turns.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Action != turns.ActionEscalate {
		t.Fatalf("fail-closed reply should escalate, got %s", reply.Action)
	}
	if reply.Text == "" {
		t.Fatal("fail-closed reply must say something")
	}
}

func TestHandleTurnRejectsBadJSON(t *testing.T) {
	srv := New(Config{}, &stubHandler{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.handleTurn(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestHandleTurnRejectsGet(t *testing.T) {
	srv := New(Config{}, &stubHandler{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/turn", nil)
	rec := httptest.NewRecorder()
	srv.handleTurn(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestTwilioTurnRequiresSignature(t *testing.T) {
	stub := &stubHandler{}
	srv := New(Config{AuthToken: "secret"}, stub, nil)

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/turn?tenant=acme-hvac", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.handleTwilioTurn(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unsigned webhook should be rejected, got %d", rec.Code)
	}
	if stub.turns != 0 {
		t.Fatal("unsigned webhook must not reach the engine")
	}
}

func TestTwilioTurnRendersTwiML(t *testing.T) {
	stub := &stubHandler{reply: turns.Reply{
		Text:   "What's the service address?",
		Action: turns.ActionAskQuestion,
	}}
	srv := New(Config{}, stub, nil)

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"my ac is broken"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/turn?tenant=acme-hvac", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.handleTwilioTurn(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Say>What&apos;s the service address?</Say>") {
		t.Fatalf("missing say: %s", body)
	}
	if !strings.Contains(body, `<Gather input="speech"`) {
		t.Fatalf("missing gather: %s", body)
	}
	if stub.last.CallID != "CA1" || stub.last.TenantID != "acme-hvac" {
		t.Fatalf("utterance: %+v", stub.last)
	}
}

func TestTwilioTurnEscalationDialsOut(t *testing.T) {
	stub := &stubHandler{reply: turns.Reply{
		Text:           "Connecting you now.",
		Action:         turns.ActionEscalate,
		TransferTarget: "+15550100",
	}}
	srv := New(Config{}, stub, nil)

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"gas leak"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/turn?tenant=acme-hvac", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.handleTwilioTurn(rec, req)

	if !strings.Contains(rec.Body.String(), "<Dial>+15550100</Dial>") {
		t.Fatalf("missing dial: %s", rec.Body.String())
	}
}

func TestStatusCallbackEndsCall(t *testing.T) {
	stub := &stubHandler{}
	srv := New(Config{}, stub, nil)

	form := url.Values{"CallSid": {"CA9"}, "CallStatus": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.handleStatusCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(stub.ended) != 1 || stub.ended[0] != "CA9" {
		t.Fatalf("end call not forwarded: %v", stub.ended)
	}
}

func TestBuildTwiMLHangup(t *testing.T) {
	out := buildTwiML(turns.Reply{Text: "Goodbye.", Action: turns.ActionEndCall}, "https://x/turn")
	if !strings.Contains(out, "<Hangup/>") {
		t.Fatalf("missing hangup: %s", out)
	}
	if strings.Contains(out, "<Gather") {
		t.Fatalf("hangup must not gather: %s", out)
	}
}
