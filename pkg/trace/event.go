package trace

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Stage identifies which pipeline step produced an event.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageClassify  Stage = "classify"
	StageTriage    Stage = "triage"
	StageFallback  Stage = "fallback"
	StageDecide    Stage = "decide"
	StageGuardrail Stage = "guardrail"
	StageBook      Stage = "book"
	StageError     Stage = "error"
)

// Event is one structured decision record. The stream for a call is
// append-only and strictly ordered by turn.
type Event struct {
	ID          string       `json:"id"`
	CallID      string       `json:"callId"`
	TenantID    string       `json:"tenantId"`
	TurnSeq     int          `json:"turnSeq"`
	Stage       Stage        `json:"stage"`
	Action      turns.Action `json:"action,omitempty"`
	Confidence  float64      `json:"confidence,omitempty"`
	MatchSource string       `json:"matchSource,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	TimestampMs int64        `json:"timestampMs"`
}

// New stamps an event with an id and the current time.
func New(callID, tenantID string, turnSeq int, stage Stage) Event {
	return Event{
		ID:          uuid.NewString(),
		CallID:      callID,
		TenantID:    tenantID,
		TurnSeq:     turnSeq,
		Stage:       stage,
		TimestampMs: time.Now().UnixMilli(),
	}
}

// Emitter consumes trace events. RecordEvent must never block the turn.
type Emitter interface {
	RecordEvent(ev Event)
}

// Flusher is implemented by emitters with buffered output.
type Flusher interface {
	Flush() error
}

type NoopEmitter struct{}

func (NoopEmitter) RecordEvent(Event) {}
