package session

import (
	"sync"
	"time"

	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/trace"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// TranscriptEntry is one line of the conversation.
type TranscriptEntry struct {
	Speaker string
	Text    string
	At      time.Time
}

// SlotValue is a candidate or confirmed fact with the confidence it was
// captured at. Confirmed slots never regress to lower confidence.
type SlotValue struct {
	Value      string
	Confidence float64
}

// Session is the mutable per-call state. It is owned by the call's turn
// processing: turns are strictly sequential, enforced by Lock/Unlock in
// the engine, and no other call ever touches it.
type Session struct {
	CallID    string
	TenantID  string
	CreatedAt time.Time
	ExpiresAt time.Time

	// Config is the tenant snapshot resolved when the call started.
	// Mid-call tenant edits never apply to a call already in flight.
	Config *tenantcfg.Config

	TurnSeq     int
	State       State
	Transcript  []TranscriptEntry
	MatchSource turns.MatchSource

	confirmed map[string]SlotValue
	pending   map[string]SlotValue

	// AppointmentRef is the single source of truth for "already booked".
	AppointmentRef string

	// BookingStarted marks that the booking flow has asked its first
	// question, so later turns are read as slot answers.
	BookingStarted bool

	// AwaitingConsent marks that the previous reply asked the caller to
	// confirm booking; observed affirmatives flip ConsentGiven.
	AwaitingConsent bool
	ConsentGiven    bool

	TraceEvents []trace.Event

	lastActive time.Time
	mu         sync.Mutex
}

func New(callID, tenantID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		CallID:     callID,
		TenantID:   tenantID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		State:      StateNew,
		confirmed:  make(map[string]SlotValue),
		pending:    make(map[string]SlotValue),
		lastActive: now,
	}
}

// Lock serializes turn processing for this call. Turns arrive one at a
// time from the telephony layer, but a gateway retry can overlap.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Transition moves the call to a new state, validating against the
// lifecycle table.
func (s *Session) Transition(to State) error {
	if !transitionValid(s.State, to) {
		return &InvalidTransitionError{From: s.State, To: to}
	}
	s.State = to
	return nil
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.lastActive = time.Now()
}

// IdleSince returns the last moment a turn was processed.
func (s *Session) IdleSince() time.Time {
	return s.lastActive
}

// AppendTranscript records one line of conversation.
func (s *Session) AppendTranscript(speaker, text string) {
	s.Transcript = append(s.Transcript, TranscriptEntry{
		Speaker: speaker,
		Text:    text,
		At:      time.Now(),
	})
}

// AppendTrace adds to the session's append-only event list.
func (s *Session) AppendTrace(ev trace.Event) {
	s.TraceEvents = append(s.TraceEvents, ev)
}

// ConfirmedSlots returns a copy of the verified facts.
func (s *Session) ConfirmedSlots() map[string]string {
	return flatten(s.confirmed)
}

// PendingSlots returns a copy of the unverified candidates.
func (s *Session) PendingSlots() map[string]string {
	return flatten(s.pending)
}

// HasConfirmed reports whether every named slot is confirmed.
func (s *Session) HasConfirmed(names ...string) bool {
	for _, n := range names {
		if _, ok := s.confirmed[n]; !ok {
			return false
		}
	}
	return true
}

// MergeExtracted folds newly extracted facts in. A fact lands in pending
// first; an identical re-extraction promotes it to confirmed. A confirmed
// value is only replaced by a different value at equal or higher
// confidence, never downgraded.
func (s *Session) MergeExtracted(slots map[string]string, confidence float64) {
	for name, value := range slots {
		if value == "" {
			continue
		}
		if cur, ok := s.confirmed[name]; ok {
			if cur.Value == value {
				if confidence > cur.Confidence {
					s.confirmed[name] = SlotValue{Value: value, Confidence: confidence}
				}
				continue
			}
			if confidence >= cur.Confidence {
				s.confirmed[name] = SlotValue{Value: value, Confidence: confidence}
			}
			continue
		}
		if cand, ok := s.pending[name]; ok && cand.Value == value {
			s.confirmed[name] = SlotValue{Value: value, Confidence: maxf(cand.Confidence, confidence)}
			delete(s.pending, name)
			continue
		}
		s.pending[name] = SlotValue{Value: value, Confidence: confidence}
	}
}

// ConfirmPending promotes every pending slot, used when the caller
// explicitly confirms a read-back of what we captured.
func (s *Session) ConfirmPending() {
	for name, cand := range s.pending {
		if cur, ok := s.confirmed[name]; ok && cur.Confidence > cand.Confidence {
			continue
		}
		s.confirmed[name] = cand
	}
	s.pending = make(map[string]SlotValue)
}

func flatten(m map[string]SlotValue) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.Value
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
