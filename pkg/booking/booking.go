package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatterlinx/frontdesk/pkg/appointments"
	"github.com/chatterlinx/frontdesk/pkg/errorsx"
	"github.com/chatterlinx/frontdesk/pkg/session"
	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Handler drives the booking flow for a call: collect the required
// slots, read them back for consent, then write exactly one appointment.
type Handler struct {
	store appointments.Store
	log   *slog.Logger
}

func New(store appointments.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, log: log}
}

// slotQuestions are the default prompts for missing required slots.
var slotQuestions = map[string]string{
	turns.SlotName:       "Can I get your name, please?",
	turns.SlotAddress:    "What's the service address?",
	turns.SlotProblem:    "Can you tell me a bit about the problem?",
	turns.SlotPhone:      "What's the best callback number for you?",
	turns.SlotTimeWindow: "What day and time works best for you?",
	turns.SlotUrgency:    "How urgent is this for you?",
}

// Proceed advances the booking flow one step. The caller holds the
// session lock. affirmative/negative describe the current utterance and
// only matter while a consent read-back is outstanding.
func (h *Handler) Proceed(ctx context.Context, sess *session.Session, cfg *tenantcfg.Config, affirmative, negative bool) (turns.Decision, error) {
	// A booked call never books again, no matter how the caller phrases it.
	if sess.AppointmentRef != "" {
		return turns.Decision{
			Action: turns.ActionAnswerKnowledge,
			Reply:  "You're all set, your appointment is already booked. Is there anything else I can help with?",
			Source: turns.SourceDirect,
		}, nil
	}

	if sess.AwaitingConsent {
		switch {
		case affirmative:
			sess.AwaitingConsent = false
			sess.ConsentGiven = true
			sess.ConfirmPending()
		case negative:
			sess.AwaitingConsent = false
			return turns.Decision{
				Action: turns.ActionAskQuestion,
				Reply:  "No problem, what should I change?",
				Source: turns.SourceDirect,
			}, nil
		default:
			return turns.Decision{
				Action: turns.ActionAskQuestion,
				Reply:  h.readBack(sess, cfg),
				Source: turns.SourceDirect,
			}, nil
		}
	}

	if missing := h.missingSlot(sess, cfg); missing != "" {
		question, ok := slotQuestions[missing]
		if !ok {
			question = fmt.Sprintf("Could you share your %s?", strings.ReplaceAll(missing, "_", " "))
		}
		return turns.Decision{
			Action: turns.ActionAskQuestion,
			Reply:  question,
			Source: turns.SourceDirect,
		}, nil
	}

	if cfg.Consent.RequireExplicitConfirmation && !sess.ConsentGiven {
		sess.AwaitingConsent = true
		return turns.Decision{
			Action: turns.ActionAskQuestion,
			Reply:  h.readBack(sess, cfg),
			Source: turns.SourceDirect,
		}, nil
	}

	// No consent gate configured: captured candidates are taken as-is.
	sess.ConfirmPending()
	return h.book(ctx, sess, cfg)
}

// book writes the appointment. A duplicate insert means another path
// already booked this call; it is absorbed by re-reading the row.
func (h *Handler) book(ctx context.Context, sess *session.Session, cfg *tenantcfg.Config) (turns.Decision, error) {
	// Existence check before create: a crashed process may have booked
	// this call without the session ever learning the ref.
	if existing, err := h.store.GetByCall(ctx, sess.TenantID, sess.CallID); err == nil {
		return h.confirmBooked(sess, existing)
	} else if !errors.Is(err, appointments.ErrNotFound) {
		return turns.Decision{}, err
	}

	slots := sess.ConfirmedSlots()
	appt := &appointments.Appointment{
		TenantID:   sess.TenantID,
		CallID:     sess.CallID,
		Slots:      slots,
		TimeWindow: slots[turns.SlotTimeWindow],
	}
	err := h.store.Create(ctx, appt)
	if errors.Is(err, appointments.ErrDuplicate) {
		existing, getErr := h.store.GetByCall(ctx, sess.TenantID, sess.CallID)
		if getErr != nil {
			return turns.Decision{}, errorsx.Wrap(fmt.Errorf("reread after duplicate: %w", getErr), errorsx.ReasonAppointmentStore)
		}
		appt = existing
	} else if err != nil {
		return turns.Decision{}, err
	}

	return h.confirmBooked(sess, appt)
}

func (h *Handler) confirmBooked(sess *session.Session, appt *appointments.Appointment) (turns.Decision, error) {
	sess.AppointmentRef = appt.ID
	if terr := sess.Transition(session.StateBooked); terr != nil {
		// Already terminal; the appointment still stands.
		h.log.Warn("booking_state_transition", "call_id", sess.CallID, "error", terr)
	}
	h.log.Info("appointment_booked",
		"call_id", sess.CallID,
		"tenant_id", sess.TenantID,
		"appointment_id", appt.ID,
	)

	return turns.Decision{
		Action: turns.ActionInitiateBooking,
		Reply:  "You're booked. We'll see you then, and you'll get a confirmation shortly. Anything else I can help with?",
		Source: turns.SourceDirect,
	}, nil
}

// missingSlot returns the first required slot not yet captured, in the
// tenant's configured order. Pending values count as captured here; the
// consent read-back is what promotes them.
func (h *Handler) missingSlot(sess *session.Session, cfg *tenantcfg.Config) string {
	confirmed := sess.ConfirmedSlots()
	pending := sess.PendingSlots()
	for _, name := range cfg.RequiredBookingSlots {
		if confirmed[name] == "" && pending[name] == "" {
			return name
		}
	}
	return ""
}

// readBack builds the consent prompt, substituting captured values into
// the tenant's template when one is configured.
func (h *Handler) readBack(sess *session.Session, cfg *tenantcfg.Config) string {
	values := sess.ConfirmedSlots()
	for name, v := range sess.PendingSlots() {
		if values[name] == "" {
			values[name] = v
		}
	}
	if tmpl := cfg.Consent.ConfirmationPrompt; tmpl != "" {
		out := tmpl
		for name, v := range values {
			out = strings.ReplaceAll(out, "{"+name+"}", v)
		}
		return out
	}
	parts := make([]string, 0, len(cfg.RequiredBookingSlots))
	for _, name := range cfg.RequiredBookingSlots {
		if v := values[name]; v != "" {
			parts = append(parts, v)
		}
	}
	return fmt.Sprintf("Just to confirm, I have %s. Shall I book that for you?", strings.Join(parts, ", "))
}
