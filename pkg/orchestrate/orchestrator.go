package orchestrate

import (
	"context"
	"log/slog"

	"github.com/chatterlinx/frontdesk/pkg/booking"
	"github.com/chatterlinx/frontdesk/pkg/classify"
	"github.com/chatterlinx/frontdesk/pkg/fallback"
	"github.com/chatterlinx/frontdesk/pkg/normalize"
	"github.com/chatterlinx/frontdesk/pkg/session"
	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/triage"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// classifierConfidence is the fixed confidence assigned to slots pulled
// out by the pattern classifier. LLM extractions carry their own.
const classifierConfidence = 0.75

// safeReply is the answer of last resort when every tier failed.
const safeReply = "I want to make sure I help you with the right thing. Could you tell me a bit more about what you need?"

// ackReply acknowledges a micro-utterance without advancing anything.
const ackReply = "Okay."

// Reasoner is the tier-3 hook. Satisfied by *fallback.Reasoner.
type Reasoner interface {
	Decide(ctx context.Context, in fallback.Input) (fallback.Decision, error)
}

// Orchestrator turns stage outputs into the single action for the turn.
// Local tiers always win over the model: the reasoner runs only when
// nothing deterministic applied.
type Orchestrator struct {
	booking  *booking.Handler
	reasoner Reasoner
	log      *slog.Logger
}

func New(bk *booking.Handler, reasoner Reasoner, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{booking: bk, reasoner: reasoner, log: log}
}

// TurnInput is everything the earlier stages produced for one turn.
// Session is held locked by the caller.
type TurnInput struct {
	Session *session.Session
	Config  *tenantcfg.Config
	Norm    normalize.Result
	Class   classify.Outcome
	Triage  triage.Result

	// OnFallback, when set, is invoked after every tier-3 consultation
	// with the model's decision or the error that made it unusable.
	OnFallback func(dec fallback.Decision, err error)
}

// Decide resolves the turn. Mutations to the session (slots, consent,
// state) happen here and in the booking handler; the caller persists
// nothing until Decide returns.
func (o *Orchestrator) Decide(ctx context.Context, in TurnInput) turns.Decision {
	sess, cfg := in.Session, in.Config

	// Kill switch: the tenant turned the pipeline off. The gateway layer
	// decides what the caller hears; the pipeline itself does nothing.
	if cfg.Disabled {
		return turns.Decision{Action: turns.ActionNoOp, Source: turns.SourceDirect}
	}

	sess.MergeExtracted(in.Class.Slots, classifierConfidence)

	// Micro-utterances never reach matching. The only ones that carry
	// meaning are yes/no while a consent read-back is outstanding.
	if in.Norm.Micro {
		if sess.AwaitingConsent && (in.Norm.Affirmative || in.Norm.Negative) {
			return o.bookingStep(ctx, in)
		}
		return turns.Decision{Action: turns.ActionNoOp, Reply: ackReply, Source: turns.SourceDirect}
	}

	if in.Class.Signals.Emergency {
		return turns.Decision{
			Action:         turns.ActionEscalate,
			Reply:          "That sounds like an emergency. I'm connecting you with our team right now. If anyone is in danger, please hang up and call 911.",
			Source:         turns.SourceDirect,
			TransferTarget: cfg.EscalationTarget,
		}
	}

	if sess.AwaitingConsent {
		return o.bookingStep(ctx, in)
	}

	if in.Class.Intent == turns.IntentBooking || in.Class.Signals.WantsBooking {
		return o.bookingStep(ctx, in)
	}

	if in.Triage.Matched() {
		source := turns.SourceTriageTier2
		if in.Triage.Tier == 1 {
			source = turns.SourceTriageTier1
		}
		action := in.Triage.Action
		if !action.Valid() {
			action = turns.ActionAnswerKnowledge
		}
		return turns.Decision{
			Action:     action,
			Reply:      in.Triage.Response,
			Source:     source,
			Confidence: in.Triage.Confidence,
			ScenarioID: in.Triage.ScenarioID,
		}
	}

	// Mid-booking turns that matched nothing are slot answers.
	if sess.BookingStarted && sess.AppointmentRef == "" {
		return o.bookingStep(ctx, in)
	}

	if in.Class.Signals.TrustConcern {
		return turns.Decision{
			Action: turns.ActionAnswerKnowledge,
			Reply:  "I'm the automated assistant for the office, and I can book a real technician for you or pass you to a person any time. How can I help?",
			Source: turns.SourceDirect,
		}
	}

	return o.fallbackStep(ctx, in)
}

func (o *Orchestrator) bookingStep(ctx context.Context, in TurnInput) turns.Decision {
	sess := in.Session
	sess.BookingStarted = true
	affirmative, negative := in.Norm.Affirmative, in.Norm.Negative
	if sess.AwaitingConsent && !affirmative && !negative {
		// Read-back answers often wrap the yes in extra words
		// ("yes please book it"); a bare whitelist match misses those.
		switch {
		case classify.Consents(in.Norm.Text):
			affirmative = true
		case classify.Declines(in.Norm.Text):
			negative = true
		}
	}
	dec, err := o.booking.Proceed(ctx, sess, in.Config, affirmative, negative)
	if err != nil {
		o.log.Error("booking_step_failed", "call_id", sess.CallID, "error", err)
		return turns.Decision{
			Action:         turns.ActionEscalate,
			Reply:          "I'm having trouble booking that right now. Let me get someone on the line for you.",
			Source:         turns.SourceDirect,
			TransferTarget: in.Config.EscalationTarget,
		}
	}
	return dec
}

// fallbackStep consults the model, folds its extractions into the
// session, and degrades to a safe clarifying question when the model
// times out or returns garbage.
func (o *Orchestrator) fallbackStep(ctx context.Context, in TurnInput) turns.Decision {
	sess := in.Session
	if o.reasoner == nil {
		return safeDecision()
	}
	dec, err := o.reasoner.Decide(ctx, fallback.Input{
		CallID:         sess.CallID,
		Utterance:      in.Norm.Text,
		ConfirmedSlots: sess.ConfirmedSlots(),
		PendingSlots:   sess.PendingSlots(),
		Facts:          in.Config.Guardrails.Facts,
	})
	if in.OnFallback != nil {
		in.OnFallback(dec, err)
	}
	if err != nil {
		o.log.Warn("fallback_unusable", "call_id", sess.CallID, "error", err)
		return safeDecision()
	}

	sess.MergeExtracted(dec.ExtractedSlots, dec.Confidence)

	switch dec.Action {
	case turns.ActionInitiateBooking:
		return o.bookingStep(ctx, in)
	case turns.ActionEscalate:
		return turns.Decision{
			Action:         turns.ActionEscalate,
			Reply:          dec.NextPrompt,
			Source:         turns.SourceFallbackLLM,
			Confidence:     dec.Confidence,
			TransferTarget: in.Config.EscalationTarget,
		}
	default:
		return turns.Decision{
			Action:     dec.Action,
			Reply:      dec.NextPrompt,
			Source:     turns.SourceFallbackLLM,
			Confidence: dec.Confidence,
			Slots:      dec.ExtractedSlots,
		}
	}
}

func safeDecision() turns.Decision {
	return turns.Decision{
		Action: turns.ActionAskQuestion,
		Reply:  safeReply,
		Source: turns.SourceDirect,
	}
}
