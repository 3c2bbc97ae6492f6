package frontdesk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chatterlinx/frontdesk/pkg/appointments"
	"github.com/chatterlinx/frontdesk/pkg/booking"
	"github.com/chatterlinx/frontdesk/pkg/classify"
	"github.com/chatterlinx/frontdesk/pkg/errorsx"
	"github.com/chatterlinx/frontdesk/pkg/fallback"
	"github.com/chatterlinx/frontdesk/pkg/guardrail"
	"github.com/chatterlinx/frontdesk/pkg/normalize"
	"github.com/chatterlinx/frontdesk/pkg/orchestrate"
	"github.com/chatterlinx/frontdesk/pkg/session"
	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/trace"
	"github.com/chatterlinx/frontdesk/pkg/triage"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Options wires the engine's collaborators. Tenants and Appointments
// are required; everything else has a working default.
type Options struct {
	Tenants      tenantcfg.Source
	Appointments appointments.Store
	Sessions     *session.Store
	Reasoner     orchestrate.Reasoner
	Emitter      trace.Emitter
	Logger       *slog.Logger
}

// Engine runs the per-turn pipeline: normalize, classify, triage,
// decide, guardrail. One utterance in, one reply out, with a trace
// event per stage.
type Engine struct {
	tenants  tenantcfg.Source
	sessions *session.Store
	orch     *orchestrate.Orchestrator
	check    *guardrail.Checker
	emit     trace.Emitter
	log      *slog.Logger

	// stages caches compiled per-tenant pipeline stages, keyed by
	// tenant id and config version.
	stages sync.Map
}

type callCloser interface {
	CloseCall(callID string)
}

func New(opts Options) (*Engine, error) {
	if opts.Tenants == nil {
		return nil, fmt.Errorf("engine requires a tenant config source")
	}
	if opts.Appointments == nil {
		return nil, fmt.Errorf("engine requires an appointment store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore(session.StoreConfig{}, opts.Logger)
	}
	if opts.Emitter == nil {
		opts.Emitter = trace.NoopEmitter{}
	}
	bk := booking.New(opts.Appointments, opts.Logger)
	return &Engine{
		tenants:  opts.Tenants,
		sessions: opts.Sessions,
		orch:     orchestrate.New(bk, opts.Reasoner, opts.Logger),
		check:    guardrail.New(opts.Logger),
		emit:     opts.Emitter,
		log:      opts.Logger,
	}, nil
}

// Sessions exposes the session store for lifecycle management.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// tenantStages are the compiled matchers for one tenant config version.
type tenantStages struct {
	norm  *normalize.Normalizer
	class *classify.Classifier
	match *triage.Matcher
}

func (e *Engine) stagesFor(cfg *tenantcfg.Config) *tenantStages {
	key := fmt.Sprintf("%s@%d", cfg.TenantID, cfg.Version)
	if v, ok := e.stages.Load(key); ok {
		return v.(*tenantStages)
	}
	st := &tenantStages{
		norm:  normalize.New(normalize.Config{FillerWords: cfg.FillerWords}),
		class: classify.New(cfg.Detection),
		match: triage.NewMatcher(triage.LexicalScorer{}),
	}
	actual, _ := e.stages.LoadOrStore(key, st)
	return actual.(*tenantStages)
}

// HandleTurn processes one caller utterance and returns the reply the
// gateway should speak. Turns for the same call are serialized on the
// session lock; concurrent calls never contend.
func (e *Engine) HandleTurn(ctx context.Context, utt turns.Utterance) (turns.Reply, error) {
	if strings.TrimSpace(utt.CallID) == "" || strings.TrimSpace(utt.TenantID) == "" {
		return turns.Reply{}, errorsx.Wrap(fmt.Errorf("utterance missing call or tenant id"), errorsx.ReasonGatewayBadRequest)
	}

	sess, _ := e.sessions.GetOrCreate(utt.CallID, utt.TenantID)
	sess.Lock()
	defer sess.Unlock()

	// Config resolves once per call and never refreshes mid-call.
	if sess.Config == nil {
		cfg, err := e.tenants.Snapshot(ctx, utt.TenantID)
		if err != nil {
			e.sessions.Delete(utt.CallID)
			return turns.Reply{}, errorsx.Wrap(fmt.Errorf("resolve tenant %s: %w", utt.TenantID, err), errorsx.ReasonConfigLoad)
		}
		sess.Config = cfg
	}
	cfg := sess.Config

	if sess.State == session.StateNew {
		if err := sess.Transition(session.StateInProgress); err != nil {
			return turns.Reply{}, errorsx.Wrap(err, errorsx.ReasonSessionState)
		}
	}
	sess.TurnSeq++
	sess.Touch()
	sess.AppendTranscript("caller", utt.Text)

	st := e.stagesFor(cfg)

	norm := st.norm.Normalize(utt.Text)
	e.record(sess, traceEvent(sess, trace.StageNormalize, func(ev *trace.Event) {
		if norm.Micro {
			ev.Reason = "micro_utterance"
		}
	}))

	var class classify.Outcome
	var tri triage.Result
	if !norm.Micro {
		class = st.class.Classify(norm.Text)
		e.record(sess, traceEvent(sess, trace.StageClassify, func(ev *trace.Event) {
			ev.Reason = string(class.Intent)
		}))

		tri = st.match.Match(cfg, norm.Text)
		e.record(sess, traceEvent(sess, trace.StageTriage, func(ev *trace.Event) {
			ev.Confidence = tri.Confidence
			ev.Reason = tri.ScenarioID
		}))
	}

	dec := e.orch.Decide(ctx, orchestrate.TurnInput{
		Session: sess,
		Config:  cfg,
		Norm:    norm,
		Class:   class,
		Triage:  tri,
		OnFallback: func(fdec fallback.Decision, err error) {
			e.record(sess, traceEvent(sess, trace.StageFallback, func(ev *trace.Event) {
				if err != nil {
					ev.Reason = fallbackFailureReason(err)
					return
				}
				ev.Action = fdec.Action
				ev.Confidence = fdec.Confidence
			}))
		},
	})

	res := e.check.Check(dec, cfg.Guardrails, cfg.EscalationTarget)
	if len(res.Violations) > 0 {
		e.record(sess, traceEvent(sess, trace.StageGuardrail, func(ev *trace.Event) {
			ev.Action = res.Decision.Action
			ev.Reason = res.Violations[0].Rule
		}))
	}
	dec = res.Decision

	if dec.Action == turns.ActionInitiateBooking {
		dec.Reply = guardrail.ApplyDisclosures(dec.Reply, cfg.Guardrails)
		e.record(sess, traceEvent(sess, trace.StageBook, func(ev *trace.Event) {
			ev.Reason = sess.AppointmentRef
		}))
	}

	e.applyStateFor(sess, dec)

	// The outcome event is the one write that must land before the
	// reply leaves, so it skips the async buffer when the emitter
	// supports that.
	e.recordSync(sess, traceEvent(sess, trace.StageDecide, func(ev *trace.Event) {
		ev.Action = dec.Action
		ev.Confidence = dec.Confidence
		ev.MatchSource = string(dec.Source)
	}))

	if dec.Reply != "" {
		sess.AppendTranscript("agent", dec.Reply)
	}

	if sess.State == session.StateEnded {
		e.endCall(sess)
	}

	return turns.Reply{
		Text:           dec.Reply,
		Action:         dec.Action,
		TransferTarget: dec.TransferTarget,
	}, nil
}

// EndCall tears down a call's session explicitly, for gateways that
// observe the hangup.
func (e *Engine) EndCall(callID string) {
	sess, ok := e.sessions.Get(callID)
	if !ok {
		return
	}
	sess.Lock()
	if !sess.State.Terminal() && sess.State != session.StateNew {
		if err := sess.Transition(session.StateEnded); err != nil {
			e.log.Warn("end_call_transition", "call_id", callID, "error", err)
		}
	}
	sess.Unlock()
	e.endCall(sess)
}

func (e *Engine) endCall(sess *session.Session) {
	if c, ok := e.emit.(callCloser); ok {
		c.CloseCall(sess.CallID)
	}
	e.sessions.Delete(sess.CallID)
	e.log.Info("call_ended",
		"call_id", sess.CallID,
		"tenant_id", sess.TenantID,
		"turns", sess.TurnSeq,
		"state", sess.State.String(),
	)
}

// applyStateFor moves the call lifecycle to match the decided action.
// Booking transitions happen inside the booking handler; escalation and
// hangup land here.
func (e *Engine) applyStateFor(sess *session.Session, dec turns.Decision) {
	var target session.State
	switch dec.Action {
	case turns.ActionEscalate:
		target = session.StateEscalated
	case turns.ActionEndCall:
		target = session.StateEnded
	default:
		return
	}
	if sess.State == target {
		return
	}
	if err := sess.Transition(target); err != nil {
		e.log.Warn("state_transition", "call_id", sess.CallID, "to", target.String(), "error", err)
	}
}

// fallbackFailureReason names why a tier-3 consultation produced no
// usable decision, for the turn trace.
func fallbackFailureReason(err error) string {
	switch errorsx.Reason(err) {
	case errorsx.ReasonLLMParse:
		return "fallback_decision_due_to_parse_error"
	case errorsx.ReasonLLMTimeout:
		return "fallback_decision_due_to_timeout"
	default:
		return "fallback_decision_due_to_provider_error"
	}
}

func traceEvent(sess *session.Session, stage trace.Stage, fill func(*trace.Event)) trace.Event {
	ev := trace.New(sess.CallID, sess.TenantID, sess.TurnSeq, stage)
	if fill != nil {
		fill(&ev)
	}
	return ev
}

func (e *Engine) record(sess *session.Session, ev trace.Event) {
	sess.AppendTrace(ev)
	e.emit.RecordEvent(ev)
}

type syncEmitter interface {
	RecordEventSync(ev trace.Event)
}

func (e *Engine) recordSync(sess *session.Session, ev trace.Event) {
	sess.AppendTrace(ev)
	if s, ok := e.emit.(syncEmitter); ok {
		s.RecordEventSync(ev)
		return
	}
	e.emit.RecordEvent(ev)
}
