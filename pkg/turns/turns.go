package turns

// Action is the single outcome the orchestrator picks for a turn.
type Action string

const (
	ActionAskQuestion     Action = "ask_question"
	ActionAnswerKnowledge Action = "answer_with_knowledge"
	ActionInitiateBooking Action = "initiate_booking"
	ActionEscalate        Action = "escalate_to_human"
	ActionEndCall         Action = "end_call"
	ActionNoOp            Action = "no_op"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAskQuestion, ActionAnswerKnowledge, ActionInitiateBooking,
		ActionEscalate, ActionEndCall, ActionNoOp:
		return true
	}
	return false
}

// MatchSource records where a turn's decision came from.
type MatchSource string

const (
	SourceTriageTier1 MatchSource = "triage-tier-1"
	SourceTriageTier2 MatchSource = "triage-tier-2"
	SourceFallbackLLM MatchSource = "fallback-llm"
	SourceDirect      MatchSource = "orchestrator-direct"
)

// Intent is the frontline classifier's coarse label for an utterance.
type Intent string

const (
	IntentBooking         Intent = "booking"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentPricing         Intent = "pricing"
	IntentEmergency       Intent = "emergency"
	IntentOther           Intent = "other"
)

// Signals are boolean cues extracted alongside the intent.
type Signals struct {
	WantsBooking     bool
	DescribesProblem bool
	TrustConcern     bool
	FeelsIgnored     bool
	RefusedSlot      bool
	Emergency        bool
}

// Well-known slot names accumulated across a call.
const (
	SlotName       = "name"
	SlotAddress    = "address"
	SlotProblem    = "problem"
	SlotUrgency    = "urgency"
	SlotTimeWindow = "time_window"
	SlotPhone      = "phone"
)

// Utterance is one recognized caller utterance as delivered by the
// telephony gateway.
type Utterance struct {
	CallID   string `json:"callId"`
	TenantID string `json:"tenantId"`
	Text     string `json:"utteranceText"`
	TurnSeq  int    `json:"turnSeq"`
}

// Decision is what the pipeline resolved a turn into: the action to take
// and the next thing to say.
type Decision struct {
	Action         Action
	Reply          string
	Source         MatchSource
	Confidence     float64
	ScenarioID     string
	Slots          map[string]string
	TransferTarget string
}

// Reply is the shape returned to the telephony gateway.
type Reply struct {
	Text           string `json:"replyText"`
	Action         Action `json:"action"`
	TransferTarget string `json:"transferTarget,omitempty"`
}
