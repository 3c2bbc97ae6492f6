package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigLoad     ReasonCode = "config_load"
	ReasonConfigInvalid  ReasonCode = "config_invalid"
	ReasonConfigNotFound ReasonCode = "config_not_found"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMTimeout   ReasonCode = "llm_timeout"
	ReasonLLMParse     ReasonCode = "llm_parse"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonSessionStore     ReasonCode = "session_store"
	ReasonSessionState     ReasonCode = "session_state"
	ReasonAppointmentStore ReasonCode = "appointment_store"
	ReasonBookingDuplicate ReasonCode = "booking_duplicate"

	ReasonGatewayInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonGatewayBadRequest       ReasonCode = "gateway_bad_request"
)
