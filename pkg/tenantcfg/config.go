package tenantcfg

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatterlinx/frontdesk/pkg/configutil"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Scenario is one curated trigger -> response rule in a tenant's
// knowledge library. Immutable for the duration of a call.
type Scenario struct {
	ID            string   `mapstructure:"id"`
	Category      string   `mapstructure:"category"`
	TriggerTerms  []string `mapstructure:"trigger_terms"`
	ExcludeTerms  []string `mapstructure:"exclude_terms"`
	Canonical     string   `mapstructure:"canonical"`
	Response      string   `mapstructure:"response"`
	Action        string   `mapstructure:"action"`
	MinConfidence float64  `mapstructure:"min_confidence"`
	Priority      int      `mapstructure:"priority"`
	Enabled       *bool    `mapstructure:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (s Scenario) IsEnabled() bool {
	return configutil.BoolValue(s.Enabled, true)
}

// ReplyAction is the action a match on this scenario should produce.
// Most scenarios answer; a clarifying scenario may ask instead.
func (s Scenario) ReplyAction() turns.Action {
	if s.Action == "" {
		return turns.ActionAnswerKnowledge
	}
	return turns.Action(s.Action)
}

// ConsentPolicy controls whether booking requires an explicit affirmative.
type ConsentPolicy struct {
	RequireExplicitConfirmation bool   `mapstructure:"require_explicit_confirmation"`
	ConfirmationPrompt          string `mapstructure:"confirmation_prompt"`
}

// GuardrailPolicy carries the tenant-supplied facts that back claims the
// agent is allowed to make. A claim without a matching fact never reaches
// the caller.
type GuardrailPolicy struct {
	Facts               map[string]string `mapstructure:"facts"`
	AllowedTopics       []string          `mapstructure:"allowed_topics"`
	RequiredDisclosures []string          `mapstructure:"required_disclosures"`
}

// HasFact reports whether any configured fact key contains the given
// fragment (case-insensitive).
func (g GuardrailPolicy) HasFact(fragment string) bool {
	fragment = strings.ToLower(fragment)
	for k := range g.Facts {
		if strings.Contains(strings.ToLower(k), fragment) {
			return true
		}
	}
	return false
}

// Detection lists the tenant-configured trigger phrases consumed by the
// frontline classifier.
type Detection struct {
	BookingPhrases     []string `mapstructure:"booking_phrases"`
	EmergencyPhrases   []string `mapstructure:"emergency_phrases"`
	TrustPhrases       []string `mapstructure:"trust_phrases"`
	FrustrationPhrases []string `mapstructure:"frustration_phrases"`
	RefusalPhrases     []string `mapstructure:"refusal_phrases"`
	ProblemPhrases     []string `mapstructure:"problem_phrases"`
	PricingPhrases     []string `mapstructure:"pricing_phrases"`
}

// Config is one tenant's active behavior configuration. A call resolves
// it once at session creation and never sees mid-call edits.
type Config struct {
	TenantID             string          `mapstructure:"tenant_id"`
	Version              int             `mapstructure:"version"`
	Disabled             bool            `mapstructure:"disabled"`
	FillerWords          []string        `mapstructure:"filler_words"`
	MinConfidence        float64         `mapstructure:"min_confidence"`
	RequiredBookingSlots []string        `mapstructure:"required_booking_slots"`
	EscalationTarget     string          `mapstructure:"escalation_target"`
	Scenarios            []Scenario      `mapstructure:"scenarios"`
	Consent              ConsentPolicy   `mapstructure:"consent"`
	Guardrails           GuardrailPolicy `mapstructure:"guardrails"`
	Detection            Detection       `mapstructure:"detection"`
	Voice                map[string]any  `mapstructure:"voice"`
}

// Validate rejects malformed configuration at load time so nothing
// half-formed reaches the turn hot path.
func (c *Config) Validate() error {
	if err := configutil.RequireString(c.TenantID, "tenant_id"); err != nil {
		return err
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence)
	}
	seen := make(map[string]bool, len(c.Scenarios))
	for i, s := range c.Scenarios {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("scenarios[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("scenarios[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if len(s.TriggerTerms) == 0 && strings.TrimSpace(s.Canonical) == "" {
			return fmt.Errorf("scenario %q: needs trigger_terms or canonical", s.ID)
		}
		if s.MinConfidence < 0 || s.MinConfidence > 1 {
			return fmt.Errorf("scenario %q: min_confidence out of range", s.ID)
		}
		if s.Action != "" && !turns.Action(s.Action).Valid() {
			return fmt.Errorf("scenario %q: unknown action %q", s.ID, s.Action)
		}
	}
	if _, err := c.VoiceSettings(); err != nil {
		return err
	}
	return nil
}

// VoiceSettings are the telephony voice knobs carried per tenant.
type VoiceSettings struct {
	Voice           string `mapstructure:"voice"`
	Language        string `mapstructure:"language"`
	Greeting        string `mapstructure:"greeting"`
	SpeechTimeoutMS int    `mapstructure:"speech_timeout_ms"`
}

// SpeechTimeout is how long the gather waits for the caller to speak.
func (v VoiceSettings) SpeechTimeout() time.Duration {
	return configutil.MillisValue(v.SpeechTimeoutMS, 3*time.Second)
}

// VoiceSettings decodes and validates the free-form voice block.
func (c *Config) VoiceSettings() (VoiceSettings, error) {
	if err := configutil.ValidateSettings(c.Voice, configutil.Schema{
		Optional: []string{"voice", "language", "greeting", "speech_timeout_ms"},
	}); err != nil {
		return VoiceSettings{}, fmt.Errorf("voice: %w", err)
	}
	var vs VoiceSettings
	if err := configutil.DecodeSettings(c.Voice, &vs); err != nil {
		return VoiceSettings{}, fmt.Errorf("voice: %w", err)
	}
	return vs, nil
}

// EnabledScenarios returns the enabled scenarios in priority order
// (lower number wins ties first).
func (c *Config) EnabledScenarios() []Scenario {
	out := make([]Scenario, 0, len(c.Scenarios))
	for _, s := range c.Scenarios {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ScenarioThreshold resolves a scenario's tier-2 threshold, falling back
// to the tenant default.
func (c *Config) ScenarioThreshold(s Scenario) float64 {
	if s.MinConfidence > 0 {
		return s.MinConfidence
	}
	return configutil.FloatValue(c.MinConfidence, 0.6)
}
