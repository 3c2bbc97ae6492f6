package guardrail

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Violation is one guardrail hit on an outbound reply.
type Violation struct {
	Rule    string
	Matched string
}

// Result is the checked reply. Overridden means the decision's action
// was replaced, not just its wording.
type Result struct {
	Decision   turns.Decision
	Violations []Violation
	Overridden bool
}

// remedy is what a rule does when it fires without a backing fact.
type remedy int

const (
	// soften rewrites the sentence into a non-committal answer.
	soften remedy = iota
	// escalate hands the call to a human instead of replying.
	escalate
)

// Rule is one declarative outbound-claim check. FactKey names the
// tenant fact fragment that licenses the claim; a match with no such
// fact triggers the remedy.
type Rule struct {
	Name      string
	Pattern   *regexp.Regexp
	FactKey   string
	OnViolate remedy
	Softened  string
}

// Checker screens every outbound reply against the claim rules. Only
// tenant-configured facts may back a price, a time commitment, or a
// capability claim.
type Checker struct {
	rules []Rule
	log   *slog.Logger
}

var (
	priceRe      = regexp.MustCompile(`(?i)(\$\s?\d[\d,]*(\.\d{2})?|\b\d+\s?(dollars|bucks)\b|\bfree of charge\b|\bno charge\b)`)
	timeCommitRe = regexp.MustCompile(`(?i)\b(within \d+\s?(minutes|hours)|in \d+\s?(minutes|hours)|right away|immediately|today by \d)`)
	capabilityRe = regexp.MustCompile(`(?i)\b(we (can|will) (fix|repair|replace|install) (it|that|this|anything)( today| right now| immediately)?|guaranteed?|we guarantee)\b`)
)

func defaultRules() []Rule {
	return []Rule{
		{
			Name:      "price_claim",
			Pattern:   priceRe,
			FactKey:   "price",
			OnViolate: escalate,
		},
		{
			Name:      "time_commitment",
			Pattern:   timeCommitRe,
			FactKey:   "arrival",
			OnViolate: soften,
			Softened:  "I can't promise an exact time over the phone, but we'll get someone out as soon as we can.",
		},
		{
			Name:      "capability_claim",
			Pattern:   capabilityRe,
			FactKey:   "service",
			OnViolate: soften,
			Softened:  "Our technician will take a look and walk you through exactly what we can do.",
		},
	}
}

func New(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{rules: defaultRules(), log: log}
}

// NewWithRules builds a checker with an explicit rule set, for tenants
// that extend the defaults.
func NewWithRules(rules []Rule, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{rules: rules, log: log}
}

// Check screens a decision's reply claim by claim, whatever its source.
// Tenant scenario responses go through the same rules as LLM output: a
// curated reply can still carry a price the tenant's facts don't back.
func (c *Checker) Check(dec turns.Decision, policy tenantcfg.GuardrailPolicy, escalationTarget string) Result {
	out := Result{Decision: dec}
	if dec.Reply == "" {
		return out
	}

	for _, rule := range c.rules {
		match := rule.Pattern.FindString(dec.Reply)
		if match == "" {
			continue
		}
		if rule.FactKey != "" && policy.HasFact(rule.FactKey) {
			// The tenant vouches for this kind of claim.
			continue
		}
		out.Violations = append(out.Violations, Violation{Rule: rule.Name, Matched: match})

		switch rule.OnViolate {
		case escalate:
			c.log.Warn("guardrail_escalate", "rule", rule.Name)
			out.Decision = turns.Decision{
				Action:         turns.ActionEscalate,
				Reply:          "That's a great question about pricing. Let me connect you with someone who can give you an exact answer.",
				Source:         dec.Source,
				TransferTarget: escalationTarget,
			}
			out.Overridden = true
			return out
		case soften:
			c.log.Warn("guardrail_soften", "rule", rule.Name)
			out.Decision.Reply = rule.Softened
		}
	}
	return out
}

// ApplyDisclosures appends any required disclosures the reply does not
// already carry. Used on booking confirmations.
func ApplyDisclosures(reply string, policy tenantcfg.GuardrailPolicy) string {
	for _, d := range policy.RequiredDisclosures {
		if !strings.Contains(strings.ToLower(reply), strings.ToLower(d)) {
			reply = strings.TrimRight(reply, " ") + " " + d
		}
	}
	return reply
}
