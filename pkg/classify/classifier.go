package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Outcome is the frontline classifier's read on one normalized utterance.
type Outcome struct {
	Intent  turns.Intent
	Signals turns.Signals
	Slots   map[string]string
}

var defaultDetection = tenantcfg.Detection{
	BookingPhrases: []string{
		"book", "appointment", "schedule", "come out", "send someone",
		"set up a visit", "get someone out",
	},
	EmergencyPhrases: []string{
		"emergency", "gas leak", "smoke", "sparking", "burning smell",
		"flooding", "carbon monoxide",
	},
	TrustPhrases: []string{
		"are you a robot", "is this a real person", "i don't trust",
		"talk to a human", "real person",
	},
	FrustrationPhrases: []string{
		"you're not listening", "i already told you", "this is ridiculous",
		"third time", "not helping",
	},
	RefusalPhrases: []string{
		"i won't give", "not telling you", "rather not say", "none of your business",
	},
	ProblemPhrases: []string{
		"not cooling", "not working", "stopped working", "broken", "won't turn on",
		"leaking", "making noise", "blowing warm", "no heat", "not heating",
	},
	PricingPhrases: []string{
		"how much", "price", "cost", "estimate", "charge", "fee",
	},
}

var (
	addressRe = regexp.MustCompile(`\b\d{1,6} [a-z][a-z ]{0,30}?(?:street|st|avenue|ave|road|rd|drive|dr|lane|ln|boulevard|blvd|court|ct|way)\b`)
	nameRe    = regexp.MustCompile(`(?:my name is|my name's|this is) ([a-z]+(?: [a-z]+)?)`)
)

// Classifier is a pure, allocation-light signal extractor over tenant
// detection phrase lists. No network calls; sub-millisecond.
type Classifier struct {
	det tenantcfg.Detection
}

func New(det tenantcfg.Detection) *Classifier {
	merged := defaultDetection
	if len(det.BookingPhrases) > 0 {
		merged.BookingPhrases = det.BookingPhrases
	}
	if len(det.EmergencyPhrases) > 0 {
		merged.EmergencyPhrases = det.EmergencyPhrases
	}
	if len(det.TrustPhrases) > 0 {
		merged.TrustPhrases = det.TrustPhrases
	}
	if len(det.FrustrationPhrases) > 0 {
		merged.FrustrationPhrases = det.FrustrationPhrases
	}
	if len(det.RefusalPhrases) > 0 {
		merged.RefusalPhrases = det.RefusalPhrases
	}
	if len(det.ProblemPhrases) > 0 {
		merged.ProblemPhrases = det.ProblemPhrases
	}
	if len(det.PricingPhrases) > 0 {
		merged.PricingPhrases = det.PricingPhrases
	}
	return &Classifier{det: merged}
}

// Classify labels a normalized (lowercased) utterance.
func (c *Classifier) Classify(text string) Outcome {
	out := Outcome{Intent: turns.IntentOther, Slots: map[string]string{}}

	out.Signals.Emergency = matchesAny(text, c.det.EmergencyPhrases)
	out.Signals.WantsBooking = matchesAny(text, c.det.BookingPhrases)
	out.Signals.DescribesProblem = matchesAny(text, c.det.ProblemPhrases)
	out.Signals.TrustConcern = matchesAny(text, c.det.TrustPhrases)
	out.Signals.FeelsIgnored = matchesAny(text, c.det.FrustrationPhrases)
	out.Signals.RefusedSlot = matchesAny(text, c.det.RefusalPhrases)
	pricing := matchesAny(text, c.det.PricingPhrases)

	switch {
	case out.Signals.Emergency:
		out.Intent = turns.IntentEmergency
	case out.Signals.WantsBooking:
		out.Intent = turns.IntentBooking
	case pricing:
		out.Intent = turns.IntentPricing
	case out.Signals.DescribesProblem:
		out.Intent = turns.IntentTroubleshooting
	}

	if m := addressRe.FindString(text); m != "" {
		out.Slots[turns.SlotAddress] = m
	}
	if m := nameRe.FindStringSubmatch(text); len(m) == 2 {
		out.Slots[turns.SlotName] = m[1]
	}
	if out.Signals.DescribesProblem {
		out.Slots[turns.SlotProblem] = text
	}
	if out.Signals.Emergency {
		out.Slots[turns.SlotUrgency] = "high"
	}
	return out
}

// matchesAny checks phrases with word-boundary guards so "cool" never
// matches a trigger meant for "not cooling".
func matchesAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if ContainsPhrase(text, p) {
			return true
		}
	}
	return false
}

// consentPhrases accept an outstanding read-back even when wrapped in
// extra words ("yes please book it").
var consentPhrases = []string{
	"yes", "yeah", "yep", "yup", "book it", "go ahead", "sounds good",
	"that's right", "that is right", "correct", "please do",
}

// declinePhrases reject or amend an outstanding read-back.
var declinePhrases = []string{
	"no", "nope", "not yet", "don't", "do not", "hold on",
	"not right", "not correct", "wrong", "change",
}

// Declines reports whether text pushes back on a confirmation prompt.
func Declines(text string) bool {
	return matchesAny(text, declinePhrases)
}

// Consents reports whether text accepts a confirmation prompt. A
// declining phrase anywhere wins over an embedded "yes".
func Consents(text string) bool {
	if Declines(text) {
		return false
	}
	return matchesAny(text, consentPhrases)
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries.
func ContainsPhrase(text, phrase string) bool {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		if boundaryBefore(text, idx) && boundaryAfter(text, end) {
			return true
		}
		start = idx + 1
	}
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r := rune(text[idx-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r := rune(text[end])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
