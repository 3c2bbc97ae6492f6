package triage

import (
	"math"
	"strings"

	"github.com/chatterlinx/frontdesk/pkg/classify"
	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Result is a scenario match from tier 1 or tier 2. The zero value means
// no match and the orchestrator must consult the fallback reasoner.
type Result struct {
	ScenarioID string
	Category   string
	Tier       int
	Confidence float64
	Response   string
	Action     turns.Action
}

// Matched reports whether a scenario was found.
func (r Result) Matched() bool { return r.ScenarioID != "" }

// Scorer computes a similarity confidence between an utterance and a
// scenario's canonical phrasing. Implementations are a replaceable
// strategy; only the contract (score comparable to a threshold) is fixed.
type Scorer interface {
	Score(utterance, canonical string) float64
}

// Matcher runs the two local tiers against a tenant's scenario library.
// No network calls in either tier.
type Matcher struct {
	scorer Scorer
}

func NewMatcher(scorer Scorer) *Matcher {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	return &Matcher{scorer: scorer}
}

// Match tries tier 1 (keyword) then tier 2 (similarity). Scenario order
// is tenant priority order; tier 1 takes the first full trigger match.
func (m *Matcher) Match(cfg *tenantcfg.Config, text string) Result {
	scenarios := cfg.EnabledScenarios()

	for _, s := range scenarios {
		if tier1Hit(s, text) {
			return Result{
				ScenarioID: s.ID,
				Category:   s.Category,
				Tier:       1,
				Confidence: 1,
				Response:   s.Response,
				Action:     s.ReplyAction(),
			}
		}
	}

	var best Result
	for _, s := range scenarios {
		canonical := canonicalText(s)
		if canonical == "" {
			continue
		}
		score := m.scorer.Score(text, canonical)
		if score < cfg.ScenarioThreshold(s) {
			continue
		}
		if score > best.Confidence {
			best = Result{
				ScenarioID: s.ID,
				Category:   s.Category,
				Tier:       2,
				Confidence: score,
				Response:   s.Response,
				Action:     s.ReplyAction(),
			}
		}
	}
	return best
}

// tier1Hit requires every trigger term present and every exclude term
// absent, on word boundaries.
func tier1Hit(s tenantcfg.Scenario, text string) bool {
	if len(s.TriggerTerms) == 0 {
		return false
	}
	for _, term := range s.TriggerTerms {
		if !classify.ContainsPhrase(text, term) {
			return false
		}
	}
	for _, term := range s.ExcludeTerms {
		if classify.ContainsPhrase(text, term) {
			return false
		}
	}
	return true
}

// canonicalText widens the scoring target with the scenario's trigger
// terms so tier 2 benefits from the same curated vocabulary.
func canonicalText(s tenantcfg.Scenario) string {
	parts := make([]string, 0, 1+len(s.TriggerTerms))
	if s.Canonical != "" {
		parts = append(parts, s.Canonical)
	}
	parts = append(parts, s.TriggerTerms...)
	return strings.Join(parts, " ")
}

// LexicalScorer is the default tier-2 strategy: token-overlap cosine over
// lowercased tokens with stopwords removed.
type LexicalScorer struct{}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "for": true,
	"i": true, "im": true, "in": true, "is": true, "it": true, "its": true,
	"my": true, "of": true, "on": true, "or": true, "so": true,
	"the": true, "to": true, "was": true, "with": true, "at": true,
}

func (LexicalScorer) Score(utterance, canonical string) float64 {
	a := tokenSet(utterance)
	b := tokenSet(canonical)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	overlap := 0
	for tok := range a {
		if b[tok] {
			overlap++
		}
	}
	return float64(overlap) / math.Sqrt(float64(len(a))*float64(len(b)))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:'\"")
		if f == "" || stopwords[f] {
			continue
		}
		out[f] = true
	}
	return out
}
