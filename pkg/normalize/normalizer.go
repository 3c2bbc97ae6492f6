package normalize

import (
	"regexp"
	"strings"
)

// Config controls utterance cleanup. FillerWords come from tenant
// configuration; the acknowledgement whitelist is shared.
type Config struct {
	FillerWords      []string
	MinRunes         int
	Acknowledgements []string
}

// Result is the cleaned utterance plus the micro-utterance verdict.
// Micro-utterances short-circuit the pipeline before any matching runs.
type Result struct {
	Text        string
	Micro       bool
	Affirmative bool
	Negative    bool
}

var affirmatives = []string{
	"yes", "yeah", "yep", "yup", "ok", "okay", "sure", "right", "correct",
	"uh huh", "mm-hmm", "mhm", "got it", "sounds good", "please do",
	"go ahead", "thanks", "thank you",
}

var negatives = []string{
	"no", "nope", "nah", "not yet", "no thanks", "no thank you",
}

// Normalizer strips filler words, collapses whitespace, and flags
// micro-utterances.
type Normalizer struct {
	fillerRes []*regexp.Regexp
	minRunes  int
	acks      map[string]bool
	affirm    map[string]bool
	negate    map[string]bool
}

func New(cfg Config) *Normalizer {
	n := &Normalizer{
		minRunes: cfg.MinRunes,
		acks:     make(map[string]bool),
		affirm:   make(map[string]bool),
		negate:   make(map[string]bool),
	}
	if n.minRunes <= 0 {
		n.minRunes = 3
	}
	for _, w := range cfg.FillerWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		// whole-token match only: stripping "um" must not mangle "number"
		n.fillerRes = append(n.fillerRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	acks := cfg.Acknowledgements
	if len(acks) == 0 {
		acks = append(append([]string{}, affirmatives...), negatives...)
	}
	for _, a := range acks {
		n.acks[canonical(a)] = true
	}
	for _, a := range affirmatives {
		n.affirm[canonical(a)] = true
	}
	for _, a := range negatives {
		n.negate[canonical(a)] = true
	}
	return n
}

// Normalize cleans raw utterance text and classifies micro-utterances.
func (n *Normalizer) Normalize(raw string) Result {
	text := strings.ToLower(strings.TrimSpace(raw))
	for _, re := range n.fillerRes {
		text = re.ReplaceAllString(text, " ")
	}
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		// drop punctuation orphaned by filler removal
		if strings.Trim(f, ".,!?;:") == "" {
			continue
		}
		kept = append(kept, f)
	}
	text = strings.Join(kept, " ")

	key := canonical(text)
	res := Result{Text: text}
	if n.acks[key] || len([]rune(key)) < n.minRunes {
		res.Micro = true
	}
	if n.affirm[key] {
		res.Affirmative = true
	}
	if n.negate[key] {
		res.Negative = true
	}
	return res
}

func canonical(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,!?")
	return strings.Join(strings.Fields(s), " ")
}
