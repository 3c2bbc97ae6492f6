package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chatterlinx/frontdesk/pkg/errorsx"
	"github.com/chatterlinx/frontdesk/pkg/llm"
	"github.com/chatterlinx/frontdesk/pkg/redact"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

// Decision is the structured outcome parsed from the model response.
type Decision struct {
	Action         turns.Action
	NextPrompt     string
	ExtractedSlots map[string]string
	Confidence     float64
}

// ParseError carries a bounded copy of the raw model output for
// diagnosis. Timeouts are reported the same way: the caller treats both
// as "the reasoner had nothing usable".
type ParseError struct {
	RawResponse string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fallback decision unparseable: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Config struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
	MaxRawLog int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2500 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
	if c.MaxRawLog <= 0 {
		c.MaxRawLog = 400
	}
	return c
}

// Input is everything the bounded prompt may contain. Nothing else from
// the session leaks to the model.
type Input struct {
	CallID         string
	Utterance      string
	ConfirmedSlots map[string]string
	PendingSlots   map[string]string
	Facts          map[string]string
}

// Reasoner is tier 3: consulted only when both local tiers miss. One
// model call per turn under a hard timeout, never a retry loop.
type Reasoner struct {
	adapter llm.LLMAdapter
	cfg     Config
	cache   *expirable.LRU[string, Decision]
	log     *slog.Logger
}

func NewReasoner(adapter llm.LLMAdapter, cfg Config, log *slog.Logger) *Reasoner {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Reasoner{
		adapter: adapter,
		cfg:     cfg,
		cache:   expirable.NewLRU[string, Decision](cfg.CacheSize, nil, cfg.CacheTTL),
		log:     log,
	}
}

// Decide builds the bounded prompt, calls the model once, and parses the
// response. Duplicate deliveries of the same utterance within the cache
// TTL reuse the previous decision instead of paying for a second call.
func (r *Reasoner) Decide(ctx context.Context, in Input) (Decision, error) {
	key := in.CallID + "\x00" + in.Utterance
	if d, ok := r.cache.Get(key); ok {
		return d, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.adapter.Generate(callCtx, llm.Context{
		System:   systemPrompt,
		Messages: []llm.Message{{Role: "user", Content: buildUserPrompt(in)}},
	})
	if err != nil {
		reason := errorsx.ReasonLLMGenerate
		if callCtx.Err() != nil {
			reason = errorsx.ReasonLLMTimeout
		}
		return Decision{}, errorsx.Wrap(&ParseError{Err: err}, reason)
	}

	decision, err := parseDecision(resp.Text)
	if err != nil {
		r.log.Warn("fallback_parse_error",
			"call_id", in.CallID,
			"error", err,
			"raw", redact.Text(truncate(resp.Text, r.cfg.MaxRawLog)),
		)
		return Decision{}, errorsx.Wrap(&ParseError{RawResponse: truncate(resp.Text, r.cfg.MaxRawLog), Err: err}, errorsx.ReasonLLMParse)
	}

	r.cache.Add(key, decision)
	return decision, nil
}

const systemPrompt = `You are the decision engine for a phone receptionist. ` +
	`Reply with a single JSON object and nothing else: ` +
	`{"action": one of "ask_question"|"answer_with_knowledge"|"initiate_booking"|"escalate_to_human"|"end_call", ` +
	`"nextPrompt": what to say next (plain spoken text, no markup), ` +
	`"extractedSlots": optional object of facts stated by the caller (name, address, problem, urgency, time_window), ` +
	`"confidence": 0..1}. ` +
	`Never state a price, arrival time, or capability that is not listed under FACTS. ` +
	`If the caller asks about something not covered by FACTS, ask a clarifying question or escalate.`

func buildUserPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("CALLER SAID: ")
	b.WriteString(in.Utterance)
	b.WriteString("\n\nKNOWN (confirmed):\n")
	writeSorted(&b, in.ConfirmedSlots)
	b.WriteString("\nUNCONFIRMED (pending):\n")
	writeSorted(&b, in.PendingSlots)
	b.WriteString("\nFACTS:\n")
	writeSorted(&b, in.Facts)
	return b.String()
}

func writeSorted(b *strings.Builder, m map[string]string) {
	if len(m) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, m[k])
	}
}

type decisionWire struct {
	Action         string            `json:"action"`
	NextPrompt     string            `json:"nextPrompt"`
	ExtractedSlots map[string]string `json:"extractedSlots"`
	Confidence     float64           `json:"confidence"`
}

func parseDecision(raw string) (Decision, error) {
	payload := cleanJSON(raw)
	var wire decisionWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Decision{}, err
	}
	action := turns.Action(wire.Action)
	if !action.Valid() || action == turns.ActionNoOp {
		return Decision{}, fmt.Errorf("invalid action %q", wire.Action)
	}
	if strings.TrimSpace(wire.NextPrompt) == "" {
		return Decision{}, fmt.Errorf("empty nextPrompt")
	}
	conf := wire.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Decision{
		Action:         action,
		NextPrompt:     wire.NextPrompt,
		ExtractedSlots: wire.ExtractedSlots,
		Confidence:     conf,
	}, nil
}

// cleanJSON strips markdown fences and surrounding chatter so a mostly
// well-behaved model response still parses.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
