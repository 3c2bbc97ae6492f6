package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/chatterlinx/frontdesk/pkg/errorsx"
	"github.com/chatterlinx/frontdesk/pkg/turns"
)

type Config struct {
	ServerAddr      string   `mapstructure:"server_addr"`
	PublicURL       string   `mapstructure:"public_url"`
	AuthToken       string   `mapstructure:"auth_token"`
	TurnPath        string   `mapstructure:"turn_path"`
	WebsocketPath   string   `mapstructure:"ws_path"`
	TwilioVoicePath string   `mapstructure:"twilio_voice_path"`
	StatusPath      string   `mapstructure:"status_path"`
	AllowAnyOrigin  bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.TurnPath == "" {
		c.TurnPath = "/turn"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.TwilioVoicePath == "" {
		c.TwilioVoicePath = "/twilio/turn"
	}
	if c.StatusPath == "" {
		c.StatusPath = "/twilio/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// TurnHandler is the engine surface the gateway needs.
type TurnHandler interface {
	HandleTurn(ctx context.Context, utt turns.Utterance) (turns.Reply, error)
	EndCall(callID string)
}

// failClosedReply is spoken when the pipeline itself failed. The caller
// is never left in silence and never gets an improvised answer.
var failClosedReply = turns.Reply{
	Text:   "Please hold for just a moment while I connect you with our team.",
	Action: turns.ActionEscalate,
}

// Server exposes the turn pipeline over HTTP and websocket, plus the
// Twilio webhook surface for speech-gather integrations.
type Server struct {
	cfg      Config
	handler  TurnHandler
	log      *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	draining atomic.Bool
}

func New(cfg Config, handler TurnHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg.withDefaults(),
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.TurnPath, s.handleTurn)
	mux.HandleFunc(s.cfg.TwilioVoicePath, s.handleTwilioTurn)
	mux.HandleFunc(s.cfg.StatusPath, s.handleStatusCallback)
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("gateway_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.draining.Store(true)
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// handleTurn is the JSON surface: one utterance in, one reply out.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var utt turns.Utterance
	if err := json.NewDecoder(r.Body).Decode(&utt); err != nil {
		http.Error(w, "malformed utterance", http.StatusBadRequest)
		return
	}
	reply, err := s.handler.HandleTurn(r.Context(), utt)
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonGatewayBadRequest) || errorsx.HasReason(err, errorsx.ReasonConfigNotFound) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Infrastructure failure: never leave the caller hanging.
		s.log.Error("turn_failed", "call_id", utt.CallID, "error", err)
		reply = failClosedReply
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

// handleTwilioTurn accepts a Twilio speech-gather webhook and answers in
// TwiML. The tenant rides on the query string of the configured webhook.
func (s *Server) handleTwilioTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		s.log.Warn("twilio_invalid_signature", "reason_code", string(errorsx.ReasonGatewayInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	utt := turns.Utterance{
		CallID:   r.PostFormValue("CallSid"),
		TenantID: r.URL.Query().Get("tenant"),
		Text:     r.PostFormValue("SpeechResult"),
	}
	reply, err := s.handler.HandleTurn(r.Context(), utt)
	if err != nil {
		s.log.Error("twilio_turn_failed", "call_id", utt.CallID, "error", err)
		reply = failClosedReply
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(buildTwiML(reply, s.gatherURL(r))))
}

func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	callSID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	switch status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		if callSID != "" {
			s.handler.EndCall(callSID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ServeHTTP upgrades to a websocket carrying one JSON utterance per
// message, one JSON reply back. Used by softphone frontends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var utt turns.Utterance
		if err := json.Unmarshal(msg, &utt); err != nil {
			continue
		}
		reply, err := s.handler.HandleTurn(r.Context(), utt)
		if err != nil {
			s.log.Error("ws_turn_failed", "call_id", utt.CallID, "error", err)
			reply = failClosedReply
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
		if reply.Action == turns.ActionEndCall {
			return
		}
	}
}

func (s *Server) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.Validate(s.requestURL(r), params, signature)
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Server) gatherURL(r *http.Request) string {
	return s.requestURL(r)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// buildTwiML renders the reply. Escalations dial out, hangups say
// goodbye, everything else speaks and gathers the next utterance.
func buildTwiML(reply turns.Reply, gatherURL string) string {
	var b strings.Builder
	b.WriteString(`<Response>`)
	if reply.Text != "" {
		b.WriteString(`<Say>` + xmlEscape(reply.Text) + `</Say>`)
	}
	switch reply.Action {
	case turns.ActionEscalate:
		if reply.TransferTarget != "" {
			b.WriteString(`<Dial>` + xmlEscape(reply.TransferTarget) + `</Dial>`)
		} else {
			b.WriteString(`<Hangup/>`)
		}
	case turns.ActionEndCall:
		b.WriteString(`<Hangup/>`)
	default:
		b.WriteString(`<Gather input="speech" action="` + xmlEscape(gatherURL) + `" method="POST"/>`)
	}
	b.WriteString(`</Response>`)
	return b.String()
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
