package frontdesk

import (
	"context"
	"fmt"
	"time"

	"github.com/chatterlinx/frontdesk/pkg/appointments"
	"github.com/chatterlinx/frontdesk/pkg/fallback"
	"github.com/chatterlinx/frontdesk/pkg/gateway"
	"github.com/chatterlinx/frontdesk/pkg/llm"
	"github.com/chatterlinx/frontdesk/pkg/logging"
	"github.com/chatterlinx/frontdesk/pkg/providers/anthropic"
	"github.com/chatterlinx/frontdesk/pkg/providers/mock"
	"github.com/chatterlinx/frontdesk/pkg/redact"
	"github.com/chatterlinx/frontdesk/pkg/resilience"
	"github.com/chatterlinx/frontdesk/pkg/session"
	"github.com/chatterlinx/frontdesk/pkg/tenantcfg"
	"github.com/chatterlinx/frontdesk/pkg/trace"
)

// App is the assembled receptionist process: engine, gateway, and the
// background pieces around them.
type App struct {
	cfg     AppConfig
	engine  *Engine
	server  *gateway.Server
	emitter *trace.AsyncEmitter
	jsonl   *trace.JSONLSink
	tenants *tenantcfg.CachedSource
	appts   appointments.Store
}

// NewApp wires the whole process from configuration.
func NewApp(cfg AppConfig) (*App, error) {
	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel))
	redact.SetEnabled(cfg.Privacy.RedactPII)

	fileSource := tenantcfg.NewFileSource(cfg.Tenants.Dir)
	tenants, err := tenantcfg.NewCachedSource(fileSource, cfg.Tenants.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("tenant cache: %w", err)
	}

	appts, err := appointments.NewSQLiteStore(cfg.Appointments.DBPath)
	if err != nil {
		return nil, fmt.Errorf("appointment store: %w", err)
	}

	adapter := buildAdapter(cfg.Fallback)
	reasoner := fallback.NewReasoner(adapter, fallback.Config{
		Timeout:   cfg.Fallback.Timeout(),
		CacheSize: cfg.Fallback.CacheSize,
	}, logging.NewComponentLogger(log, "fallback"))

	sinks := []trace.Emitter{trace.NewLogSink(logging.NewComponentLogger(log, "trace"))}
	var jsonl *trace.JSONLSink
	if cfg.Trace.ArtifactsDir != "" {
		jsonl = trace.NewJSONLSink(cfg.Trace.ArtifactsDir)
		sinks = append(sinks, jsonl)
	}
	emitter := trace.NewAsyncEmitter(trace.NewMultiEmitter(sinks...), cfg.Trace.Buffer)

	sessions := session.NewStore(session.StoreConfig{
		TTL:           cfg.Sessions.TTL(),
		IdleTimeout:   cfg.Sessions.IdleTimeout(),
		SweepInterval: cfg.Sessions.SweepInterval(),
	}, logging.NewComponentLogger(log, "sessions"))

	engine, err := New(Options{
		Tenants:      tenants,
		Appointments: appts,
		Sessions:     sessions,
		Reasoner:     reasoner,
		Emitter:      emitterWithCloser{emitter, jsonl},
		Logger:       logging.NewComponentLogger(log, "engine"),
	})
	if err != nil {
		return nil, err
	}

	server := gateway.New(cfg.Gateway, engine, logging.NewComponentLogger(log, "gateway"))

	return &App{
		cfg:     cfg,
		engine:  engine,
		server:  server,
		emitter: emitter,
		jsonl:   jsonl,
		tenants: tenants,
		appts:   appts,
	}, nil
}

// buildAdapter picks the model provider and wraps it with the circuit
// breaker. An empty key falls back to the mock so local runs work
// without credentials.
func buildAdapter(cfg FallbackConfig) llm.LLMAdapter {
	var inner llm.LLMAdapter
	if cfg.Provider == "anthropic" && cfg.APIKey() != "" {
		inner = anthropic.NewAdapter(cfg.APIKey(), cfg.Model)
	} else {
		inner = mock.NewLLMAdapter(mock.LLMConfig{})
	}
	if cfg.MaxAttempts > 1 {
		inner = llm.NewRetryAdapter(inner, llm.RetryConfig{MaxAttempts: cfg.MaxAttempts})
	}
	breaker := resilience.NewCircuitBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownS)*time.Second)
	return llm.NewCircuitBreakerAdapter(inner, breaker)
}

// Engine returns the turn pipeline for direct embedding.
func (a *App) Engine() *Engine { return a.engine }

// Start launches the session reaper, artifact retention, and the
// gateway listener.
func (a *App) Start(ctx context.Context) error {
	a.engine.Sessions().StartReaper()
	if a.jsonl != nil && a.cfg.Trace.RetentionDays > 0 {
		maxAge := time.Duration(a.cfg.Trace.RetentionDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_, _ = trace.PurgeArtifacts(a.cfg.Trace.ArtifactsDir, maxAge)
				}
			}
		}()
	}
	return a.server.Start(ctx)
}

// Drain flushes in-flight work so the process can exit cleanly.
func (a *App) Drain() error {
	err := a.server.Stop()
	a.engine.Sessions().Stop()
	a.emitter.Close()
	if a.jsonl != nil {
		_ = a.jsonl.Close()
	}
	a.tenants.Close()
	if cerr := a.appts.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// emitterWithCloser lets the engine close per-call artifact files while
// events still flow through the async path.
type emitterWithCloser struct {
	*trace.AsyncEmitter
	jsonl *trace.JSONLSink
}

func (e emitterWithCloser) CloseCall(callID string) {
	if e.jsonl != nil {
		e.jsonl.CloseCall(callID)
	}
}
