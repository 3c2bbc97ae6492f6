package trace

import (
	"context"
	"log/slog"
)

// LogSink mirrors trace events into the structured log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) RecordEvent(ev Event) {
	attrs := []slog.Attr{
		slog.String("call_id", ev.CallID),
		slog.String("tenant_id", ev.TenantID),
		slog.Int("turn_seq", ev.TurnSeq),
		slog.String("stage", string(ev.Stage)),
	}
	if ev.Action != "" {
		attrs = append(attrs, slog.String("action", string(ev.Action)))
	}
	if ev.MatchSource != "" {
		attrs = append(attrs, slog.String("match_source", ev.MatchSource))
	}
	if ev.Confidence > 0 {
		attrs = append(attrs, slog.Float64("confidence", ev.Confidence))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	level := slog.LevelDebug
	if ev.Stage == StageError {
		level = slog.LevelWarn
	}
	s.log.LogAttrs(context.TODO(), level, "trace", attrs...)
}

// MultiEmitter fans one event out to several emitters.
type MultiEmitter struct {
	list []Emitter
}

func NewMultiEmitter(list ...Emitter) *MultiEmitter {
	return &MultiEmitter{list: list}
}

func (m *MultiEmitter) RecordEvent(ev Event) {
	for _, e := range m.list {
		if e != nil {
			e.RecordEvent(ev)
		}
	}
}
