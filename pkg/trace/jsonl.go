package trace

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JSONLSink writes a per-call JSONL audit trail under dir. One file per
// call, one event per line.
type JSONLSink struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewJSONLSink(dir string) *JSONLSink {
	return &JSONLSink{dir: dir, files: make(map[string]*os.File)}
}

func (s *JSONLSink) RecordEvent(ev Event) {
	if ev.CallID == "" || strings.TrimSpace(s.dir) == "" {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	f := s.fileFor(ev.CallID)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// CloseCall releases the file handle for a finished call.
func (s *JSONLSink) CloseCall(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[callID]; ok {
		_ = f.Close()
		delete(s.files, callID)
	}
}

// Close closes any open files.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, f := range s.files {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	s.files = make(map[string]*os.File)
	return err
}

func (s *JSONLSink) fileFor(callID string) *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[callID]; ok {
		return f
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil
	}
	name := filepath.Join(s.dir, sanitizeName(callID)+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	s.files[callID] = f
	return f
}

func sanitizeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// PurgeArtifacts removes audit files older than maxAge. Returns the
// number of files deleted.
func PurgeArtifacts(dir string, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var removed int
	var errs error
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
