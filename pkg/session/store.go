package session

import (
	"log/slog"
	"sync"
	"time"
)

// StoreConfig bounds session lifetime. A session dies at TTL after
// creation or IdleTimeout after its last turn, whichever comes first.
type StoreConfig struct {
	TTL           time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Hour
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Store keeps active call sessions in memory. A background reaper tears
// down expired, abandoned sessions; it is the only cross-call activity
// and touches only sessions whose deadlines have passed.
//
// Live sessions must never be evicted under memory pressure (a cache
// would do exactly that mid-call), so this is a plain map with explicit
// expiry rather than an LRU.
type Store struct {
	cfg  StoreConfig
	log  *slog.Logger
	mu   sync.RWMutex
	byID map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	reaperOn bool
	done     chan struct{}
}

func NewStore(cfg StoreConfig, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		cfg:  cfg.withDefaults(),
		log:  log,
		byID: make(map[string]*Session),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// GetOrCreate returns the session for a call, creating it on the first
// utterance. The bool reports whether it was created.
func (s *Store) GetOrCreate(callID, tenantID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[callID]; ok {
		return sess, false
	}
	sess := New(callID, tenantID, s.cfg.TTL)
	s.byID[callID] = sess
	return sess, true
}

// Get returns an active session, if any.
func (s *Store) Get(callID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[callID]
	return sess, ok
}

// Delete tears a session down immediately.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	delete(s.byID, callID)
	s.mu.Unlock()
}

// Count returns the number of active sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// StartReaper launches the background sweep. Call Stop to halt it.
func (s *Store) StartReaper() {
	s.mu.Lock()
	if s.reaperOn {
		s.mu.Unlock()
		return
	}
	s.reaperOn = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(time.Now())
			}
		}
	}()
}

// Stop halts the reaper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.RLock()
		on := s.reaperOn
		s.mu.RUnlock()
		if on {
			<-s.done
		}
	})
}

// Sweep removes sessions past their TTL or idle deadline and returns
// how many were reaped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped int
	for id, sess := range s.byID {
		if now.After(sess.ExpiresAt) || now.Sub(sess.IdleSince()) > s.cfg.IdleTimeout {
			delete(s.byID, id)
			reaped++
			s.log.Debug("session_reaped", "call_id", id, "tenant_id", sess.TenantID)
		}
	}
	return reaped
}
