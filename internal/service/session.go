package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// Session is the state of one client session: provisional scores, the
// advisory set of locally confirmed votes, and action state machines.
// Nothing here is shared between sessions.
type Session struct {
	ID string

	mu       sync.Mutex
	scores   map[int64]*types.ScoreResult
	voted    map[int64]bool
	actions  map[string]*actionRecord
	lastSeen time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:       id,
		scores:   make(map[int64]*types.ScoreResult),
		voted:    make(map[int64]bool),
		actions:  make(map[string]*actionRecord),
		lastSeen: now,
	}
}

// Score returns the cached provisional score for a project
func (s *Session) Score(chainID int64) (*types.ScoreResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.scores[chainID]
	return r, ok
}

// SetScore caches a provisional score for a project
func (s *Session) SetScore(result *types.ScoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[result.ProjectChainID] = result
}

// HasVoted reports whether a vote on chainID was confirmed in this session
func (s *Session) HasVoted(chainID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voted[chainID]
}

func (s *Session) markVoted(chainID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voted[chainID] = true
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.actions {
		if !rec.idle() {
			return true
		}
	}
	return false
}

// SessionStore keeps sessions in memory and expires idle ones
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store expiring sessions idle for longer than idleTTL
func NewSessionStore(idleTTL time.Duration) *SessionStore {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// GetOrCreate returns the session for id, creating a new one when id is
// empty, malformed or unknown. created reports whether a new id was issued.
func (s *SessionStore) GetOrCreate(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[id]; ok {
		sess.mu.Lock()
		sess.lastSeen = now
		sess.mu.Unlock()
		return sess, false
	}

	sess := newSession(uuid.NewString(), now)
	s.sessions[sess.ID] = sess
	return sess, true
}

// Get returns an existing session
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops idle sessions that have no action in flight
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if idle && !sess.busy() {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on interval until ctx is done
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logging.FromContext(ctx).WithField("removed", n).Debug("expired idle sessions")
			}
		}
	}
}
