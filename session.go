package legalrag

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/legalrag/config"
)

// SessionStore holds per-session state (routing memory, clarification
// position, bounded chat history), and sweeps
// sessions idle past their TTL.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionRecord
	locks    map[string]*sync.Mutex // per-session serialization
	cfg      *config.Config

	stopSweep chan struct{}
	sweepOnce sync.Once
}

func NewSessionStore(cfg *config.Config) *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*SessionRecord),
		locks:     make(map[string]*sync.Mutex),
		cfg:       cfg,
		stopSweep: make(chan struct{}),
	}
}

// Create starts a new session and returns its record.
func (s *SessionStore) Create() *SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec := &SessionRecord{
		ID:                 uuid.NewString(),
		CreatedAt:          now,
		LastActivity:       now,
		ClarificationState: ClarificationIdle,
	}
	s.sessions[rec.ID] = rec
	s.locks[rec.ID] = &sync.Mutex{}
	return rec
}

// Get returns the session record for id, or (nil, false) if it does not
// exist or has been swept.
func (s *SessionStore) Get(id string) (*SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

// Lock returns the per-session mutex used to serialize turns within one
// session while allowing turns across different sessions to run
// concurrently. It creates the lock if the
// session is not yet known, so a caller can lock before the session record
// itself exists.
func (s *SessionStore) Lock(id string) *sync.Mutex {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()
	return lock
}

// Touch updates a session's last-activity timestamp and records a turn in
// its bounded history.
func (s *SessionStore) Touch(id string, turn *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	rec.LastActivity = time.Now()
	if turn != nil {
		rec.History = append(rec.History, *turn)
		const maxHistory = 5
		if len(rec.History) > maxHistory {
			rec.History = rec.History[len(rec.History)-maxHistory:]
		}
	}
}

// RecordRouting updates a session's routing memory after a turn, applying
// the low-confidence-streak clearing rule: enough
// consecutive low-confidence decisions in a row erase a stale memorized
// route rather than let it keep overriding fresh ones forever.
func (s *SessionStore) RecordRouting(id string, decision RoutingDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return
	}

	low := decision.Level == ConfidenceLow || decision.Level == ConfidenceLowMedium
	if low && !decision.FromMemory {
		if rec.RoutingMemory != nil {
			rec.RoutingMemory.LowStreak++
			if rec.RoutingMemory.LowStreak >= s.cfg.SessionLowStreakLimit {
				rec.RoutingMemory = nil
			}
		}
		return
	}

	if decision.FromMemory {
		return
	}

	rec.RoutingMemory = &RoutingMemory{
		Collection:  decision.Collection,
		Confidence:  decision.Confidence,
		Timestamp:   time.Now(),
		SmartFilter: decision.SmartFilter,
	}
}

// EffectiveMemory returns the session's routing memory if it still falls
// within the freshness window, or nil otherwise.
func (s *SessionStore) EffectiveMemory(id string) *RoutingMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.RoutingMemory == nil {
		return nil
	}
	if time.Since(rec.RoutingMemory.Timestamp) > s.cfg.SessionMemoryFreshness {
		return nil
	}
	return rec.RoutingMemory
}

// SetClarification updates a session's clarification state, the query
// awaiting resolution, and the options last offered (so a later reply can
// be resolved back to the option the caller picked, by id).
func (s *SessionStore) SetClarification(id string, state ClarificationState, pendingQuery string, options []ClarificationOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	rec.ClarificationState = state
	if state == ClarificationIdle {
		rec.PendingOptions = nil
		return
	}
	rec.PendingQuery = pendingQuery
	rec.PendingOptions = options
}

// SetPendingForced records the collection/document a staged clarification
// reply narrowed things down to, so the eventual pipeline run — once the
// clarification fully resolves — can be forced onto it instead of routing
// from scratch.
func (s *SessionStore) SetPendingForced(id, collection, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	if collection != "" {
		rec.PendingCollection = collection
	}
	if documentID != "" {
		rec.PendingDocumentID = documentID
	}
}

// ConsumePendingForced returns and clears the collection/document a staged
// clarification had narrowed down to.
func (s *SessionStore) ConsumePendingForced(id string) (collection, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return "", ""
	}
	collection, documentID = rec.PendingCollection, rec.PendingDocumentID
	rec.PendingCollection = ""
	rec.PendingDocumentID = ""
	return collection, documentID
}

// Reset clears a session's routing memory, clarification state, and
// history, without discarding the session id itself.
func (s *SessionStore) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	rec.RoutingMemory = nil
	rec.ClarificationState = ClarificationIdle
	rec.PendingQuery = ""
	rec.PendingOptions = nil
	rec.PendingCollection = ""
	rec.PendingDocumentID = ""
	rec.History = nil
}

// StartSweep launches a background goroutine that evicts sessions idle
// longer than the configured TTL, at the configured sweep period. Call
// Close to stop it.
func (s *SessionStore) StartSweep() {
	s.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(s.cfg.SessionSweepPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.sweep()
				case <-s.stopSweep:
					return
				}
			}
		}()
	})
}

func (s *SessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.cfg.SessionTTL)
	for id, rec := range s.sessions {
		if rec.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.locks, id)
		}
	}
}

// Close stops the background sweep goroutine, if running.
func (s *SessionStore) Close() {
	close(s.stopSweep)
}
