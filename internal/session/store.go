// Package session provides the in-memory session store with per-session
// turn serialization.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown and the store runs
// with the strict missing-session policy.
var ErrNotFound = errors.New("session not found")

// MissingPolicy decides what happens when a turn targets an unknown id.
type MissingPolicy string

const (
	// PolicyStrict rejects turns for unknown sessions.
	PolicyStrict MissingPolicy = "strict"
	// PolicyAutoCreate creates a fresh session bound to the requested id.
	PolicyAutoCreate MissingPolicy = "auto-create"
)

// ParsePolicy converts a config value into a MissingPolicy.
func ParsePolicy(s string) (MissingPolicy, error) {
	switch MissingPolicy(s) {
	case PolicyStrict, PolicyAutoCreate:
		return MissingPolicy(s), nil
	}
	return "", fmt.Errorf("unknown missing session policy %q", s)
}

// WelcomeMessage opens every new session.
const WelcomeMessage = "Hi! I'm your marketplace listing assistant. 📸 Upload a photo of the item you want to sell " +
	"and I'll identify it, research current market prices, and help you write a listing that sells. " +
	"You can also just describe the item to get started."

type entry struct {
	turn    sync.Mutex
	mu      sync.RWMutex
	snap    *domain.Session
	deleted bool
}

// Store keeps sessions in memory. Reads return copies of the last committed
// state; writes go through a Turn, which holds the session's own lock.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	policy  MissingPolicy
	now     func() time.Time
	logger  *slog.Logger
}

// NewStore creates an empty store.
func NewStore(policy MissingPolicy, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = PolicyAutoCreate
	}
	return &Store{
		entries: make(map[string]*entry),
		policy:  policy,
		now:     time.Now,
		logger:  logger,
	}
}

// Policy returns the configured missing-session policy.
func (s *Store) Policy() MissingPolicy {
	return s.policy
}

func (s *Store) newSession(id, userID string) *domain.Session {
	now := s.now()
	return &domain.Session{
		ID:     id,
		UserID: userID,
		Messages: []domain.ChatMessage{{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   WelcomeMessage,
			Timestamp: now,
		}},
		FlowStep:  domain.FlowStep{Step: domain.StepAnalyze},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Create starts a new session for userID.
func (s *Store) Create(userID string) *domain.Session {
	sess := s.newSession(uuid.NewString(), userID)

	s.mu.Lock()
	s.entries[sess.ID] = &entry{snap: sess}
	s.mu.Unlock()

	return sess.Clone()
}

// Get returns a copy of the last committed state of the session. It does
// not wait for an in-flight turn.
func (s *Store) Get(id string) (*domain.Session, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Clone(), true
}

// List returns copies of all sessions owned by userID, newest first. An
// empty userID lists every session.
func (s *Store) List(userID string) []*domain.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if userID == "" || e.snap.UserID == userID {
			out = append(out, e.snap.Clone())
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete removes a session. It returns false if the id was unknown.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(id, userID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	if s.policy == PolicyStrict {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have created it while we waited.
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	s.logger.Warn("Session not found, creating a new one",
		"session_id", id,
		"user_id", userID,
		"policy", s.policy)
	e = &entry{snap: s.newSession(id, userID)}
	s.entries[id] = e
	return e, nil
}

// Begin acquires exclusive access to a session for one turn. Turns on
// different sessions never wait on each other. The caller must Release
// the returned Turn.
func (s *Store) Begin(ctx context.Context, id, userID string) (*Turn, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	e, err := s.lookup(id, userID)
	if err != nil {
		return nil, err
	}

	locked := make(chan struct{})
	go func() {
		e.turn.Lock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-ctx.Done():
		// Hand the lock back once the pending acquire completes.
		go func() {
			<-locked
			e.turn.Unlock()
		}()
		return nil, fmt.Errorf("wait for session %s: %w", id, ctx.Err())
	}

	e.mu.RLock()
	working := e.snap.Clone()
	e.mu.RUnlock()

	return &Turn{Session: working, entry: e, now: s.now}, nil
}

// Turn is exclusive, in-progress access to one session. Mutations made to
// Session become visible to readers on Commit.
type Turn struct {
	Session *domain.Session

	entry    *entry
	now      func() time.Time
	released bool
}

// Commit publishes the working copy. It is a no-op if the session was
// deleted while the turn ran.
func (t *Turn) Commit() {
	if t.released {
		return
	}
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	if t.entry.deleted {
		return
	}
	t.Session.UpdatedAt = t.now()
	t.entry.snap = t.Session.Clone()
}

// Release gives up the turn. Safe to call more than once.
func (t *Turn) Release() {
	if t.released {
		return
	}
	t.released = true
	t.entry.turn.Unlock()
}
