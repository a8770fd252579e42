package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"citewise/internal/apperr"
	"citewise/internal/models"
)

// TestSessionStore keeps practice tests in memory for the lifetime of the
// process.
type TestSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.TestSession
}

func NewTestSessionStore() *TestSessionStore {
	return &TestSessionStore{sessions: make(map[string]*models.TestSession)}
}

func (s *TestSessionStore) Create(questions []models.Question) *models.TestSession {
	session := models.NewTestSession(uuid.NewString(), questions)
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return cloneSession(session)
}

func (s *TestSessionStore) Get(id string) (*models.TestSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneSession(session), nil
}

func (s *TestSessionStore) Select(id string, index int, letter string) (*models.TestSession, error) {
	var out *models.TestSession
	err := s.with(id, func(session *models.TestSession) error {
		if err := session.Select(index, letter); err != nil {
			return err
		}
		out = cloneSession(session)
		return nil
	})
	return out, err
}

func (s *TestSessionStore) Submit(id string) (models.TestScore, error) {
	var score models.TestScore
	err := s.with(id, func(session *models.TestSession) error {
		score = session.Submit()
		return nil
	})
	return score, err
}

// Reset clears the answers of a session so the test can be retaken.
func (s *TestSessionStore) Reset(id string) (*models.TestSession, error) {
	var out *models.TestSession
	err := s.with(id, func(session *models.TestSession) error {
		session.Reset()
		out = cloneSession(session)
		return nil
	})
	return out, err
}

// Delete discards a session.
func (s *TestSessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return notFound(id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *TestSessionStore) with(id string, fn func(*models.TestSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return notFound(id)
	}
	return fn(session)
}

func notFound(id string) error {
	return apperr.New(apperr.KindNotFound, fmt.Sprintf("test session %s not found", id), nil)
}

func cloneSession(s *models.TestSession) *models.TestSession {
	c := *s
	c.Questions = append([]models.Question(nil), s.Questions...)
	c.Answers = make(map[int]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}

// StreamRegistry tracks in-flight streaming generations so a stop request
// can cancel one by id.
type StreamRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context for a new stream. release must be
// called when the stream ends.
func (r *StreamRegistry) Register(parent context.Context) (id string, ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)
	id = uuid.NewString()

	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	return id, ctx, func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel()
	}
}

// Stop cancels the stream with the given id. It reports false if no such
// stream is running.
func (r *StreamRegistry) Stop(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *StreamRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
