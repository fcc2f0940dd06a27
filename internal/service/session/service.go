// Package session ties a transcript, a provider registry and the response
// reconciler together into per-conversation controllers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
)

var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	session    chat.Session
	controller *Controller
}

// Service 管理内存中的会话，不做持久化。
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	registry *provider.Registry
	log      logrus.FieldLogger
}

// NewService bootstraps the in-memory session service.
func NewService(registry *provider.Registry, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		sessions: make(map[string]*entry),
		registry: registry,
		log:      log,
	}
}

// CreateSession provisions an anonymous session. An empty or unknown
// provider falls back to the default.
func (s *Service) CreateSession(_ context.Context, providerName string) (chat.Session, error) {
	id := uuid.NewString()
	controller := NewController(id, s.registry, providerName, s.log)

	session := chat.Session{
		ID:        id,
		Provider:  controller.Provider(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[id] = &entry{session: session, controller: controller}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"session": id, "provider": session.Provider}).Info("session created")
	return session, nil
}

// GetSession retrieves a session by identifier. Provider reflects the
// latest SetProvider call.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}

	session := e.session
	session.Provider = e.controller.Provider()
	return session, nil
}

// Controller returns the controller for a session.
func (s *Service) Controller(_ context.Context, sessionID string) (*Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.controller, nil
}

// DeleteSession drops a session and its transcript.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}
