// Package memory keeps relay sessions in process memory for the local server.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"upload-files-skill/internal/domain"
)

// SessionStore serializes its conditional writes with mu; reads go straight
// to the cache.
type SessionStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewSessionStore expires sessions after ttl, purging every ttl/2.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{cache: cache.New(ttl, ttl/2)}
}

func (s *SessionStore) Get(_ context.Context, conversationID string) (domain.RelaySession, bool, error) {
	session, ok := s.lookup(conversationID)
	return session, ok, nil
}

func (s *SessionStore) Begin(_ context.Context, session domain.RelaySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(session.ConversationID, copySession(session), cache.DefaultExpiration); err != nil {
		return fmt.Errorf("memory: begin %s: %w", session.ConversationID, domain.ErrSessionExists)
	}
	return nil
}

func (s *SessionStore) Takeover(_ context.Context, stale, fresh domain.RelaySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.lookup(fresh.ConversationID); ok {
		if current.ID != stale.ID || !current.UpdatedAt.Equal(stale.UpdatedAt) {
			return fmt.Errorf("memory: takeover %s: %w", fresh.ConversationID, domain.ErrSessionExists)
		}
	}
	s.cache.Set(fresh.ConversationID, copySession(fresh), cache.DefaultExpiration)
	return nil
}

func (s *SessionStore) Save(_ context.Context, session domain.RelaySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.lookup(session.ConversationID)
	if !ok || current.ID != session.ID {
		return fmt.Errorf("memory: save %s: %w", session.ConversationID, domain.ErrSessionNotFound)
	}
	s.cache.Set(session.ConversationID, copySession(session), cache.DefaultExpiration)
	return nil
}

func (s *SessionStore) Release(_ context.Context, session domain.RelaySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.lookup(session.ConversationID); ok && current.ID == session.ID {
		s.cache.Delete(session.ConversationID)
	}
	return nil
}

func (s *SessionStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(conversationID)
	return nil
}

func (s *SessionStore) lookup(conversationID string) (domain.RelaySession, bool) {
	if x, found := s.cache.Get(conversationID); found {
		return copySession(x.(domain.RelaySession)), true
	}
	return domain.RelaySession{}, false
}

// copySession detaches the stored attachment from caller-owned memory.
func copySession(s domain.RelaySession) domain.RelaySession {
	if s.Attachment != nil {
		att := *s.Attachment
		att.Content = append([]byte(nil), s.Attachment.Content...)
		s.Attachment = &att
	}
	return s
}
