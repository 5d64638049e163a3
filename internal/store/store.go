// Package store holds the volatile, encrypted anonymous transcripts of a
// single tab. Nothing here survives the tab: the memory driver dies with
// the process, the redis driver expires with the tab TTL, and the cipher
// key shares the transcripts' lifetime by living in the same medium.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enoki-chat/backend/internal/crypt"
	"github.com/enoki-chat/backend/internal/model/chat"
)

var (
	ErrInvalidConfig     = errors.New("invalid store configuration")
	ErrInvalidDriverType = errors.New("invalid store driver type")
)

const titleLimit = 50

// Driver is the raw CRUD surface one tab's transcripts persist through.
// Implementations also hold the session key (crypt.KeyStore) so key and
// ciphertext always share a medium and a lifetime.
type Driver interface {
	crypt.KeyStore

	// PutSession inserts or replaces a session.
	PutSession(ctx context.Context, session *chat.AnonymousSession) error
	// GetSession returns nil when the session does not exist.
	GetSession(ctx context.Context, id string) (*chat.AnonymousSession, error)
	// ListSessions returns every stored session in unspecified order.
	ListSessions(ctx context.Context) ([]*chat.AnonymousSession, error)
	DeleteSession(ctx context.Context, id string) error
	// Clear removes all sessions and the session key.
	Clear(ctx context.Context) error
	Close() error
}

// Store implements the anonymous transcript operations on top of a driver.
// Every operation serializes through the store mutex; the tab is a single
// logical actor and no two operations may write one session concurrently.
type Store struct {
	mu     sync.Mutex
	driver Driver
	cipher *crypt.Service
}

// New wires a store to its driver and a tab-scoped cipher.
func New(driver Driver) *Store {
	return &Store{
		driver: driver,
		cipher: crypt.NewService(driver),
	}
}

// Cipher exposes the tab cipher for migration decryption.
func (s *Store) Cipher() *crypt.Service {
	return s.cipher
}

// NewSessionID generates a locally unique id, prefixed so it can never be
// mistaken for a server session id.
func NewSessionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d-%s", chat.AnonymousIDPrefix, time.Now().UnixMilli(), suffix)
}

// CreateSession provisions a fresh empty session and returns its id.
func (s *Store) CreateSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session := &chat.AnonymousSession{
		ID:        NewSessionID(),
		Title:     "New Chat",
		Messages:  make([]chat.EncryptedMessage, 0, 16),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.driver.PutSession(ctx, session); err != nil {
		return "", err
	}
	return session.ID, nil
}

// AppendMessage encrypts text, appends it to the session and bumps
// UpdatedAt. The first user message sets the session title from its
// plaintext, truncated; the plaintext itself is never stored.
func (s *Store) AppendMessage(ctx context.Context, id string, sender chat.Sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.driver.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return chat.ErrSessionNotFound
	}

	session.Messages = append(session.Messages, chat.EncryptedMessage{
		Sender:     sender,
		Ciphertext: s.cipher.EncryptLenient(ctx, text),
		CreatedAt:  time.Now().UTC(),
	})
	if sender == chat.SenderUser && (session.Title == "" || session.Title == "New Chat") {
		session.Title = truncate(text, titleLimit)
	}
	if bumped := time.Now().UTC(); bumped.After(session.UpdatedAt) {
		session.UpdatedAt = bumped
	}

	return s.driver.PutSession(ctx, session)
}

// LoadMessages returns the decrypted transcript in append order.
func (s *Store) LoadMessages(ctx context.Context, id string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.driver.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, chat.ErrSessionNotFound
	}

	messages := make([]chat.Message, 0, len(session.Messages))
	for _, m := range session.Messages {
		messages = append(messages, chat.Message{
			Sender:    m.Sender,
			Text:      s.cipher.DecryptLenient(ctx, m.Ciphertext),
			CreatedAt: m.CreatedAt,
		})
	}
	return messages, nil
}

// GetSession returns the stored (still encrypted) session.
func (s *Store) GetSession(ctx context.Context, id string) (*chat.AnonymousSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.driver.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, chat.ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns every stored session.
func (s *Store) ListSessions(ctx context.Context) ([]*chat.AnonymousSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.ListSessions(ctx)
}

// DeleteSession removes one session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.DeleteSession(ctx, id)
}

// HasMessages reports whether any stored session holds at least one turn.
func (s *Store) HasMessages(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.driver.ListSessions(ctx)
	if err != nil {
		return false, err
	}
	for _, session := range sessions {
		if len(session.Messages) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// NonEmptySessions counts sessions holding at least one turn.
func (s *Store) NonEmptySessions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.driver.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, session := range sessions {
		if len(session.Messages) > 0 {
			count++
		}
	}
	return count, nil
}

// Clear drops all sessions and the key, ending the current key epoch.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.driver.Clear(ctx); err != nil {
		return err
	}
	s.cipher.Forget()
	return nil
}

// Reset clears everything from the previous consent epoch and leaves
// exactly one fresh empty session, returning its id. Used on consent
// downgrade so no ciphertext from another epoch lingers.
func (s *Store) Reset(ctx context.Context) (string, error) {
	if err := s.Clear(ctx); err != nil {
		return "", err
	}
	return s.CreateSession(ctx)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
