package store

import (
	"context"
	"sync"

	"github.com/enoki-chat/backend/internal/model/chat"
)

// memoryDriver keeps one tab's transcripts in process memory. The default
// driver: the process lifetime is the volatility boundary.
type memoryDriver struct {
	mu       sync.RWMutex
	sessions map[string]*chat.AnonymousSession
	key      []byte
}

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver() Driver {
	return &memoryDriver{
		sessions: make(map[string]*chat.AnonymousSession),
	}
}

func (d *memoryDriver) PutSession(_ context.Context, session *chat.AnonymousSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *session
	copied.Messages = append([]chat.EncryptedMessage(nil), session.Messages...)
	d.sessions[session.ID] = &copied
	return nil
}

func (d *memoryDriver) GetSession(_ context.Context, id string) (*chat.AnonymousSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	session, ok := d.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	copied.Messages = append([]chat.EncryptedMessage(nil), session.Messages...)
	return &copied, nil
}

func (d *memoryDriver) ListSessions(_ context.Context) ([]*chat.AnonymousSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sessions := make([]*chat.AnonymousSession, 0, len(d.sessions))
	for _, session := range d.sessions {
		copied := *session
		copied.Messages = append([]chat.EncryptedMessage(nil), session.Messages...)
		sessions = append(sessions, &copied)
	}
	return sessions, nil
}

func (d *memoryDriver) DeleteSession(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
	return nil
}

func (d *memoryDriver) Clear(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = make(map[string]*chat.AnonymousSession)
	d.key = nil
	return nil
}

func (d *memoryDriver) LoadKey(_ context.Context) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.key == nil {
		return nil, nil
	}
	return append([]byte(nil), d.key...), nil
}

func (d *memoryDriver) StoreKey(_ context.Context, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.key = append([]byte(nil), key...)
	return nil
}

// Close drops the data but keeps the map allocated: a request that still
// holds an evicted tab must degrade to not-found, not panic on a nil map.
func (d *memoryDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = make(map[string]*chat.AnonymousSession)
	d.key = nil
	return nil
}
