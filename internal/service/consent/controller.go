// Package consent owns the tri-state storage consent of a tab and the
// transition effects between the anonymous and secure regimes.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/model/chat"
)

// TranscriptStore is the slice of the anonymous store the controller
// needs for its transition side effects.
type TranscriptStore interface {
	// Reset discards all sessions and leaves one fresh empty session.
	Reset(ctx context.Context) (string, error)
	// HasMessages reports whether any anonymous turn exists.
	HasMessages(ctx context.Context) (bool, error)
	// NonEmptySessions counts sessions with at least one turn.
	NonEmptySessions(ctx context.Context) (int, error)
}

// Result describes the outcome of an applied transition.
type Result struct {
	Status chat.ConsentStatus
	// NewAnonymousSessionID is set when a downgrade reset the store.
	NewAnonymousSessionID string
}

// Controller caches the consent value for the tab lifetime and persists
// changes through the consent collaborator. The in-memory status never
// changes unless the remote write succeeded.
type Controller struct {
	mu     sync.Mutex
	api    collab.ConsentAPI
	store  TranscriptStore
	status chat.ConsentStatus
	loaded bool
}

// NewController builds a controller with status Unset until Load runs.
func NewController(api collab.ConsentAPI, store TranscriptStore) *Controller {
	return &Controller{api: api, store: store}
}

// Load fetches the persisted consent once and caches it. Safe to call
// repeatedly; only the first successful fetch hits the collaborator.
func (c *Controller) Load(ctx context.Context) (chat.ConsentStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.status, nil
	}
	remote, err := c.api.Status(ctx)
	if err != nil {
		return chat.ConsentUnset, fmt.Errorf("load consent: %w", err)
	}
	switch {
	case remote == nil:
		c.status = chat.ConsentUnset
	case *remote:
		c.status = chat.ConsentSecure
	default:
		c.status = chat.ConsentAnonymous
	}
	c.loaded = true
	return c.status, nil
}

// Status returns the cached consent value.
func (c *Controller) Status() chat.ConsentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus applies a transition. hasLocalMessages tells the controller
// whether anonymous turns exist; an Anonymous→Secure upgrade with local
// messages does not flip but returns *chat.MigrationRequired, which the
// caller resolves through the migration coordinator (or the discard
// path) before retrying.
func (c *Controller) SetStatus(ctx context.Context, target chat.ConsentStatus, hasLocalMessages bool) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target == chat.ConsentUnset {
		return nil, errors.New("cannot transition back to unset")
	}

	if target == chat.ConsentSecure && c.status == chat.ConsentAnonymous && hasLocalMessages {
		pending, err := c.store.NonEmptySessions(ctx)
		if err != nil || pending == 0 {
			pending = 1
		}
		return nil, &chat.MigrationRequired{PendingSessions: pending}
	}

	secure := target == chat.ConsentSecure
	if err := c.api.Update(ctx, secure); err != nil {
		if errors.Is(err, chat.ErrAuthRequired) {
			// Local data stays put; the caller offers a login redirect.
			return nil, chat.ErrAuthRequired
		}
		return nil, fmt.Errorf("%w: %v", chat.ErrPersistenceFailed, err)
	}

	previous := c.status
	c.status = target
	c.loaded = true
	result := &Result{Status: target}

	// A downgrade never keeps ciphertext from another consent epoch.
	// Reaffirming anonymous is not a downgrade: the epoch is unchanged
	// and the transcripts stay.
	if target == chat.ConsentAnonymous && previous != chat.ConsentAnonymous {
		id, err := c.store.Reset(ctx)
		if err != nil {
			log.Printf("[consent] store reset after downgrade failed: %v", err)
		} else {
			result.NewAnonymousSessionID = id
		}
	}

	if previous != target {
		log.Printf("[consent] status %s -> %s", previous, target)
	}
	return result, nil
}
