// Package history merges and derives display metadata for whichever
// session regime is active. It never reads both regimes at once.
package history

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/model/chat"
	"github.com/enoki-chat/backend/internal/service/consent"
	"github.com/enoki-chat/backend/internal/store"
)

const previewLimit = 80

// Aggregator lists sessions for the active regime and applies the
// new-chat reuse rule.
type Aggregator struct {
	store    *store.Store
	sessions collab.SessionAPI
	consent  *consent.Controller
}

// NewAggregator wires the aggregator to both regimes and the consent
// controller that selects between them.
func NewAggregator(st *store.Store, sessions collab.SessionAPI, consent *consent.Controller) *Aggregator {
	return &Aggregator{store: st, sessions: sessions, consent: consent}
}

// List returns session summaries for the active regime. Empty sessions
// sort before all others so an existing empty session stays
// discoverable and reusable; non-empty ties break by UpdatedAt
// descending. currentID marks the active session.
func (a *Aggregator) List(ctx context.Context, currentID string) ([]chat.SessionSummary, error) {
	var summaries []chat.SessionSummary
	var err error

	if a.consent.Status() == chat.ConsentAnonymous {
		summaries, err = a.listAnonymous(ctx)
	} else {
		summaries, err = a.sessions.History(ctx)
	}
	if err != nil {
		return nil, err
	}

	for i := range summaries {
		summaries[i].IsCurrent = summaries[i].ID == currentID
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		left, right := summaries[i], summaries[j]
		if (left.MessageCount == 0) != (right.MessageCount == 0) {
			return left.MessageCount == 0
		}
		return left.UpdatedAt.After(right.UpdatedAt)
	})
	return summaries, nil
}

// listAnonymous derives count, preview and title by decrypting on
// demand; none of these fields are precomputed in the volatile store.
func (a *Aggregator) listAnonymous(ctx context.Context) ([]chat.SessionSummary, error) {
	sessions, err := a.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	cipher := a.store.Cipher()
	summaries := make([]chat.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summary := chat.SessionSummary{
			ID:           session.ID,
			Title:        session.Title,
			Preview:      "No messages yet",
			MessageCount: len(session.Messages),
			UpdatedAt:    session.UpdatedAt,
		}
		for _, m := range session.Messages {
			if m.Sender != chat.SenderUser {
				continue
			}
			text := cipher.DecryptLenient(ctx, m.Ciphertext)
			summary.Preview = truncate(text, previewLimit)
			break
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// StartNewChat returns the id of a chat to use: an existing empty
// session when one exists, a freshly created one otherwise. Idempotent
// with respect to empty-session accumulation in both regimes.
func (a *Aggregator) StartNewChat(ctx context.Context, currentID string) (string, error) {
	summaries, err := a.List(ctx, currentID)
	if err != nil {
		return "", err
	}
	for _, summary := range summaries {
		if summary.MessageCount == 0 {
			log.Printf("[history] reusing empty session %s for new chat", summary.ID)
			return summary.ID, nil
		}
	}

	if a.consent.Status() == chat.ConsentAnonymous {
		return a.store.CreateSession(ctx)
	}
	return a.sessions.NewSession(ctx)
}

// DeleteSession removes a session from the active regime. Deleting the
// last remaining anonymous session also invalidates the collaborator's
// transient anonymous-mode cache; this is the one cross-store
// consistency requirement, not a general sync rule.
func (a *Aggregator) DeleteSession(ctx context.Context, id string) error {
	if a.consent.Status() != chat.ConsentAnonymous {
		return a.sessions.DeleteSession(ctx, id)
	}

	if err := a.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	remaining, err := a.store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := a.sessions.ClearAnonymousCache(ctx); err != nil {
			return fmt.Errorf("clear anonymous cache: %w", err)
		}
	}
	return nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
