// Package migrate moves anonymous transcripts into server-backed
// sessions when consent is upgraded. Best-effort: each session succeeds
// or fails on its own, there is no retry queue and no cross-session
// rollback.
package migrate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/model/chat"
	"github.com/enoki-chat/backend/internal/service/consent"
	"github.com/enoki-chat/backend/internal/store"
)

// OutcomeKind classifies what happened to one anonymous session.
type OutcomeKind string

const (
	OutcomeMigrated     OutcomeKind = "migrated"
	OutcomeSkippedEmpty OutcomeKind = "skipped-empty"
	OutcomeFailed       OutcomeKind = "failed"
)

// Outcome is the per-session migration result.
type Outcome struct {
	SessionID       string      `json:"session_id"`
	Kind            OutcomeKind `json:"outcome"`
	ServerSessionID string      `json:"server_session_id,omitempty"`
	MessagesSaved   int         `json:"messages_saved,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}

// Report aggregates the outcomes of one migration run.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Failed counts sessions that could not be migrated.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed {
			n++
		}
	}
	return n
}

// Complete reports whether every non-empty session migrated.
func (r *Report) Complete() bool {
	return r.Failed() == 0
}

// Coordinator runs migrations. At most one run may be in flight; a
// second upgrade request while one is pending is rejected, never
// interleaved.
type Coordinator struct {
	mu       sync.Mutex
	inFlight bool

	store    *store.Store
	sessions collab.SessionAPI
	consent  *consent.Controller
}

// NewCoordinator wires the coordinator to the tab's store, the durable
// session collaborator and the consent controller.
func NewCoordinator(st *store.Store, sessions collab.SessionAPI, consent *consent.Controller) *Coordinator {
	return &Coordinator{store: st, sessions: sessions, consent: consent}
}

func (c *Coordinator) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return chat.ErrMigrationInFlight
	}
	c.inFlight = true
	return nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// Migrate moves every non-empty anonymous session to the collaborator.
// On full completion the store is cleared and consent flips to Secure.
// On partial failure the anonymous data stays intact, consent stays
// unchanged, and the report carries the per-session outcomes so the
// whole operation can be retried.
func (c *Coordinator) Migrate(ctx context.Context) (*Report, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list anonymous sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	report := &Report{Outcomes: make([]Outcome, 0, len(sessions))}
	for _, session := range sessions {
		report.Outcomes = append(report.Outcomes, c.migrateOne(ctx, session.ID, len(session.Messages)))
	}

	if !report.Complete() {
		log.Printf("[migrate] %d of %d session(s) failed, anonymous data kept", report.Failed(), len(sessions))
		return report, fmt.Errorf("%w: %d session(s) failed to migrate", chat.ErrPersistenceFailed, report.Failed())
	}

	// Flip before clearing: if the consent write fails the local data is
	// still there for a retry.
	if _, err := c.consent.SetStatus(ctx, chat.ConsentSecure, false); err != nil {
		return report, err
	}
	if err := c.store.Clear(ctx); err != nil {
		return report, fmt.Errorf("clear anonymous store: %w", err)
	}
	log.Printf("[migrate] migrated %d session(s), store cleared, consent secure", len(report.Outcomes))
	return report, nil
}

// migrateOne handles a single session: empty ones are skipped without
// any collaborator call, the rest are imported as one ordered batch.
func (c *Coordinator) migrateOne(ctx context.Context, id string, messageCount int) Outcome {
	if messageCount == 0 {
		return Outcome{SessionID: id, Kind: OutcomeSkippedEmpty}
	}

	// Decrypt in original chronological order before anything touches
	// the network.
	messages, err := c.store.LoadMessages(ctx, id)
	if err != nil {
		return Outcome{SessionID: id, Kind: OutcomeFailed, Reason: err.Error()}
	}

	serverID, err := c.sessions.NewSession(ctx)
	if err != nil {
		return Outcome{SessionID: id, Kind: OutcomeFailed, Reason: fmt.Sprintf("create server session: %v", err)}
	}

	saved, err := c.sessions.ImportMessages(ctx, serverID, messages)
	if err != nil {
		return Outcome{SessionID: id, Kind: OutcomeFailed, Reason: fmt.Sprintf("import messages: %v", err)}
	}

	return Outcome{
		SessionID:       id,
		Kind:            OutcomeMigrated,
		ServerSessionID: serverID,
		MessagesSaved:   saved,
	}
}

// Discard is the "discard instead of save" path: no migration, the
// store is cleared with one fresh empty session left behind, and
// consent flips to Secure.
func (c *Coordinator) Discard(ctx context.Context) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer c.release()

	if _, err := c.consent.SetStatus(ctx, chat.ConsentSecure, false); err != nil {
		return "", err
	}
	newID, err := c.store.Reset(ctx)
	if err != nil {
		return "", fmt.Errorf("reset anonymous store: %w", err)
	}
	return newID, nil
}
