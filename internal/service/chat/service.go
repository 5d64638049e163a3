// Package chat orchestrates sending a message: consent gate, advisory
// rate-limit check, append to the active store, reply fetch, reply
// recording, history refresh.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/model/chat"
	"github.com/enoki-chat/backend/internal/ratelimit"
	"github.com/enoki-chat/backend/internal/service/consent"
	"github.com/enoki-chat/backend/internal/service/history"
	"github.com/enoki-chat/backend/internal/store"
)

// SendResult is what the dispatcher hands back for a completed exchange.
type SendResult struct {
	Reply     string           `json:"reply"`
	Emotions  []collab.Emotion `json:"emotions,omitempty"`
	Summary   string           `json:"summary,omitempty"`
	Memory    string           `json:"memory,omitempty"`
	SessionID string           `json:"session_id"`
}

// Service is the per-tab chat dispatcher. It owns the current session
// pointer; exactly one regime is active at a time and the pointer never
// straddles both.
type Service struct {
	mu        sync.Mutex
	currentID string

	consent  *consent.Controller
	limiter  *ratelimit.Limiter
	store    *store.Store
	chatAPI  collab.ChatAPI
	sessions collab.SessionAPI
	history  *history.Aggregator

	// onHistoryChanged replaces the old reload-the-page refresh: an
	// explicit re-sync signal after anything that alters the listing.
	onHistoryChanged func()
}

// NewService wires a dispatcher for one tab.
func NewService(consentCtl *consent.Controller, limiter *ratelimit.Limiter, st *store.Store, chatAPI collab.ChatAPI, sessions collab.SessionAPI, hist *history.Aggregator) *Service {
	return &Service{
		consent:  consentCtl,
		limiter:  limiter,
		store:    st,
		chatAPI:  chatAPI,
		sessions: sessions,
		history:  hist,
	}
}

// SetHistoryChanged installs the re-sync hook. May be nil.
func (s *Service) SetHistoryChanged(fn func()) {
	s.mu.Lock()
	s.onHistoryChanged = fn
	s.mu.Unlock()
}

func (s *Service) notifyHistoryChanged() {
	s.mu.Lock()
	fn := s.onHistoryChanged
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Send dispatches one user message and returns the reply. The message is
// appended to the active store strictly before the reply fetch is
// issued; the cooldown clock starts only once the reply (or the error)
// has landed.
func (s *Service) Send(ctx context.Context, text, tone, language string) (*SendResult, error) {
	if text == "" {
		return nil, errors.New("message is required")
	}

	// Load, not Status: a tab rebuilt after idle eviction may dispatch
	// before any status fetch, and its persisted consent must count.
	status, err := s.consent.Load(ctx)
	if err != nil {
		return nil, err
	}
	if status == chat.ConsentUnset {
		// Nothing is dispatched until the user picks a regime.
		return nil, chat.ErrConsentRequired
	}

	if err := s.limiter.BeginDispatch(); err != nil {
		return nil, err
	}

	sessionID, err := s.ensureCurrentSession(ctx, status)
	if err != nil {
		s.limiter.Settle()
		return nil, err
	}

	if status == chat.ConsentAnonymous {
		if err := s.store.AppendMessage(ctx, sessionID, chat.SenderUser, text); err != nil {
			s.limiter.Settle()
			return nil, fmt.Errorf("append user message: %w", err)
		}
	}

	resp, err := s.chatAPI.Send(ctx, collab.SendRequest{
		Text:     text,
		Tone:     tone,
		Language: language,
		Secure:   status == chat.ConsentSecure,
	})
	if err != nil {
		var limited *chat.RateLimitedError
		if errors.As(err, &limited) {
			// Server authority wins over the local clock.
			s.limiter.SettleRejected(limited.RetryAfter)
			return nil, limited
		}
		s.limiter.Settle()
		return nil, fmt.Errorf("reply fetch: %w", err)
	}

	if status == chat.ConsentAnonymous {
		if err := s.store.AppendMessage(ctx, sessionID, chat.SenderBot, resp.Reply); err != nil {
			log.Printf("[chat] failed to record reply locally: %v", err)
		}
	} else if resp.SessionID != "" && resp.SessionID != sessionID {
		s.setCurrent(resp.SessionID)
		sessionID = resp.SessionID
	}

	s.limiter.Settle()
	s.notifyHistoryChanged()

	return &SendResult{
		Reply:     resp.Reply,
		Emotions:  resp.Emotions,
		Summary:   resp.Summary,
		Memory:    resp.Memory,
		SessionID: sessionID,
	}, nil
}

func (s *Service) setCurrent(id string) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

// CurrentSessionID returns the active session id, resolving one when the
// pointer is empty.
func (s *Service) CurrentSessionID(ctx context.Context) (string, error) {
	return s.ensureCurrentSession(ctx, s.consent.Status())
}

func (s *Service) ensureCurrentSession(ctx context.Context, status chat.ConsentStatus) (string, error) {
	s.mu.Lock()
	current := s.currentID
	s.mu.Unlock()

	// The pointer must never point into the inactive regime.
	if current != "" {
		if chat.IsAnonymousID(current) == (status == chat.ConsentAnonymous) {
			return current, nil
		}
		current = ""
	}

	id, err := s.history.StartNewChat(ctx, "")
	if err != nil {
		return "", err
	}
	if status == chat.ConsentSecure {
		if err := s.sessions.SwitchSession(ctx, id); err != nil {
			return "", err
		}
	}
	s.setCurrent(id)
	return id, nil
}

// LoadTranscript returns the decrypted transcript of the current
// session from whichever regime is active.
func (s *Service) LoadTranscript(ctx context.Context) (string, []chat.Message, error) {
	status, err := s.consent.Load(ctx)
	if err != nil {
		return "", nil, err
	}
	if status == chat.ConsentUnset {
		return "", nil, nil
	}

	id, err := s.ensureCurrentSession(ctx, status)
	if err != nil {
		return "", nil, err
	}

	if status == chat.ConsentAnonymous {
		messages, err := s.store.LoadMessages(ctx, id)
		return id, messages, err
	}

	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, session.Messages, nil
}

// LoadSession returns the transcript of a specific session without
// moving the current-session pointer.
func (s *Service) LoadSession(ctx context.Context, id string) ([]chat.Message, error) {
	anonymous := chat.IsAnonymousID(id)
	if anonymous != (s.consent.Status() == chat.ConsentAnonymous) {
		return nil, chat.ErrSessionNotFound
	}

	if anonymous {
		return s.store.LoadMessages(ctx, id)
	}
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

// SwitchSession makes id the current session after checking it belongs
// to the active regime.
func (s *Service) SwitchSession(ctx context.Context, id string) error {
	status := s.consent.Status()
	anonymous := chat.IsAnonymousID(id)

	if anonymous != (status == chat.ConsentAnonymous) {
		return chat.ErrSessionNotFound
	}

	if anonymous {
		if _, err := s.store.GetSession(ctx, id); err != nil {
			return err
		}
	} else {
		if err := s.sessions.SwitchSession(ctx, id); err != nil {
			return err
		}
	}
	s.setCurrent(id)
	return nil
}

// NewChat starts (or reuses) an empty session and makes it current.
func (s *Service) NewChat(ctx context.Context) (string, error) {
	status, err := s.consent.Load(ctx)
	if err != nil {
		return "", err
	}
	if status == chat.ConsentUnset {
		return "", chat.ErrConsentRequired
	}

	s.mu.Lock()
	current := s.currentID
	s.mu.Unlock()

	id, err := s.history.StartNewChat(ctx, current)
	if err != nil {
		return "", err
	}
	if status == chat.ConsentSecure {
		if err := s.sessions.SwitchSession(ctx, id); err != nil {
			return "", err
		}
	}
	s.setCurrent(id)
	s.notifyHistoryChanged()
	return id, nil
}

// DeleteSession removes a session and clears the pointer when the
// current one went away.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if err := s.history.DeleteSession(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	if s.currentID == id {
		s.currentID = ""
	}
	s.mu.Unlock()

	s.notifyHistoryChanged()
	return nil
}

// History lists sessions for the active regime with the current session
// marked.
func (s *Service) History(ctx context.Context) ([]chat.SessionSummary, error) {
	s.mu.Lock()
	current := s.currentID
	s.mu.Unlock()
	return s.history.List(ctx, current)
}

// SetConsent applies a consent transition and re-syncs the session
// pointer instead of relying on any page-level reset.
func (s *Service) SetConsent(ctx context.Context, target chat.ConsentStatus) (*consent.Result, error) {
	hasLocal, err := s.store.HasMessages(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.consent.SetStatus(ctx, target, hasLocal)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if result.NewAnonymousSessionID != "" {
		s.currentID = result.NewAnonymousSessionID
	} else if s.currentID != "" && chat.IsAnonymousID(s.currentID) != (result.Status == chat.ConsentAnonymous) {
		// Force re-resolution against the new regime. A reaffirmed
		// choice keeps the pointer where it was.
		s.currentID = ""
	}
	s.mu.Unlock()

	s.notifyHistoryChanged()
	return result, nil
}

// Limiter exposes the tab limiter for transport event wiring.
func (s *Service) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// ConsentStatus returns the cached consent value.
func (s *Service) ConsentStatus() chat.ConsentStatus {
	return s.consent.Status()
}
