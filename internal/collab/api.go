// Package collab defines the contracts of the external collaborators the
// front end depends on (consent persistence, reply generation, durable
// session CRUD) and an HTTP client implementing them. The core consumes
// these interfaces only; it never assumes a schema beyond the fields here.
package collab

import (
	"context"

	"github.com/enoki-chat/backend/internal/model/chat"
)

// Emotion is a classification label forwarded untouched from the reply
// pipeline. Classification itself happens outside this service.
type Emotion struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// SendRequest carries one user message to the reply collaborator.
type SendRequest struct {
	Text     string `json:"message"`
	Tone     string `json:"tone,omitempty"`
	Language string `json:"language,omitempty"`
	// Secure is true when the collaborator should persist the exchange
	// into the current durable session.
	Secure bool `json:"-"`
}

// SendResponse is the reply collaborator's answer.
type SendResponse struct {
	Reply     string    `json:"reply"`
	Emotions  []Emotion `json:"emotions,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Memory    string    `json:"memory,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// ConsentAPI persists the tri-state consent choice.
type ConsentAPI interface {
	// Status returns nil when no choice has been recorded yet.
	Status(ctx context.Context) (*bool, error)
	// Update records the choice. Returns chat.ErrAuthRequired when the tab
	// is not authenticated and consent is true.
	Update(ctx context.Context, consent bool) error
}

// ChatAPI produces a reply for a message. A server-side rate rejection
// surfaces as *chat.RateLimitedError with the authoritative retry window.
type ChatAPI interface {
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
}

// SessionAPI is the durable session collaborator.
type SessionAPI interface {
	// NewSession must only be called when a new session is genuinely
	// required; it is the one non-idempotent operation on this surface.
	NewSession(ctx context.Context) (string, error)
	SwitchSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (*chat.ServerSession, error)
	DeleteSession(ctx context.Context, id string) error
	History(ctx context.Context) ([]chat.SessionSummary, error)
	// ImportMessages submits one ordered batch of migrated turns and
	// returns how many the collaborator saved.
	ImportMessages(ctx context.Context, sessionID string, messages []chat.Message) (int, error)
	// ClearAnonymousCache drops any transient anonymous-mode state the
	// collaborator holds for this tab.
	ClearAnonymousCache(ctx context.Context) error
}
