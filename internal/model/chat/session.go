package chat

import (
	"strings"
	"time"
)

// AnonymousIDPrefix distinguishes locally generated session ids from
// server-issued ones.
const AnonymousIDPrefix = "anon-"

// AnonymousSession is a transcript held only in the volatile tab store.
type AnonymousSession struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Messages  []EncryptedMessage `json:"messages"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// IsAnonymousID reports whether id was generated locally.
func IsAnonymousID(id string) bool {
	return strings.HasPrefix(id, AnonymousIDPrefix)
}

// ServerSession is the slice of the durable collaborator session the
// front end consumes. The collaborator owns the full schema.
type ServerSession struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary,omitempty"`
	Memory    string    `json:"memory,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SessionSummary is one row of the session history listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
	IsCurrent    bool      `json:"is_current"`
}
