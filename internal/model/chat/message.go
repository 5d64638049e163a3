package chat

import "time"

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// EncryptedMessage is a single stored turn of an anonymous transcript.
// Ciphertext is base64(IV || AES-GCM output); plaintext only exists
// transiently in memory for rendering or migration.
type EncryptedMessage struct {
	Sender     Sender    `json:"sender"`
	Ciphertext string    `json:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Message is a decrypted turn handed to callers of the anonymous store
// or received from the session collaborator.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
