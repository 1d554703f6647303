package domain

import "go.mongodb.org/mongo-driver/bson/primitive"

// ConversationDocument is the persisted chat history for one session.
// Field names are the wire/storage compatibility surface and must not change.
type ConversationDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"_id,omitempty"`
	SessionID   string             `bson:"session_id" json:"session_id"`
	Transmitter string             `bson:"transmitter" json:"transmitter"`
	CreatedAt   string             `bson:"created_at" json:"created_at"`
	State       []StateEntry       `bson:"state" json:"state"`
	Messages    []Message          `bson:"message" json:"message"`
}

// Message is a single conversation turn. Immutable once appended; ordering
// is insertion order.
type Message struct {
	MessageID string     `bson:"message_id" json:"message_id"`
	Role      string     `bson:"role" json:"role"`
	Tokens    TokenUsage `bson:"tokens" json:"tokens"`
	Content   string     `bson:"content" json:"content"`
	Send      SendData   `bson:"send" json:"send"`
	// Hour is the UTC wall-clock arrival time (HH:MM:SS), informational
	// only. Session freshness is decided on SessionRef timestamps.
	Hour string `bson:"hour" json:"hour"`
}

// TokenUsage carries caller-supplied token counts; they are never recomputed.
type TokenUsage struct {
	PromptTokens     int `bson:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int `bson:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int `bson:"total_tokens" json:"total_tokens"`
}

// SendData describes optional attached media. Each field is nullable and
// passed through opaquely (a location may be a structured object).
type SendData struct {
	Audio    any `bson:"audio" json:"audio"`
	Image    any `bson:"image" json:"image"`
	Location any `bson:"location" json:"location"`
	Document any `bson:"document" json:"document"`
	Video    any `bson:"video" json:"video"`
}

// StateEntry is a named mutable fact attached to a conversation, distinct
// from the append-only message log.
type StateEntry struct {
	Name  string `bson:"name" json:"name"`
	Value any    `bson:"value" json:"value"`
}

// MessageInput is the caller-side shape of a message before the store stamps
// it with a message id and arrival hour.
type MessageInput struct {
	Role    string
	Content string
	Tokens  TokenUsage
	Send    SendData
}

// ConversationReceipt is returned by conversation creation.
type ConversationReceipt struct {
	SessionID   string `json:"session_id"`
	Transmitter string `json:"transmitter"`
	CreatedAt   string `json:"created_at"`
}
