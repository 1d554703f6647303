package domain

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Identifiers is the set of transmitter identifiers a message may carry.
// Values are opaque strings; matching is on the raw value, no normalization.
type Identifiers struct {
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	ChatID string `json:"chat_id"`
	MetaID string `json:"meta_id"`
}

// Primary returns the first non-empty identifier after trimming, in the
// fixed precedence order phone, email, chat_id, meta_id.
func (i Identifiers) Primary() (string, bool) {
	for _, v := range []string{i.Phone, i.Email, i.ChatID, i.MetaID} {
		if s := strings.TrimSpace(v); s != "" {
			return s, true
		}
	}
	return "", false
}

// LookupKey returns the identifier kind and value to use as the session
// lookup key, following the same precedence as Primary.
func (i Identifiers) LookupKey() (IdentifierKind, string, bool) {
	pairs := []struct {
		kind  IdentifierKind
		value string
	}{
		{KindPhone, i.Phone},
		{KindEmail, i.Email},
		{KindChatID, i.ChatID},
		{KindMetaID, i.MetaID},
	}
	for _, p := range pairs {
		if strings.TrimSpace(p.value) != "" {
			return p.kind, p.value, true
		}
	}
	return "", "", false
}

// Empty reports whether no identifier carries a usable value.
func (i Identifiers) Empty() bool {
	_, ok := i.Primary()
	return !ok
}

// IdentifierKind names one of the four transmitter identifier dimensions.
type IdentifierKind string

const (
	KindPhone  IdentifierKind = "phone"
	KindEmail  IdentifierKind = "email"
	KindChatID IdentifierKind = "chat_id"
	KindMetaID IdentifierKind = "meta_id"
)

// Field returns the storage field path for the identifier dimension.
func (k IdentifierKind) Field() string {
	return "transmitter." + string(k)
}

// ParseIdentifierKind maps a route segment (phone|email|chat|meta) to its
// identifier kind.
func ParseIdentifierKind(s string) (IdentifierKind, bool) {
	switch s {
	case "phone":
		return KindPhone, true
	case "email":
		return KindEmail, true
	case "chat":
		return KindChatID, true
	case "meta":
		return KindMetaID, true
	}
	return "", false
}

// SessionRef points at one session a transmitter participated in.
type SessionRef struct {
	SessionID string `bson:"session_id" json:"session_id"`
	// Timestamp is ISO-8601 UTC; lexicographic order is chronological order.
	Timestamp string `bson:"timestamp" json:"timestamp"`
}

// TransmitterRecord groups the identifiers of one transmitter with the
// ordered list of sessions it participated in. Records are matched by any
// non-empty identifier field and are never merged or deduplicated across
// differing identifier combinations.
type TransmitterRecord struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"_id,omitempty"`
	Transmitter TransmitterIdentity `bson:"transmitter" json:"transmitter"`
}

// TransmitterIdentity is the nested identity document inside a record.
type TransmitterIdentity struct {
	Phone    string       `bson:"phone" json:"phone"`
	Email    string       `bson:"email" json:"email"`
	ChatID   string       `bson:"chat_id" json:"chat_id"`
	MetaID   string       `bson:"meta_id" json:"meta_id"`
	Sessions []SessionRef `bson:"sessions" json:"sessions"`
}
