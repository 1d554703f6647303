package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"conversation-manager/internal/domain"
)

const defaultSessionWindow = 24 * time.Hour

// TransmitterIndex is the session-history side of the continuity engine.
type TransmitterIndex interface {
	AppendSession(ctx context.Context, sessionID string, ids domain.Identifiers) error
	LatestSessions(ctx context.Context, kind domain.IdentifierKind, value string, limit int, newestFirst bool) ([]domain.SessionRef, error)
}

// ConversationStore is the conversation-document side of the continuity
// engine.
type ConversationStore interface {
	Create(ctx context.Context, msg domain.MessageInput, transmitter string) (*domain.ConversationReceipt, error)
	AppendMessage(ctx context.Context, sessionID string, msg domain.MessageInput) error
	Get(ctx context.Context, sessionID, transmitter string) (*domain.ConversationDocument, error)
	ListByTransmitter(ctx context.Context, transmitter string) ([]domain.ConversationDocument, error)
	AddState(ctx context.Context, sessionID string, entry domain.StateEntry) (bool, error)
	OverwriteState(ctx context.Context, sessionID, name string, value any) (bool, error)
	RemoveState(ctx context.Context, sessionID, name string) (bool, error)
}

// SessionService decides session reuse vs. creation for inbound messages and
// keeps the conversation store and the transmitter index coupled without a
// cross-store transaction: conversation creation is the durable anchor,
// index registration is best-effort.
type SessionService struct {
	conversations ConversationStore
	index         TransmitterIndex
	window        time.Duration

	now func() time.Time
}

// ProcessInput is one inbound message with its candidate identifiers.
type ProcessInput struct {
	Message     domain.MessageInput
	Identifiers domain.Identifiers
}

// ProcessResult reports which session received the message.
// TransmitterRegistered is meaningful only when Created is true; a false
// value there flags a failed index registration that callers may retry
// out-of-band. Conversation may be nil when the post-write read failed; the
// write itself still succeeded.
type ProcessResult struct {
	SessionID             string
	Created               bool
	TransmitterRegistered bool
	Conversation          *domain.ConversationDocument
}

// NewSessionService builds the engine. A non-positive window falls back to
// 24 hours.
func NewSessionService(conversations ConversationStore, index TransmitterIndex, window time.Duration) (*SessionService, error) {
	if conversations == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if index == nil {
		return nil, errors.New("usecase: transmitter index must not be nil")
	}
	if window <= 0 {
		window = defaultSessionWindow
	}
	return &SessionService{
		conversations: conversations,
		index:         index,
		window:        window,
		now:           time.Now,
	}, nil
}

// ProcessMessage routes an inbound message to the transmitter's active
// session, or starts a new one when none is fresh enough. An index lookup
// failure counts as "no active session" so a transient read failure never
// blocks message delivery, at the cost of a possibly redundant new session.
func (s *SessionService) ProcessMessage(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	primary, ok := in.Identifiers.Primary()
	if !ok {
		return ProcessResult{}, newError(ErrorNoIdentifier, "no_transmitter_identifier", nil)
	}
	kind, value, _ := in.Identifiers.LookupKey()

	var latest *domain.SessionRef
	if refs, err := s.index.LatestSessions(ctx, kind, value, 1, true); err == nil && len(refs) > 0 {
		latest = &refs[0]
	}

	if latest != nil && s.sessionActive(latest.Timestamp) {
		// Resume. A failed append is tolerated; the re-read reflects
		// whatever the store holds.
		_ = s.conversations.AppendMessage(ctx, latest.SessionID, in.Message)
		convo, _ := s.conversations.Get(ctx, latest.SessionID, primary)
		return ProcessResult{
			SessionID:    latest.SessionID,
			Conversation: convo,
		}, nil
	}

	receipt, err := s.conversations.Create(ctx, in.Message, primary)
	if err != nil || receipt == nil {
		return ProcessResult{}, newError(ErrorStore, "conversation_create_failed", err)
	}

	// Register under every supplied identifier so the session stays
	// discoverable by any of them. No rollback of the conversation on
	// failure; the flag lets callers retry registration out-of-band.
	registered := s.index.AppendSession(ctx, receipt.SessionID, in.Identifiers) == nil

	convo, _ := s.conversations.Get(ctx, receipt.SessionID, primary)
	return ProcessResult{
		SessionID:             receipt.SessionID,
		Created:               true,
		TransmitterRegistered: registered,
		Conversation:          convo,
	}, nil
}

// sessionActive reports whether a session ref timestamp falls inside the
// freshness window. A timestamp that fails to parse is not active: prefer a
// new session over resuming a corrupt one.
func (s *SessionService) sessionActive(timestamp string) bool {
	ts, err := parseSessionTimestamp(timestamp)
	if err != nil {
		return false
	}
	return s.now().UTC().Sub(ts) < s.window
}

// parseSessionTimestamp parses an ISO-8601 timestamp; a value without an
// offset is taken as UTC.
func parseSessionTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Conversation fetches one conversation by session id. A missing document is
// (nil, nil).
func (s *SessionService) Conversation(ctx context.Context, sessionID string) (*domain.ConversationDocument, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	convo, err := s.conversations.Get(ctx, sessionID, "")
	if err != nil {
		return nil, newError(ErrorStore, "conversation_read_failed", err)
	}
	return convo, nil
}

// ConversationsByIdentity returns every conversation labeled with the given
// identity value. Store errors degrade to an empty result.
func (s *SessionService) ConversationsByIdentity(ctx context.Context, value string) []domain.ConversationDocument {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	docs, err := s.conversations.ListByTransmitter(ctx, value)
	if err != nil {
		return nil
	}
	return docs
}

// SessionHistory lists all known sessions for one identifier dimension,
// newest first. Store errors degrade to an empty result.
func (s *SessionService) SessionHistory(ctx context.Context, kind domain.IdentifierKind, value string) []domain.SessionRef {
	refs, err := s.index.LatestSessions(ctx, kind, value, 0, true)
	if err != nil {
		return nil
	}
	return refs
}

// AddOrReplaceState upserts a state entry by name: overwrite when an entry
// with the name exists, append otherwise. Repeated calls with the same name
// leave exactly one entry holding the last value.
func (s *SessionService) AddOrReplaceState(ctx context.Context, sessionID, name string, value any) bool {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(name) == "" {
		return false
	}
	replaced, err := s.conversations.OverwriteState(ctx, sessionID, name, value)
	if err != nil {
		return false
	}
	if replaced {
		return true
	}
	added, err := s.conversations.AddState(ctx, sessionID, domain.StateEntry{Name: name, Value: value})
	if err != nil {
		return false
	}
	return added
}

// RemoveState deletes all state entries with the given name. Returns whether
// anything was removed.
func (s *SessionService) RemoveState(ctx context.Context, sessionID, name string) bool {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(name) == "" {
		return false
	}
	removed, err := s.conversations.RemoveState(ctx, sessionID, name)
	if err != nil {
		return false
	}
	return removed
}
