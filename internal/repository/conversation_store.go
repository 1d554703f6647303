package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conversation-manager/internal/domain"
)

// ConversationStore owns conversation documents keyed by session_id.
type ConversationStore struct {
	col collectionAPI
}

// NewConversationStore creates a store over the conversation collection.
func NewConversationStore(col collectionAPI) (*ConversationStore, error) {
	if col == nil {
		return nil, errors.New("repository: collection must not be nil")
	}
	return &ConversationStore{col: col}, nil
}

// Create persists a new conversation document seeded with one message and an
// empty state, labeled with the given transmitter. It generates the session
// and message ids and the creation timestamp.
func (s *ConversationStore) Create(ctx context.Context, msg domain.MessageInput, transmitter string) (*domain.ConversationReceipt, error) {
	sessionID := newDocumentID()
	createdAt := nowISO()
	doc := domain.ConversationDocument{
		SessionID:   sessionID,
		Transmitter: transmitter,
		CreatedAt:   createdAt,
		State:       []domain.StateEntry{},
		Messages:    []domain.Message{newMessage(msg)},
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("repository: Create insert: %w", err)
	}
	return &domain.ConversationReceipt{
		SessionID:   sessionID,
		Transmitter: transmitter,
		CreatedAt:   createdAt,
	}, nil
}

// AppendMessage pushes a new message onto the session's message sequence.
// The update upserts: appending to an unknown session creates a bare
// document. The continuity engine always creates explicitly first; the
// leniency exists for low-level usage.
func (s *ConversationStore) AppendMessage(ctx context.Context, sessionID string, msg domain.MessageInput) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendMessage: session id is required")
	}
	_, err := s.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$push": bson.M{"message": newMessage(msg)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// Get returns the conversation document for a session id, additionally
// constrained to the transmitter label when one is given. A missing document
// is (nil, nil), not an error.
func (s *ConversationStore) Get(ctx context.Context, sessionID, transmitter string) (*domain.ConversationDocument, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("repository: Get: session id is required")
	}
	filter := bson.M{"session_id": sessionID}
	if transmitter != "" {
		filter["transmitter"] = transmitter
	}
	var doc domain.ConversationDocument
	err := s.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	return &doc, nil
}

// ListByTransmitter returns every conversation whose transmitter label
// equals the given value.
func (s *ConversationStore) ListByTransmitter(ctx context.Context, transmitter string) ([]domain.ConversationDocument, error) {
	if strings.TrimSpace(transmitter) == "" {
		return nil, nil
	}
	cur, err := s.col.Find(ctx, bson.M{"transmitter": transmitter})
	if err != nil {
		return nil, fmt.Errorf("repository: ListByTransmitter find: %w", err)
	}
	var docs []domain.ConversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("repository: ListByTransmitter decode: %w", err)
	}
	return docs, nil
}

// AddState appends a state entry without touching existing ones. Returns
// whether a document matched. Name uniqueness is the engine's concern, not
// the store's.
func (s *ConversationStore) AddState(ctx context.Context, sessionID string, entry domain.StateEntry) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || entry.Name == "" {
		return false, errors.New("repository: AddState: session id and name are required")
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$push": bson.M{"state": entry}},
	)
	if err != nil {
		return false, fmt.Errorf("repository: AddState: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// OverwriteState sets the value of an existing state entry matched by name.
// Returns whether an entry with that name existed.
func (s *ConversationStore) OverwriteState(ctx context.Context, sessionID, name string, value any) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || name == "" {
		return false, errors.New("repository: OverwriteState: session id and name are required")
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "state.name": name},
		bson.M{"$set": bson.M{"state.$.value": value}},
	)
	if err != nil {
		return false, fmt.Errorf("repository: OverwriteState: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// RemoveState pulls every state entry with the given name. Returns whether
// anything was removed.
func (s *ConversationStore) RemoveState(ctx context.Context, sessionID, name string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || name == "" {
		return false, errors.New("repository: RemoveState: session id and name are required")
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$pull": bson.M{"state": bson.M{"name": name}}},
	)
	if err != nil {
		return false, fmt.Errorf("repository: RemoveState: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// Update sets arbitrary top-level fields on the conversation document.
// Returns whether a document matched.
func (s *ConversationStore) Update(ctx context.Context, sessionID string, fields map[string]any) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || len(fields) == 0 {
		return false, errors.New("repository: Update: session id and fields are required")
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": fields},
	)
	if err != nil {
		return false, fmt.Errorf("repository: Update: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// Delete removes a conversation document. Standalone maintenance operation;
// the continuity engine never deletes.
func (s *ConversationStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, errors.New("repository: Delete: session id is required")
	}
	res, err := s.col.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return false, fmt.Errorf("repository: Delete: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// newMessage stamps a message input with a generated id and arrival hour.
func newMessage(in domain.MessageInput) domain.Message {
	return domain.Message{
		MessageID: newDocumentID(),
		Role:      in.Role,
		Tokens:    in.Tokens,
		Content:   in.Content,
		Send:      in.Send,
		Hour:      nowHour(),
	}
}
