package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conversation-manager/internal/domain"
)

// TransmitterIndex maps transmitter identities to their session history.
// Records are matched by any non-empty identifier field; overlapping
// identities created with different identifier subsets stay separate.
type TransmitterIndex struct {
	col collectionAPI
}

// NewTransmitterIndex creates an index over the transmitter_sessions
// collection.
func NewTransmitterIndex(col collectionAPI) (*TransmitterIndex, error) {
	if col == nil {
		return nil, errors.New("repository: collection must not be nil")
	}
	return &TransmitterIndex{col: col}, nil
}

// identifierFilter builds the match clause selecting records by any
// non-empty identifier equality.
func identifierFilter(ids domain.Identifiers) bson.M {
	var or []bson.M
	if strings.TrimSpace(ids.Phone) != "" {
		or = append(or, bson.M{"transmitter.phone": ids.Phone})
	}
	if strings.TrimSpace(ids.Email) != "" {
		or = append(or, bson.M{"transmitter.email": ids.Email})
	}
	if strings.TrimSpace(ids.ChatID) != "" {
		or = append(or, bson.M{"transmitter.chat_id": ids.ChatID})
	}
	if strings.TrimSpace(ids.MetaID) != "" {
		or = append(or, bson.M{"transmitter.meta_id": ids.MetaID})
	}
	if len(or) == 1 {
		return or[0]
	}
	return bson.M{"$or": or}
}

// seedOnInsert returns the identifier fields to set when an upsert creates a
// fresh record, so the provided ids survive on first registration.
func seedOnInsert(ids domain.Identifiers) bson.M {
	seed := bson.M{}
	if strings.TrimSpace(ids.Phone) != "" {
		seed["transmitter.phone"] = ids.Phone
	}
	if strings.TrimSpace(ids.Email) != "" {
		seed["transmitter.email"] = ids.Email
	}
	if strings.TrimSpace(ids.ChatID) != "" {
		seed["transmitter.chat_id"] = ids.ChatID
	}
	if strings.TrimSpace(ids.MetaID) != "" {
		seed["transmitter.meta_id"] = ids.MetaID
	}
	return seed
}

// EnsureRecord idempotently creates a record for the given identifier subset
// if none matches any of them, and returns the existing or new record.
func (t *TransmitterIndex) EnsureRecord(ctx context.Context, ids domain.Identifiers) (*domain.TransmitterRecord, error) {
	if ids.Empty() {
		return nil, ErrNoIdentifier
	}
	seed := domain.TransmitterIdentity{
		Phone:    ids.Phone,
		Email:    ids.Email,
		ChatID:   ids.ChatID,
		MetaID:   ids.MetaID,
		Sessions: []domain.SessionRef{},
	}
	var rec domain.TransmitterRecord
	err := t.col.FindOneAndUpdate(ctx,
		identifierFilter(ids),
		bson.M{"$setOnInsert": bson.M{"transmitter": seed}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&rec)
	if err != nil {
		return nil, fmt.Errorf("repository: EnsureRecord: %w", err)
	}
	return &rec, nil
}

// AppendSession records a session id against the record matching any of the
// supplied identifiers, stamping it with the current UTC time. Upserts a new
// record seeded with the identifiers when none matches.
func (t *TransmitterIndex) AppendSession(ctx context.Context, sessionID string, ids domain.Identifiers) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendSession: session id is required")
	}
	if ids.Empty() {
		return ErrNoIdentifier
	}
	entry := domain.SessionRef{SessionID: sessionID, Timestamp: nowISO()}
	update := bson.M{"$push": bson.M{"transmitter.sessions": entry}}
	if seed := seedOnInsert(ids); len(seed) > 0 {
		update["$setOnInsert"] = seed
	}
	_, err := t.col.UpdateOne(ctx, identifierFilter(ids), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repository: AppendSession: %w", err)
	}
	return nil
}

// LatestSessions returns up to limit session refs for records whose given
// identifier dimension equals value, pooled across all matching records and
// sorted by timestamp. A limit of zero means no limit. Ties keep the pooled
// order.
func (t *TransmitterIndex) LatestSessions(ctx context.Context, kind domain.IdentifierKind, value string, limit int, newestFirst bool) ([]domain.SessionRef, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	cur, err := t.col.Find(ctx, bson.M{kind.Field(): value})
	if err != nil {
		return nil, fmt.Errorf("repository: LatestSessions find: %w", err)
	}
	var recs []domain.TransmitterRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("repository: LatestSessions decode: %w", err)
	}
	var sessions []domain.SessionRef
	for _, r := range recs {
		sessions = append(sessions, r.Transmitter.Sessions...)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if newestFirst {
			return sessions[i].Timestamp > sessions[j].Timestamp
		}
		return sessions[i].Timestamp < sessions[j].Timestamp
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
