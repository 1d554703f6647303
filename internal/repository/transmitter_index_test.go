package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"conversation-manager/internal/domain"
)

func TestNewTransmitterIndex_NilCollection(t *testing.T) {
	_, err := NewTransmitterIndex(nil)
	require.Error(t, err)
}

func TestIdentifierFilter_SingleAndMultiple(t *testing.T) {
	single := identifierFilter(domain.Identifiers{Phone: "+5550001"})
	require.Equal(t, bson.M{"transmitter.phone": "+5550001"}, single)

	multi := identifierFilter(domain.Identifiers{Phone: "+5550001", ChatID: "chat-9"})
	or, ok := multi["$or"].([]bson.M)
	require.True(t, ok)
	require.Len(t, or, 2)
	require.Contains(t, or, bson.M{"transmitter.phone": "+5550001"})
	require.Contains(t, or, bson.M{"transmitter.chat_id": "chat-9"})
}

func TestEnsureRecord_NoIdentifier(t *testing.T) {
	index, err := NewTransmitterIndex(&fakeCollection{})
	require.NoError(t, err)

	_, err = index.EnsureRecord(context.Background(), domain.Identifiers{Phone: "  "})
	require.ErrorIs(t, err, ErrNoIdentifier)
}

func TestEnsureRecord_UpsertsAndReturns(t *testing.T) {
	col := &fakeCollection{findOneDoc: domain.TransmitterRecord{
		Transmitter: domain.TransmitterIdentity{Phone: "+5550001", Sessions: []domain.SessionRef{}},
	}}
	index, err := NewTransmitterIndex(col)
	require.NoError(t, err)

	rec, err := index.EnsureRecord(context.Background(), domain.Identifiers{Phone: "+5550001", Email: "a@b.co"})
	require.NoError(t, err)
	require.Equal(t, "+5550001", rec.Transmitter.Phone)

	update := col.lastUpdate.(bson.M)
	seed := update["$setOnInsert"].(bson.M)["transmitter"].(domain.TransmitterIdentity)
	require.Equal(t, "a@b.co", seed.Email)
	require.NotNil(t, seed.Sessions)

	require.Len(t, col.lastFindOpts, 1)
	require.NotNil(t, col.lastFindOpts[0].Upsert)
	require.True(t, *col.lastFindOpts[0].Upsert)
}

func TestAppendSession_Validation(t *testing.T) {
	index, err := NewTransmitterIndex(&fakeCollection{})
	require.NoError(t, err)

	require.Error(t, index.AppendSession(context.Background(), "", domain.Identifiers{Phone: "+5550001"}))
	require.ErrorIs(t, index.AppendSession(context.Background(), "sess-1", domain.Identifiers{}), ErrNoIdentifier)
}

func TestAppendSession_PushesRefWithSeeding(t *testing.T) {
	col := &fakeCollection{updateRes: &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}}
	index, err := NewTransmitterIndex(col)
	require.NoError(t, err)

	ids := domain.Identifiers{Phone: "+5550001", MetaID: "meta-7"}
	require.NoError(t, index.AppendSession(context.Background(), "sess-1", ids))

	update := col.lastUpdate.(bson.M)
	ref := update["$push"].(bson.M)["transmitter.sessions"].(domain.SessionRef)
	require.Equal(t, "sess-1", ref.SessionID)
	_, perr := time.Parse(time.RFC3339Nano, ref.Timestamp)
	require.NoError(t, perr)

	seed := update["$setOnInsert"].(bson.M)
	require.Equal(t, "+5550001", seed["transmitter.phone"])
	require.Equal(t, "meta-7", seed["transmitter.meta_id"])
	require.NotContains(t, seed, "transmitter.email")

	require.Len(t, col.lastUpdateOpts, 1)
	require.True(t, *col.lastUpdateOpts[0].Upsert)
}

func TestAppendSession_StoreError(t *testing.T) {
	col := &fakeCollection{updateErr: errors.New("no reachable servers")}
	index, err := NewTransmitterIndex(col)
	require.NoError(t, err)

	err = index.AppendSession(context.Background(), "sess-1", domain.Identifiers{Phone: "+5550001"})
	require.Error(t, err)
	require.ErrorContains(t, err, "no reachable servers")
}

func TestLatestSessions_PoolsAndSorts(t *testing.T) {
	col := &fakeCollection{findDocs: []interface{}{
		domain.TransmitterRecord{Transmitter: domain.TransmitterIdentity{
			Phone: "+5550001",
			Sessions: []domain.SessionRef{
				{SessionID: "s1", Timestamp: "2026-08-30T10:00:00Z"},
				{SessionID: "s3", Timestamp: "2026-08-31T09:00:00Z"},
			},
		}},
		domain.TransmitterRecord{Transmitter: domain.TransmitterIdentity{
			Phone: "+5550001",
			Sessions: []domain.SessionRef{
				{SessionID: "s2", Timestamp: "2026-08-30T18:30:00Z"},
			},
		}},
	}}
	index, err := NewTransmitterIndex(col)
	require.NoError(t, err)

	refs, err := index.LatestSessions(context.Background(), domain.KindPhone, "+5550001", 0, true)
	require.NoError(t, err)
	require.Equal(t, []string{"s3", "s2", "s1"}, sessionIDs(refs))
	require.Equal(t, bson.M{"transmitter.phone": "+5550001"}, col.lastFilter)

	refs, err = index.LatestSessions(context.Background(), domain.KindPhone, "+5550001", 2, true)
	require.NoError(t, err)
	require.Equal(t, []string{"s3", "s2"}, sessionIDs(refs))

	refs, err = index.LatestSessions(context.Background(), domain.KindPhone, "+5550001", 0, false)
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2", "s3"}, sessionIDs(refs))
}

func TestLatestSessions_EmptyValue(t *testing.T) {
	index, err := NewTransmitterIndex(&fakeCollection{})
	require.NoError(t, err)

	refs, err := index.LatestSessions(context.Background(), domain.KindEmail, "  ", 5, true)
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestLatestSessions_NoRecords(t *testing.T) {
	index, err := NewTransmitterIndex(&fakeCollection{})
	require.NoError(t, err)

	refs, err := index.LatestSessions(context.Background(), domain.KindChatID, "chat-unseen", 1, true)
	require.NoError(t, err)
	require.Empty(t, refs)
}

func sessionIDs(refs []domain.SessionRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.SessionID)
	}
	return ids
}
