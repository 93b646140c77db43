package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/database"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, MigrateGorm(db))

	s := NewGormStore(db)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// newMongoStore runs against MESSENGER_TEST_MONGO_URI with a throwaway database.
func newMongoStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MESSENGER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MESSENGER_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := NewMongoStore(ctx, MongoConfig{
		URI:      uri,
		Database: fmt.Sprintf("messenger_test_%d", time.Now().UnixNano()),
		Timeout:  10 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Conversations.(*MongoConversationRepository).db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func backends() map[string]func(t *testing.T) *Store {
	return map[string]func(t *testing.T) *Store{
		"memory": func(*testing.T) *Store { return NewMemoryStore() },
		"sqlite": newSQLiteStore,
		"mongo":  newMongoStore,
	}
}

func msg(id int64, conv, sender string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             domain.MessageID(id),
		ConversationID: conv,
		SenderID:       sender,
		Body:           fmt.Sprintf("m%d", id),
		Type:           domain.MessageTypeText,
		Attachments:    []string{},
		CreatedAt:      at,
	}
}

func TestStore_ConversationLifecycle(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			c := &domain.Conversation{ID: "c1", Participants: []string{"alice", "bob"}}
			require.NoError(t, s.Conversations.Create(ctx, c))

			dup := &domain.Conversation{ID: "c2", Participants: []string{"alice", "bob"}}
			assert.ErrorIs(t, s.Conversations.Create(ctx, dup), ErrDuplicate)

			got, err := s.Conversations.FindByParticipants(ctx, []string{"alice", "bob"})
			require.NoError(t, err)
			assert.Equal(t, "c1", got.ID)
			assert.Equal(t, []string{"alice", "bob"}, got.Participants)

			_, err = s.Conversations.FindByID(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, s.Conversations.SetLastRead(ctx, "c1", "alice", 10))
			require.NoError(t, s.Conversations.SetLastRead(ctx, "c1", "alice", 5), "lower id is ignored, not an error")
			got, err = s.Conversations.FindByID(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, domain.MessageID(10), got.Watermark("alice"))
			assert.Equal(t, domain.MessageID(0), got.Watermark("bob"))

			assert.ErrorIs(t, s.Conversations.SetLastRead(ctx, "c1", "mallory", 10), domain.ErrNotFound)
		})
	}
}

func TestStore_ParticipantSetsWithSeparator(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c1", Participants: []string{"a,b", "c"}}))
			require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c2", Participants: []string{"a", "b,c"}}))

			got, err := s.Conversations.FindByParticipants(ctx, []string{"a", "b,c"})
			require.NoError(t, err)
			assert.Equal(t, "c2", got.ID)
		})
	}
}

func TestStore_ListOrderAndTouch(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			for i, other := range []string{"bob", "carol", "dave"} {
				c := &domain.Conversation{
					ID:           fmt.Sprintf("c%d", i),
					Participants: []string{"alice", other},
					CreatedAt:    base,
					UpdatedAt:    base.Add(time.Duration(i) * time.Minute),
				}
				require.NoError(t, s.Conversations.Create(ctx, c))
			}
			require.NoError(t, s.Conversations.Touch(ctx, "c0", base.Add(time.Hour)))
			require.NoError(t, s.Conversations.Touch(ctx, "c2", base), "older timestamp does not rewind")

			list, err := s.Conversations.ListByParticipant(ctx, "alice")
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, c := range list {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, []string{"c0", "c2", "c1"}, ids)

			list, err = s.Conversations.ListByParticipant(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "c0", list[0].ID)
		})
	}
}

func TestStore_MessagesAndUnread(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c1", Participants: []string{"a", "b"}}))

			_, err := s.Messages.Latest(ctx, "c1")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			senders := []string{"a", "b", "b", "a", "b"}
			for i, sender := range senders {
				require.NoError(t, s.Messages.Create(ctx, msg(int64(i+1), "c1", sender, now.Add(time.Duration(i)*time.Second))))
			}

			latest, err := s.Messages.Latest(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, domain.MessageID(5), latest.ID)

			// For every watermark k, unread(a) = count(id > k && sender != a).
			for k := 0; k <= len(senders); k++ {
				want := int64(0)
				for i, sender := range senders {
					if i+1 > k && sender != "a" {
						want++
					}
				}
				got, err := s.Messages.CountUnread(ctx, "c1", "a", domain.MessageID(k))
				require.NoError(t, err)
				assert.Equal(t, want, got, "watermark %d", k)
			}

			page, total, err := s.Messages.Page(ctx, "c1", 1, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(5), total)
			require.Len(t, page, 2)
			assert.Equal(t, domain.MessageID(4), page[0].ID)
			assert.Equal(t, domain.MessageID(3), page[1].ID)
			assert.Equal(t, "b", page[1].SenderID)
		})
	}
}

func TestStore_DuplicateMessageIsPersistenceError(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			now := time.Now().UTC()

			require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c1", Participants: []string{"a", "b"}}))
			require.NoError(t, s.Messages.Create(ctx, msg(7, "c1", "a", now)))

			err := s.Messages.Create(ctx, msg(7, "c1", "b", now))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrPersistence)
			assert.NotErrorIs(t, err, ErrDuplicate)
		})
	}
}

func TestStore_DeleteCascades(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			now := time.Now().UTC()

			require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c1", Participants: []string{"a", "b"}}))
			for i := 1; i <= 3; i++ {
				require.NoError(t, s.Messages.Create(ctx, msg(int64(i), "c1", "a", now)))
			}

			removed, err := s.Conversations.Delete(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, int64(3), removed)

			_, err = s.Conversations.FindByID(ctx, "c1")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			_, total, err := s.Messages.Page(ctx, "c1", 0, 10)
			require.NoError(t, err)
			assert.Zero(t, total)

			_, err = s.Conversations.Delete(ctx, "c1")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c9", Participants: []string{"a", "b"}}),
				"participant set is free again after delete")
		})
	}
}

func TestStore_MongoReadsArray(t *testing.T) {
	ctx := context.Background()
	s := newMongoStore(t)

	require.NoError(t, s.Conversations.Create(ctx, &domain.Conversation{ID: "c1", Participants: []string{"a", "b", "c"}}))
	require.NoError(t, s.Conversations.SetLastRead(ctx, "c1", "b", 9))
	require.NoError(t, s.Conversations.SetLastRead(ctx, "c1", "c", 4))
	require.NoError(t, s.Conversations.SetLastRead(ctx, "c1", "b", 3))

	got, err := s.Conversations.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(0), got.Watermark("a"), "positional update only touches the matched entry")
	assert.Equal(t, domain.MessageID(9), got.Watermark("b"))
	assert.Equal(t, domain.MessageID(4), got.Watermark("c"))

	var raw struct {
		ParticipantKey string `bson:"participant_key"`
	}
	require.NoError(t, s.Conversations.(*MongoConversationRepository).coll().
		FindOne(ctx, bson.M{"_id": "c1"}).Decode(&raw))
	assert.Equal(t, domain.ParticipantKey([]string{"a", "b", "c"}), raw.ParticipantKey)
}

func TestStore_Users(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Users.Upsert(ctx, domain.User{ID: "a", DisplayName: "Alice"}))
			require.NoError(t, s.Users.Upsert(ctx, domain.User{ID: "a", DisplayName: "Alicia"}))
			require.NoError(t, s.Users.Upsert(ctx, domain.User{ID: "b", DisplayName: "Bob"}))

			got, err := s.Users.FindByIDs(ctx, []string{"a", "b", "ghost"})
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Equal(t, "Alicia", got["a"].DisplayName)
		})
	}
}
