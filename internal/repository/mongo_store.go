package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// MongoConfig holds MongoDB configuration.
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

const (
	collConversations = "conversations"
	collMessages      = "messages"
	collUsers         = "users"
)

type readDoc struct {
	UserID    string `bson:"user_id"`
	MessageID int64  `bson:"message_id"`
}

type conversationDoc struct {
	ID             string    `bson:"_id"`
	Participants   []string  `bson:"participants"`
	ParticipantKey string    `bson:"participant_key"`
	Reads          []readDoc `bson:"reads"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (d *conversationDoc) toDomain() *domain.Conversation {
	c := &domain.Conversation{
		ID:           d.ID,
		Participants: d.Participants,
		LastRead:     make(map[string]domain.MessageID, len(d.Reads)),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	for _, r := range d.Reads {
		if r.MessageID > 0 {
			c.LastRead[r.UserID] = domain.MessageID(r.MessageID)
		}
	}
	return c
}

type messageDoc struct {
	ID             int64     `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Body           string    `bson:"body"`
	Type           string    `bson:"type"`
	Attachments    []string  `bson:"attachments"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d *messageDoc) toDomain() domain.Message {
	attachments := d.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return domain.Message{
		ID:             domain.MessageID(d.ID),
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Body:           d.Body,
		Type:           domain.MessageType(d.Type),
		Attachments:    attachments,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

type userDoc struct {
	ID          string `bson:"_id"`
	DisplayName string `bson:"display_name"`
	AvatarURL   string `bson:"avatar_url,omitempty"`
}

// NewMongoStore connects, verifies the connection and ensures indexes.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*Store, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := ensureMongoIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &Store{
		Conversations: &MongoConversationRepository{db: db},
		Messages:      &MongoMessageRepository{coll: db.Collection(collMessages)},
		Users:         &MongoUserRepository{coll: db.Collection(collUsers)},
		close:         client.Disconnect,
	}, nil
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		collConversations: {
			{Keys: bson.D{{Key: "participant_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
		},
		collMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// mongoError converts driver errors to the domain taxonomy. Duplicate keys
// stay persistence errors; only the conversation insert reports ErrDuplicate.
func mongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrNotFound
	default:
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
}

// MongoConversationRepository implements ConversationRepository on MongoDB.
// Watermarks live in an embedded reads array so user ids never become field names.
type MongoConversationRepository struct {
	db *mongo.Database
}

func (r *MongoConversationRepository) coll() *mongo.Collection {
	return r.db.Collection(collConversations)
}

// Create inserts a conversation with a zero watermark per participant.
func (r *MongoConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	doc := conversationDoc{
		ID:             c.ID,
		Participants:   c.Participants,
		ParticipantKey: domain.ParticipantKey(c.Participants),
		Reads:          make([]readDoc, 0, len(c.Participants)),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	for _, p := range c.Participants {
		doc.Reads = append(doc.Reads, readDoc{UserID: p, MessageID: int64(c.Watermark(p))})
	}

	_, err := r.coll().InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return mongoError(err)
}

// FindByID retrieves a conversation.
func (r *MongoConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var doc conversationDoc
	if err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoError(err)
	}
	return doc.toDomain(), nil
}

// FindByParticipants retrieves the conversation of an exact participant set.
func (r *MongoConversationRepository) FindByParticipants(ctx context.Context, normalized []string) (*domain.Conversation, error) {
	var doc conversationDoc
	err := r.coll().FindOne(ctx, bson.M{"participant_key": domain.ParticipantKey(normalized)}).Decode(&doc)
	if err != nil {
		return nil, mongoError(err)
	}
	return doc.toDomain(), nil
}

// ListByParticipant returns userID's conversations, most recent first.
func (r *MongoConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.coll().Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, mongoError(err)
	}
	defer cur.Close(ctx)

	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongoError(err)
	}
	out := make([]domain.Conversation, len(docs))
	for i := range docs {
		out[i] = *docs[i].toDomain()
	}
	return out, nil
}

// SetLastRead raises the participant's watermark with $max.
func (r *MongoConversationRepository) SetLastRead(ctx context.Context, conversationID, userID string, id domain.MessageID) error {
	res, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": conversationID, "reads.user_id": userID},
		bson.M{"$max": bson.M{"reads.$.message_id": int64(id)}},
	)
	if err != nil {
		return mongoError(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch bumps updated_at with $max.
func (r *MongoConversationRepository) Touch(ctx context.Context, conversationID string, at time.Time) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$max": bson.M{"updated_at": at.UTC()}},
	)
	return mongoError(err)
}

// Delete removes the conversation and its messages. Messages go first so a
// failure never leaves messages without a conversation.
func (r *MongoConversationRepository) Delete(ctx context.Context, id string) (int64, error) {
	n, err := r.coll().CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, mongoError(err)
	}
	if n == 0 {
		return 0, domain.ErrNotFound
	}

	res, err := r.db.Collection(collMessages).DeleteMany(ctx, bson.M{"conversation_id": id})
	if err != nil {
		return 0, mongoError(err)
	}
	if _, err := r.coll().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return res.DeletedCount, mongoError(err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldConversationID, id).Int64("messages", res.DeletedCount).Msg("conversation deleted in mongo")
	return res.DeletedCount, nil
}

// MongoMessageRepository implements MessageRepository on MongoDB.
type MongoMessageRepository struct {
	coll *mongo.Collection
}

// Create inserts a message.
func (r *MongoMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.coll.InsertOne(ctx, messageDoc{
		ID:             int64(m.ID),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Type:           string(m.Type),
		Attachments:    m.Attachments,
		CreatedAt:      m.CreatedAt,
	})
	return mongoError(err)
}

// Latest returns the newest message of a conversation.
func (r *MongoMessageRepository) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	var doc messageDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	if err := r.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc); err != nil {
		return nil, mongoError(err)
	}
	m := doc.toDomain()
	return &m, nil
}

// Page returns one window of messages, newest first.
func (r *MongoMessageRepository) Page(ctx context.Context, conversationID string, skip, limit int) ([]domain.Message, int64, error) {
	filter := bson.M{"conversation_id": conversationID}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, mongoError(err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, mongoError(err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, mongoError(err)
	}
	out := make([]domain.Message, len(docs))
	for i := range docs {
		out[i] = docs[i].toDomain()
	}
	return out, total, nil
}

// CountUnread counts messages past the watermark from other senders.
func (r *MongoMessageRepository) CountUnread(ctx context.Context, conversationID, userID string, after domain.MessageID) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"_id":             bson.M{"$gt": int64(after)},
		"sender_id":       bson.M{"$ne": userID},
	})
	return n, mongoError(err)
}

// MongoUserRepository implements UserRepository on MongoDB.
type MongoUserRepository struct {
	coll *mongo.Collection
}

// FindByIDs returns the profiles that exist among ids.
func (r *MongoUserRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, mongoError(err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, mongoError(err)
		}
		out[doc.ID] = domain.User{ID: doc.ID, DisplayName: doc.DisplayName, AvatarURL: doc.AvatarURL}
	}
	return out, mongoError(cur.Err())
}

// Upsert inserts or replaces a profile.
func (r *MongoUserRepository) Upsert(ctx context.Context, u domain.User) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": u.ID},
		userDoc{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL},
		options.Replace().SetUpsert(true),
	)
	return mongoError(err)
}
