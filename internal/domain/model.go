package domain

import (
	"time"

	"github.com/weiawesome/wes-io-messenger/pkg/database"
)

// ConversationModel is the GORM model for the conversations table.
// ParticipantHash is a digest of ParticipantKey so the unique index stays
// within index length limits for large groups.
type ConversationModel struct {
	ID              string             `gorm:"type:varchar(36);primaryKey"`
	ParticipantKey  string             `gorm:"type:text;not null"`
	ParticipantHash string             `gorm:"type:char(64);uniqueIndex;not null"`
	CreatedAt       time.Time          `gorm:"autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"index"`
	Participants    []ParticipantModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for ConversationModel.
func (ConversationModel) TableName() string {
	return "conversations"
}

// ParticipantModel is one member of a conversation with their read watermark.
type ParticipantModel struct {
	ConversationID    string `gorm:"type:varchar(36);primaryKey"`
	UserID            string `gorm:"type:varchar(64);primaryKey;index"`
	Position          int    `gorm:"not null;default:0"`
	LastReadMessageID int64  `gorm:"not null;default:0"`
}

// TableName specifies the table name for ParticipantModel.
func (ParticipantModel) TableName() string {
	return "conversation_participants"
}

// ToDomain converts ConversationModel to a domain Conversation.
func (m *ConversationModel) ToDomain() *Conversation {
	c := &Conversation{
		ID:           m.ID,
		Participants: make([]string, 0, len(m.Participants)),
		LastRead:     make(map[string]MessageID),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	for _, p := range m.Participants {
		c.Participants = append(c.Participants, p.UserID)
		if p.LastReadMessageID > 0 {
			c.LastRead[p.UserID] = MessageID(p.LastReadMessageID)
		}
	}
	return c
}

// ConversationToModel converts a domain Conversation to ConversationModel.
func ConversationToModel(c *Conversation, hash string) *ConversationModel {
	m := &ConversationModel{
		ID:              c.ID,
		ParticipantKey:  ParticipantKey(c.Participants),
		ParticipantHash: hash,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	for i, p := range c.Participants {
		m.Participants = append(m.Participants, ParticipantModel{
			ConversationID:    c.ID,
			UserID:            p,
			Position:          i,
			LastReadMessageID: int64(c.Watermark(p)),
		})
	}
	return m
}

// MessageModel is the GORM model for the messages table. IDs come from the
// snowflake generator, never from the database.
type MessageModel struct {
	ID             int64                `gorm:"primaryKey;autoIncrement:false"`
	ConversationID string               `gorm:"type:varchar(36);index;not null"`
	SenderID       string               `gorm:"type:varchar(64);not null"`
	Body           string               `gorm:"type:text"`
	Type           string               `gorm:"type:varchar(16);not null"`
	Attachments    database.StringArray `gorm:"type:text"`
	CreatedAt      time.Time
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to a domain Message.
func (m *MessageModel) ToDomain() *Message {
	attachments := []string(m.Attachments)
	if attachments == nil {
		attachments = []string{}
	}
	return &Message{
		ID:             MessageID(m.ID),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Type:           MessageType(m.Type),
		Attachments:    attachments,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// MessageToModel converts a domain Message to MessageModel.
func MessageToModel(m *Message) *MessageModel {
	return &MessageModel{
		ID:             int64(m.ID),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Type:           string(m.Type),
		Attachments:    database.StringArray(m.Attachments),
		CreatedAt:      m.CreatedAt,
	}
}

// UserModel is the read-side GORM model for user profiles.
type UserModel struct {
	ID          string    `gorm:"type:varchar(64);primaryKey"`
	DisplayName string    `gorm:"type:varchar(100);not null"`
	AvatarURL   string    `gorm:"type:varchar(512)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to a domain User.
func (m *UserModel) ToDomain() User {
	return User{ID: m.ID, DisplayName: m.DisplayName, AvatarURL: m.AvatarURL}
}
