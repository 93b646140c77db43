package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create inserts a message.
func (r *GormMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(domain.MessageToModel(m)).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, m.ConversationID).Msg("failed to create message in db")
		return gormError(err)
	}
	return nil
}

// Latest returns the newest message of a conversation.
func (r *GormMessageRepository) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	var model domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		First(&model).Error
	if err != nil {
		return nil, gormError(err)
	}
	return model.ToDomain(), nil
}

// Page returns one window of messages, newest first.
func (r *GormMessageRepository) Page(ctx context.Context, conversationID string, skip, limit int) ([]domain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.MessageModel{}).Where("conversation_id = ?", conversationID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, gormError(err)
	}

	var models []domain.MessageModel
	if err := query.Order("id DESC").Offset(skip).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, gormError(err)
	}

	out := make([]domain.Message, len(models))
	for i := range models {
		out[i] = *models[i].ToDomain()
	}
	return out, total, nil
}

// CountUnread counts messages past the watermark from other senders.
func (r *GormMessageRepository) CountUnread(ctx context.Context, conversationID, userID string, after domain.MessageID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("conversation_id = ? AND id > ? AND sender_id <> ?", conversationID, int64(after), userID).
		Count(&count).Error
	return count, gormError(err)
}
