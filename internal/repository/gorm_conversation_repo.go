package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// GormConversationRepository implements ConversationRepository using GORM.
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a new GORM-based conversation repository.
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create inserts the conversation and its participant rows in one transaction.
func (r *GormConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	model := domain.ConversationToModel(c, participantHash(c.Participants))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to create conversation in db")
		return gormError(err)
	}

	c.CreatedAt = model.CreatedAt
	c.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID retrieves a conversation with its participants.
func (r *GormConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		First(&model, "id = ?", id).Error
	if err != nil {
		return nil, gormError(err)
	}
	return model.ToDomain(), nil
}

// FindByParticipants retrieves the conversation of an exact participant set.
func (r *GormConversationRepository) FindByParticipants(ctx context.Context, normalized []string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		First(&model, "participant_hash = ?", participantHash(normalized)).Error
	if err != nil {
		return nil, gormError(err)
	}
	return model.ToDomain(), nil
}

// ListByParticipant returns every conversation userID belongs to.
func (r *GormConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error) {
	sub := r.db.Model(&domain.ParticipantModel{}).
		Select("conversation_id").
		Where("user_id = ?", userID)

	var models []domain.ConversationModel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("id IN (?)", sub).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list conversations")
		return nil, gormError(err)
	}

	out := make([]domain.Conversation, len(models))
	for i := range models {
		out[i] = *models[i].ToDomain()
	}
	return out, nil
}

// SetLastRead moves the watermark forward for a participant.
func (r *GormConversationRepository) SetLastRead(ctx context.Context, conversationID, userID string, id domain.MessageID) error {
	db := r.db.WithContext(ctx)
	result := db.Model(&domain.ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ? AND last_read_message_id < ?", conversationID, userID, int64(id)).
		Update("last_read_message_id", int64(id))
	if result.Error != nil {
		return gormError(result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Nothing moved: either already at or past id, or not a participant.
	var count int64
	if err := db.Model(&domain.ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error; err != nil {
		return gormError(err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch bumps updated_at.
func (r *GormConversationRepository) Touch(ctx context.Context, conversationID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.ConversationModel{}).
		Where("id = ? AND updated_at < ?", conversationID, at).
		UpdateColumn("updated_at", at).Error
	return gormError(err)
}

// Delete removes the conversation, its participants and its messages.
func (r *GormConversationRepository) Delete(ctx context.Context, id string) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.ConversationModel
		if err := tx.Select("id").First(&model, "id = ?", id).Error; err != nil {
			return err
		}

		msgs := tx.Where("conversation_id = ?", id).Delete(&domain.MessageModel{})
		if msgs.Error != nil {
			return msgs.Error
		}
		removed = msgs.RowsAffected

		if err := tx.Where("conversation_id = ?", id).Delete(&domain.ParticipantModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.ConversationModel{}, "id = ?", id).Error
	})
	if err != nil {
		return 0, gormError(err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldConversationID, id).Int64("messages", removed).Msg("conversation deleted in db")
	return removed, nil
}
