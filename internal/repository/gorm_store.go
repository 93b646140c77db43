package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/database"
)

// NewGormStore wires the GORM repositories over db.
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Conversations: NewGormConversationRepository(db),
		Messages:      NewGormMessageRepository(db),
		Users:         NewGormUserRepository(db),
		close:         func(context.Context) error { return database.Close(db) },
	}
}

// MigrateGorm creates or updates the tables.
func MigrateGorm(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.UserModel{},
		&domain.ConversationModel{},
		&domain.ParticipantModel{},
		&domain.MessageModel{},
	)
}

// gormError converts driver errors to the domain taxonomy. Unique violations
// stay persistence errors here; only the conversation insert reports them as
// ErrDuplicate.
func gormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || // postgres
		strings.Contains(msg, "UNIQUE constraint") || // sqlite
		strings.Contains(msg, "Duplicate entry") // mysql
}
