package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/repository"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/storage"
)

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// attachmentServiceImpl implements AttachmentService.
type attachmentServiceImpl struct {
	conversations repository.ConversationRepository
	storage       storage.Storage
	maxSize       int64
	urlExpiry     time.Duration
}

// NewAttachmentService creates an attachment service over the given backend.
func NewAttachmentService(conversations repository.ConversationRepository, st storage.Storage, maxSize int64, urlExpiry time.Duration) AttachmentService {
	return &attachmentServiceImpl{
		conversations: conversations,
		storage:       st,
		maxSize:       maxSize,
		urlExpiry:     urlExpiry,
	}
}

func attachmentPrefix(conversationID string) string {
	return "attachments/" + conversationID + "/"
}

// sanitizeFilename keeps the base name and replaces anything unusual.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilename.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}

func (s *attachmentServiceImpl) Upload(ctx context.Context, conversationID, filename, contentType string, size int64, r io.Reader) (*domain.Attachment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrValidation)
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrValidation, s.maxSize)
	}
	if _, err := s.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, err
	}

	key := attachmentPrefix(conversationID) + strings.ToLower(ulid.Make().String()) + "-" + sanitizeFilename(filename)
	if err := s.storage.Write(ctx, key, io.LimitReader(r, size), size, contentType); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	url, err := s.storage.GetURL(ctx, key, s.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConversationID, conversationID).
		Str("key", key).
		Int64("size", size).
		Msg("attachment stored")

	return &domain.Attachment{Key: key, URL: url, ContentType: contentType, Size: size}, nil
}

func (s *attachmentServiceImpl) Purge(ctx context.Context, conversationID string) error {
	return s.storage.DeletePrefix(ctx, attachmentPrefix(conversationID))
}
