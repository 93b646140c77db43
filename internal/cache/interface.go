package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// PageCache caches message history pages. Keys embed a per-conversation
// version; bumping the version makes every older page unreachable.
type PageCache interface {
	Version(ctx context.Context, conversationID string) (int64, error)
	Bump(ctx context.Context, conversationID string) error
	BuildKey(conversationID string, version int64, page, pageSize int) string
	Get(ctx context.Context, key string) (*domain.MessagePage, error)
	Set(ctx context.Context, key string, page *domain.MessagePage, ttl time.Duration) error
	Close() error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Version(context.Context, string) (int64, error) { return 0, nil }
func (NopCache) Bump(context.Context, string) error             { return nil }
func (NopCache) BuildKey(string, int64, int, int) string        { return "" }
func (NopCache) Get(context.Context, string) (*domain.MessagePage, error) {
	return nil, ErrCacheMiss
}
func (NopCache) Set(context.Context, string, *domain.MessagePage, time.Duration) error {
	return nil
}
func (NopCache) Close() error { return nil }
