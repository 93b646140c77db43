package service

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/pubsub"
)

const publishTimeout = 2 * time.Second

// publish sends a domain event. Failures are logged and swallowed.
func publish(ctx context.Context, pub pubsub.Publisher, eventType, conversationID string, payload any) {
	if pub == nil {
		return
	}

	l := log.Ctx(ctx)
	evt, err := pubsub.NewEvent(eventType, conversationID, payload)
	if err != nil {
		l.Warn().Err(err).Str(log.FieldEvent, eventType).Msg("failed to build event")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := pub.Publish(pubCtx, pubsub.Channel(eventType), evt); err != nil {
		l.Warn().Err(err).Str(log.FieldEvent, eventType).Str(log.FieldConversationID, conversationID).Msg("failed to publish event")
	}
}
