package pubsub

import "strings"

const channelPrefix = "messenger:"

// Event types published by the messenger.
const (
	EventMessageCreated      = "message.created"
	EventConversationCreated = "conversation.created"
	EventConversationRead    = "conversation.read"
	EventConversationDeleted = "conversation.deleted"
)

// AllEvents lists every event type, used to pre-create kafka topics.
var AllEvents = []string{
	EventMessageCreated,
	EventConversationCreated,
	EventConversationRead,
	EventConversationDeleted,
}

// Channel returns the bus channel for an event type.
func Channel(eventType string) string {
	return channelPrefix + eventType
}

// channelToTopic maps "messenger:message.created" to "messenger-message-created".
func channelToTopic(channel string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(channel)
}
