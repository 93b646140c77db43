package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Conversation is a participant set plus per-user read watermarks.
type Conversation struct {
	ID           string               `json:"id"`
	Participants []string             `json:"participants"`
	LastRead     map[string]MessageID `json:"last_read,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID, in stored order.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// Watermark returns userID's last-read id, zero when never read.
func (c *Conversation) Watermark(userID string) MessageID {
	if c.LastRead == nil {
		return 0
	}
	return c.LastRead[userID]
}

// NormalizeParticipants trims, dedupes and sorts ids. A conversation needs at
// least two distinct participants.
func NormalizeParticipants(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty participant id", ErrValidation)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least two participants", ErrValidation)
	}
	sort.Strings(out)
	return out, nil
}

// ParticipantKey is the canonical identity of a participant set. Each id is
// length-prefixed so ids containing the separator cannot collide. Stores put a
// unique constraint on it so the same set never yields two conversations.
func ParticipantKey(normalized []string) string {
	var b strings.Builder
	for i, id := range normalized {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// User is the read-only profile of a participant.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	UnreadCount  int64     `json:"unread_count"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConversationList is a paginated listing.
type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
	Total         int                   `json:"total"`
	TotalPages    int                   `json:"total_pages"`
}
