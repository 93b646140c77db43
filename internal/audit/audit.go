package audit

import (
	"context"

	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// Audit actions.
const (
	ActionIdentify           = "messenger.identify"
	ActionDisconnect         = "messenger.disconnect"
	ActionSendMessage        = "messenger.send_message"
	ActionAutoReply          = "messenger.auto_reply"
	ActionMarkRead           = "messenger.mark_read"
	ActionJoinConversation   = "messenger.join_conversation"
	ActionCreateConversation = "messenger.create_conversation"
	ActionDeleteConversation = "messenger.delete_conversation"
	ActionLogout             = "messenger.logout"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, userID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit entry about a specific conversation or message.
func LogTarget(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit entry with an extra detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
