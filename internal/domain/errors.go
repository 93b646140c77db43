package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("%w: ...").
var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrPersistence           = errors.New("persistence failure")
	ErrExternalService       = errors.New("external service failure")
	ErrPresenceInconsistency = errors.New("presence inconsistency")

	// ErrNotParticipant is a validation error for a user outside a conversation.
	ErrNotParticipant = fmt.Errorf("%w: not a participant", ErrValidation)
)

// Codes carried on error events and HTTP error bodies.
const (
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeNotFound         = "NOT_FOUND"
	CodePersistence      = "PERSISTENCE_ERROR"
	CodeNotIdentified    = "NOT_IDENTIFIED"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeNotParticipant   = "NOT_PARTICIPANT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeIdentityMismatch = "IDENTITY_MISMATCH"
	CodeMalformedFrame   = "MALFORMED_FRAME"
)

// ErrorCode maps an error onto a wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotParticipant):
		return CodeNotParticipant
	case errors.Is(err, ErrValidation):
		return CodeInvalidMessage
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}
