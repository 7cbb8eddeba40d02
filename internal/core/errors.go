package core

// Error codes for domain errors surfaced to the originating connection.
const (
	ErrCodeUnauthenticated       = "unauthenticated"
	ErrCodeEmptyMessage          = "empty_message"
	ErrCodeMissingTarget         = "missing_target"
	ErrCodeConversationNotFound  = "conversation_not_found"
	ErrCodeNotAParticipant       = "not_a_participant"
	ErrCodePersistenceError      = "persistence_error"
	ErrCodeBadRequest            = "bad_request"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
