package protocol

import "errors"

// ErrorCode is the closed set of wire-level error enum values a
// wired.error reply may carry (§6).
type ErrorCode string

const (
	ErrPermissionDenied       ErrorCode = "permission_denied"
	ErrInvalidMessageCode     ErrorCode = "invalid_message"
	ErrOutOfSequence          ErrorCode = "message_out_of_sequence"
	ErrUnrecognizedMessageCode ErrorCode = "unrecognized_message"
	ErrLoginFailed            ErrorCode = "login_failed"
	ErrUserNotFound           ErrorCode = "user_not_found"
	ErrUserCannotBeDisconnected ErrorCode = "user_cannot_be_disconnected"
	ErrChatNotFound           ErrorCode = "chat_not_found"
	ErrNotOnChat              ErrorCode = "not_on_chat"
	ErrAlreadyOnChat          ErrorCode = "already_on_chat"
	ErrNotInvitedToChat       ErrorCode = "not_invited_to_chat"
	ErrBoardExists            ErrorCode = "board_exists"
	ErrBoardNotFound          ErrorCode = "board_not_found"
	ErrFileNotFound           ErrorCode = "file_not_found"
	ErrFileExists             ErrorCode = "file_exists"
	ErrAccountNotFound        ErrorCode = "account_not_found"
	ErrAccountExists          ErrorCode = "account_exists"
	ErrAccountInUse           ErrorCode = "account_in_use"
	ErrNotSubscribed          ErrorCode = "not_subscribed"
	ErrAlreadySubscribed      ErrorCode = "already_subscribed"
	ErrBanExists              ErrorCode = "ban_exists"
	ErrBanNotFound            ErrorCode = "ban_not_found"
	ErrTrackerNotEnabled      ErrorCode = "tracker_not_enabled"
	ErrInternal               ErrorCode = "internal_error"
	ErrRsrcNotSupported       ErrorCode = "rsrc_not_supported"
)

// WireError is a handler-level error that maps directly onto a
// wired.error reply. Handlers never throw across the dispatch boundary;
// they return either nil (success) or a *WireError.
type WireError struct {
	Code    ErrorCode
	Detail  string // only ever surfaced for ErrInternal (§7.e)
}

func (e *WireError) Error() string {
	if e.Detail != "" {
		return string(e.Code) + ": " + e.Detail
	}
	return string(e.Code)
}

func NewError(code ErrorCode) *WireError { return &WireError{Code: code} }

func Internal(detail string) *WireError {
	return &WireError{Code: ErrInternal, Detail: detail}
}

// Reply builds the wired.error message for this error, echoing req's
// transaction id.
func (e *WireError) Reply(req *Message) *Message {
	m := New("wired.error").SetString("wired.error", string(e.Code))
	if e.Detail != "" {
		m.SetString("wired.error.detail", e.Detail)
	}
	return m.EchoTxn(req)
}

// Sentinel codec-level errors (distinct from WireError: these never reach
// a handler). The receive loop answers ErrUnrecognizedMessage and
// ErrInvalidMessage with a wired.error and keeps reading; the framing
// errors end the session.
var (
	ErrUnrecognizedMessage = errors.New("protocol: unrecognized message name")
	ErrInvalidMessage      = errors.New("protocol: message does not match schema")
	ErrFrameTooLarge       = errors.New("protocol: frame exceeds maximum size")
	ErrShortRead           = errors.New("protocol: short read")
)
