package apperror

import "errors"

// Kind describes a stable error category that can be mapped to HTTP status codes.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	// KindState marks a well-formed request rejected because of the entity's state
	// (inactive or expired promocode, order that cannot be issued yet).
	KindState Kind = "state"
	// KindUpstream marks a failure of the eSIM provider or the Telegram Bot API.
	KindUpstream Kind = "upstream"
	// KindStorage marks an I/O failure of a store other than a missing document.
	KindStorage Kind = "storage"
)

// Error is a typed error with a stable Kind and a human-readable message.
// Msg should be safe to return to clients for Validation/NotFound/Conflict/State/Upstream.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFound(msg string, err error) error   { return New(KindNotFound, msg, err) }
func Validation(msg string, err error) error { return New(KindValidation, msg, err) }
func Conflict(msg string, err error) error   { return New(KindConflict, msg, err) }
func State(msg string, err error) error      { return New(KindState, msg, err) }
func Upstream(msg string, err error) error   { return New(KindUpstream, msg, err) }
func Storage(msg string, err error) error    { return New(KindStorage, msg, err) }

func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
