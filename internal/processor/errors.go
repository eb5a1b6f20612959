package processor

import (
    "errors"
)

// Kind sentinels. Match with errors.Is; the text is the API error code.
var (
    ErrInvalidRequest         = errors.New("invalid_request")
    ErrUserNotFound           = errors.New("user_not_found")
    ErrInactiveAccount        = errors.New("inactive_account")
    ErrInvalidPin             = errors.New("invalid_pin")
    ErrInsufficientBalance    = errors.New("insufficient_balance")
    ErrVerificationFailed     = errors.New("verification_failed")
    ErrVendorRejected         = errors.New("vendor_rejected")
    ErrVendorUnreachable      = errors.New("vendor_unreachable")
    ErrUnsupportedCombination = errors.New("unsupported_combination")
    ErrIdempotencyConflict    = errors.New("idempotency_conflict")
    ErrUnknownVendor          = errors.New("unknown_vendor")
    ErrInternal               = errors.New("internal_error")
)

// Error carries a kind, a message safe to show the end user, and the
// underlying cause for logs.
type Error struct {
    Kind    error
    Message string
    Err     error
}

func (e *Error) Error() string {
    msg := e.Kind.Error()
    if e.Message != "" {
        msg += ": " + e.Message
    }
    if e.Err != nil {
        msg += ": " + e.Err.Error()
    }
    return msg
}

func (e *Error) Is(target error) bool {
    return target == e.Kind
}

func (e *Error) Unwrap() error {
    return e.Err
}

func newError(kind error, message string, cause error) *Error {
    return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind sentinel of err, ErrInternal for anything else.
func KindOf(err error) error {
    var pe *Error
    if errors.As(err, &pe) {
        return pe.Kind
    }
    return ErrInternal
}

// UserMessage is the text the end user may see. Vendor and internal
// failures collapse to one generic message.
func UserMessage(err error) string {
    kind := KindOf(err)
    if kind == ErrVendorRejected || kind == ErrVendorUnreachable || kind == ErrInternal {
        return "service issue, please try again later"
    }
    var pe *Error
    if errors.As(err, &pe) && pe.Message != "" {
        return pe.Message
    }
    return kind.Error()
}
