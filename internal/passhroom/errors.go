package passhroom

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Handshake failure codes. They are returned to the browser verbatim as the
// "error" field of a JSON failure body.
const (
	CodeBadEmail            = "bad_email"
	CodeBadCode             = "bad_code"
	CodeBadState            = "bad_state"
	CodeMissingClientSecret = "missing_passhroom_client_secret"
	CodeClientSecretInvalid = "passhroom_client_secret_invalid"
	CodeUnreachable         = "passhroom_unreachable"
	CodeStartFailed         = "passhroom_start_failed"
	CodeCodeNoLocation      = "passhroom_code_no_location"
	CodeCodeBadLocation     = "passhroom_code_bad_location"
	CodeCodeMissingParams   = "passhroom_code_missing_params"
	CodeCodeFailed          = "passhroom_code_failed"
	CodeRateLimited         = "rate_limited"
	CodeCodeUsed            = "code_used"
	CodeCodeExpired         = "code_expired"
	CodeInvalidCode         = "invalid_code"
	CodeTokenExchangeFailed = "token_exchange_failed"
)

// Error is a handshake failure with the HTTP status the app should answer with.
type Error struct {
	Code    string
	Status  int
	Detail  string
	Timeout bool
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("passhroom: %s (%d): %s", e.Code, e.Status, e.Detail)
	}
	return fmt.Sprintf("passhroom: %s (%d)", e.Code, e.Status)
}

// Fatal reports whether retrying with another redirect URI is pointless.
func (e *Error) Fatal() bool {
	return e.Code == CodeClientSecretInvalid
}

// Terminal reports whether the login code itself was rejected for good, so
// the pending sign-in cannot be completed by retrying.
func (e *Error) Terminal() bool {
	switch e.Code {
	case CodeCodeUsed, CodeCodeExpired, CodeInvalidCode:
		return true
	}
	return false
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func unreachable(err error) *Error {
	return &Error{
		Code:    CodeUnreachable,
		Status:  http.StatusBadGateway,
		Detail:  err.Error(),
		Timeout: isTimeout(err),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
