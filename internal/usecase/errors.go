package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorMissingSource         ErrorCode = "MISSING_SOURCE"
	ErrorUnsupportedAttachment ErrorCode = "UNSUPPORTED_ATTACHMENT"
	ErrorRelayFailed           ErrorCode = "RELAY_FAILED"
	ErrorSessionBusy           ErrorCode = "SESSION_BUSY"
	ErrorInternal              ErrorCode = "INTERNAL_ERROR"
)

// Reasons attached to ErrorRelayFailed.
const (
	ReasonDownloadFailed = "download_failed"
	ReasonUploadFailed   = "upload_failed"
	ReasonTooLarge       = "too_large"
	ReasonTimeout        = "timeout"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" when
// there is none.
func CodeOf(err error) ErrorCode {
	var uerr *Error
	if !errors.As(err, &uerr) {
		return ""
	}
	return uerr.Code
}
