package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrEngineUnavailable = errors.New("scanning engine unavailable")
	ErrMalformedResult   = errors.New("malformed result")
	ErrTimeout           = errors.New("no activity within the inactivity window")
	ErrAuthDegraded      = errors.New("credential present but invalid")
	ErrSessionNotFound   = errors.New("scan session not found")
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrOwnerConflict     = errors.New("session must be owned by exactly one of principal or anonymous session")
)

// QuotaExceededError carries the numbers a caller needs to render
// remaining-scan messaging.
type QuotaExceededError struct {
	Count   int
	Ceiling int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d of %d scans used in the last 24h", ErrQuotaExceeded, e.Count, e.Ceiling)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
