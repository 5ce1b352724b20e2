package models

import "errors"

// Sentinel errors surfaced by the session engine. Quota denial and group
// rejections are expected outcomes, not faults; only ErrStoreUnavailable
// represents an outage and is retryable.
var (
	ErrQuotaExceeded    = errors.New("daily quota exceeded")
	ErrTurnInFlight     = errors.New("a generation is already in flight for this conversation")
	ErrGroupFull        = errors.New("group is full")
	ErrGroupNotFound    = errors.New("group not found")
	ErrAlreadyInGroup   = errors.New("user already belongs to a group")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrStoreUnavailable = errors.New("persistent store unavailable")
)
