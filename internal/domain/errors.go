package domain

import "errors"

// Domain errors
var (
	ErrUnknownActionType      = errors.New("unknown action type")
	ErrUnknownSpecialEvent    = errors.New("unknown special event")
	ErrUnknownPeriod          = errors.New("unknown leaderboard period")
	ErrInvalidPoints          = errors.New("points must not be negative")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrUserNotRanked          = errors.New("user not found in leaderboard")
	ErrConcurrentModification = errors.New("concurrent modification of profile")
	ErrDuplicateAction        = errors.New("action already recorded")
	ErrActionNotFound         = errors.New("action not found")
	ErrInvariantViolation     = errors.New("invariant violation")
	ErrServiceUnavailable     = errors.New("service temporarily unavailable")
	ErrStorageUnavailable     = errors.New("storage temporarily unavailable")
	ErrInternalError          = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrUserNotRanked)
}

// IsClientError reports whether err was caused by the caller's input
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownActionType) ||
		errors.Is(err, ErrUnknownSpecialEvent) ||
		errors.Is(err, ErrUnknownPeriod) ||
		errors.Is(err, ErrInvalidPoints) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsUnavailableError reports whether err is a transient failure the caller may retry
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrStorageUnavailable)
}

// IsRetryable reports whether the same request may succeed if repeated later
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || IsUnavailableError(err)
}
