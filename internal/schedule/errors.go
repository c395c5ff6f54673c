package schedule

import "errors"

var (
	// ErrInvalidRequest is returned for malformed requests or policies. No search is attempted.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUpstreamUnavailable means the free/busy provider or event store could not be reached
	// (network failure, 5xx, rate limit). Callers may retry.
	ErrUpstreamUnavailable = errors.New("calendar provider unavailable")

	// ErrAuthExpired means the stored credential could not be refreshed and the user
	// has to reconnect their calendar.
	ErrAuthExpired = errors.New("calendar authentication expired, reconnect required")

	// ErrEventNotFound is returned when a focus block no longer exists upstream.
	ErrEventNotFound = errors.New("event not found")
)
