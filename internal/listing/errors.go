package listing

import "errors"

var (
	// ErrStoreUnavailable means the backing store reported it cannot serve
	// requests. Callers keep whatever state they had.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound means no record exists under the requested id.
	ErrNotFound = errors.New("listing not found")

	// ErrMalformedRecord means a stored record could not be decoded.
	ErrMalformedRecord = errors.New("malformed listing record")

	// ErrInvalidServiceType rejects a create before any store call.
	ErrInvalidServiceType = errors.New("service type is required and must be a known type")

	// ErrInvalidRequest rejects a create with otherwise bad fields.
	ErrInvalidRequest = errors.New("invalid listing request")

	// ErrInvalidTransition rejects a status change that skips or repeats a
	// state, or targets a state that cannot be entered.
	ErrInvalidTransition = errors.New("invalid status transition")
)
