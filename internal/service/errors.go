package service

import "errors"

// Error taxonomy for panel operations. Handlers map these to HTTP status
// codes with errors.Is; messages wrapped around them are user-facing.
var (
	// ErrValidation: bad local input, no network call was made.
	ErrValidation = errors.New("invalid input")

	// ErrAuth: the server rejected a login or 2FA attempt.
	ErrAuth = errors.New("authentication failed")

	// ErrConfig: a required endpoint URL is not configured.
	ErrConfig = errors.New("endpoint not configured")

	// ErrNetwork: the call never produced an HTTP response.
	ErrNetwork = errors.New("network error")

	// ErrServer: the backend answered with a non-2xx status.
	ErrServer = errors.New("server error")

	// ErrNotFound: the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey: the access key collides with a cached entry.
	ErrDuplicateKey = errors.New("key already exists")

	// ErrConfirmRequired: a destructive action needs explicit confirmation.
	ErrConfirmRequired = errors.New("confirmation required")

	// ErrNotAuthenticated: the operation needs a logged-in session.
	ErrNotAuthenticated = errors.New("not authenticated")
)
