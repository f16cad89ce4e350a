package domain

import "errors"

// Sentinel errors for the conversation core. Packages wrap these with
// fmt.Errorf("%w: ...") so callers can classify failures with errors.Is
// while still seeing the specific cause.
var (
	// ErrValidation indicates malformed or empty input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an absent message or thread.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an ownership or authorization violation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a duplicate reaction or a concurrent
	// duplicate-creation race.
	ErrConflict = errors.New("conflict")

	// ErrIntegrity indicates a decryption or authentication-tag failure.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrAuth indicates a connection handshake failure.
	ErrAuth = errors.New("authentication failed")
)

// ErrorCode maps a domain error to the wire-level error code delivered to
// the originating connection. Unrecognized errors map to "internal" so
// storage failures are surfaced as a generic failure without detail.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrIntegrity):
		return "unreadable"
	case errors.Is(err, ErrAuth):
		return "auth_failed"
	default:
		return "internal"
	}
}
