package events

import "errors"

// Error taxonomy for the ingestion path. Gateway and API translate these to
// error events and HTTP statuses; they are never silently dropped.
var (
	// ErrSessionNotFound indicates an operation on an unknown session id
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed indicates a publish or subscribe on an ended session
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidState indicates a lifecycle transition that is not allowed
	ErrInvalidState = errors.New("invalid session state")

	// ErrInvalidInput indicates a malformed event payload or request
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable indicates a retriever or generator failure.
	// Contained inside the pipeline; never propagated to a connection.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ErrorCode maps a taxonomy error to the machine-readable code carried in
// error events sent back to an originating connection.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
