package audius

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by every operation when no discovery provider was selected at startup.
	ErrNotInitialized = errors.New("audius source is not initialized: discovery provider not available")
	// ErrNotFound signals that the upstream reported the resource as absent.
	// Resolution paths normalize it to an empty result; it is never returned from LoadItem.
	ErrNotFound = errors.New("audius resource not found")
	// ErrNoStream is returned when the stream lookup yields no usable media URL.
	ErrNoStream = errors.New("no stream available")
	// ErrUnknownResourceType is returned when a resolved resource has an id but is not a track.
	ErrUnknownResourceType = errors.New("could not determine resource type")
)

// ProtocolError is an explicit upstream error payload or a structurally invalid success payload.
type ProtocolError struct {
	URL       string
	Message   string
	Malformed bool // The response violated the envelope contract rather than reporting an error.
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("audius API error from %s: %s", e.URL, e.Message)
}

// TransportError is a network or IO failure, tagged with the identifier being processed.
type TransportError struct {
	ID  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError means an entity would violate the Track invariants.
type ValidationError struct {
	ID    string
	Field string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("audius track details are incomplete: missing %s", e.Field)
	}
	return fmt.Sprintf("audius track %s details are incomplete: missing %s", e.ID, e.Field)
}
