package source

import (
	"errors"
	"fmt"
)

// ErrNoSources is returned when a chain has no candidates to try.
var ErrNoSources = errors.New("no candidate sources configured")

// TransportError covers network failures and non-2xx HTTP statuses.
type TransportError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("%s: transport: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the response was not the JSON envelope we expect.
type ProtocolError struct {
	Source string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Source, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ApplicationError is a well-formed response with success=false.
type ApplicationError struct {
	Source  string
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

// IsApplication reports whether err carries an ApplicationError.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}
