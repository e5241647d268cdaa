package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProvider is the kind of every provider failure.
	ErrProvider = errors.New("provider error")
	// ErrNotFound is returned when the provider answers 404.
	ErrNotFound = errors.New("provider: not found")
	// ErrMediaTooLarge is returned when a download exceeds the configured limit.
	ErrMediaTooLarge = errors.New("provider: media exceeds size limit")
)

// Error describes a failed provider call.
type Error struct {
	Op     string // client operation, e.g. "GetChat"
	Status int    // HTTP status; 0 for transport failures
	Body   string // truncated response body
	Err    error  // underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("provider %s: status %d", e.Op, e.Status)
	}
}

// Is lets errors.Is match ErrProvider for every Error and ErrNotFound for 404s.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrProvider:
		return true
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

func (e *Error) Unwrap() error { return e.Err }
