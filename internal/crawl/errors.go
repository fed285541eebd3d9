package crawl

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the crawl pipeline.
var (
	// ErrAccountNotFound signals that the account search returned no match.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAlreadyRunning signals that a crawl run is already in flight.
	ErrAlreadyRunning = errors.New("crawler is already running")
	// ErrDuplicate signals a first-write-wins conflict in the document store.
	ErrDuplicate = errors.New("duplicate article")
	// ErrDropped signals that a record failed validation and was discarded.
	ErrDropped = errors.New("article dropped")
)

// TransportError wraps network-level failures. These are retryable when they
// occur on listing-page fetches.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a TransportError.
func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ProtocolError represents a well-formed but unexpected source response, such
// as a non-success status envelope. Protocol errors are never retried.
type ProtocolError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: protocol error: status %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Detail)
}

// NewProtocolError builds a ProtocolError.
func NewProtocolError(op string, status int, detail string) error {
	return &ProtocolError{Op: op, Status: status, Detail: detail}
}
