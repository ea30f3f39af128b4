package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType identifies a lifecycle event emitted by a provider handle
type EventType string

const (
	// EventQR carries a fresh authentication challenge
	EventQR EventType = "qr"
	// EventReady signals the handle is authenticated
	EventReady EventType = "ready"
	// EventAuthFailure signals the credentials were rejected
	EventAuthFailure EventType = "auth_failure"
	// EventDisconnected signals the handle lost its connection
	EventDisconnected EventType = "disconnected"
	// EventTimeout signals the handshake did not complete in time
	EventTimeout EventType = "timeout"
)

// Events lists every event type a Handle may emit
var Events = []EventType{EventQR, EventReady, EventAuthFailure, EventDisconnected, EventTimeout}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	for _, e := range Events {
		if e == t {
			return true
		}
	}
	return false
}

// Event is a single lifecycle notification
type Event struct {
	Type EventType
	// Data holds the raw challenge for EventQR and a reason for the others
	Data string
	At   time.Time
}

// Handler receives events. Handlers may be invoked from any goroutine.
type Handler func(Event)

// SendOptions carries optional attachments for a message
type SendOptions struct {
	MediaURL string
}

// Handle is one provider connection owned by a single session
type Handle interface {
	// On registers fn for events of type evt. Must be called before Initialize.
	On(evt EventType, fn Handler)

	// Initialize starts the authentication handshake. It returns once the
	// handshake has been initiated, not when it completes.
	Initialize(ctx context.Context) error

	// SendMessage delivers body to a single recipient.
	SendMessage(ctx context.Context, to, body string, opts *SendOptions) error

	// Destroy retires the handle. Calling it more than once is allowed.
	Destroy(ctx context.Context) error
}

// Factory creates provider handles
type Factory interface {
	Create(ctx context.Context, userID string) (Handle, error)
	Close() error
}

// ErrDestroyed is returned by handles used after Destroy
var ErrDestroyed = errors.New("provider handle destroyed")

// Error wraps a failure reported by the underlying transport
type Error struct {
	Op     string // initialize, send, destroy, create
	UserID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed for %s: %v", e.Op, e.UserID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error unless it already is one
func Wrap(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Op: op, UserID: userID, Err: err}
}
