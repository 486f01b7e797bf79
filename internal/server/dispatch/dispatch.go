// Package dispatch defines the outbound hand-off capability the delivery
// scheduler calls once a capsule's content is decrypted. The wire protocol
// to the recipient (bot transport, push, email, ...) lives behind the
// Dispatcher interface and is provided by the host application.
package dispatch

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

// Content carries the decrypted payload to the transport.
type Content struct {
	Kind models.ContentKind
	Data []byte
}

// Dispatcher hands plaintext content to a recipient. Implementations signal
// how a failure should be handled by wrapping the error with Terminal or
// Retryable; unclassified errors (including context deadline expiry) are
// treated as retryable.
type Dispatcher interface {
	Send(ctx context.Context, recipient models.Recipient, content Content) error
}

// TerminalError marks a failure that retrying cannot fix: the recipient is
// permanently unreachable or rejected the content.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal dispatch error: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// RetryableError marks a transient failure worth another delivery cycle.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable dispatch error: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Terminal wraps err as a terminal failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsTerminal reports whether err is classified as non-retryable.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}
