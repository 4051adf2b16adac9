// Package channel defines the task channels commands are delivered on and the
// payloads carried by each of them.
package channel

import (
	"context"
	"errors"
)

// Names of the consumer classes.
const (
	Unit       = "unit"
	Navigation = "navigation"
	Display    = "display"
)

// ErrConnectExhausted is returned when a channel could not (re)connect to the
// broker within its retry budget. It is fatal for the process.
var ErrConnectExhausted = errors.New("channel connect attempts exhausted")

// ErrSendFailed is returned when a payload could not be delivered after the
// bounded resend.
var ErrSendFailed = errors.New("channel send failed")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("channel closed")

// Sender delivers a payload to the consumers of one channel. The payload is
// JSON encoded and marked persistent.
type Sender interface {
	Send(ctx context.Context, payload any) error
}
