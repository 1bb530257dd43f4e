// ABOUTME: Error values shared by the protocol codecs and session layers
// ABOUTME: Callers match failure categories with errors.Is
package protocol

import "errors"

// Session failure categories.
var (
	// ErrNotConnected is returned when an operation needs a streaming session.
	ErrNotConnected = errors.New("protocol: not connected")
	// ErrConnectFailed wraps dial failures. Retried by the caller.
	ErrConnectFailed = errors.New("protocol: connect failed")
	// ErrHandshakeFailed wraps identity/capability exchange failures.
	ErrHandshakeFailed = errors.New("protocol: handshake failed")
	// ErrFrameReadTimeout means no frame arrived in time. Not fatal.
	ErrFrameReadTimeout = errors.New("protocol: frame read timeout")
	// ErrFrameReadError means the peer closed or sent a malformed frame. Fatal to the session.
	ErrFrameReadError = errors.New("protocol: frame read error")
	// ErrFrameWriteError means a frame could not be written. Fatal to the session.
	ErrFrameWriteError = errors.New("protocol: frame write error")
)

// Codec errors.
var (
	ErrShortHeader       = errors.New("protocol: short frame header")
	ErrShortPayload      = errors.New("protocol: short frame payload")
	ErrFrameTooLarge     = errors.New("protocol: frame length exceeds limit")
	ErrUnknownCapability = errors.New("protocol: unknown capability value")
	ErrInvalidDeviceID   = errors.New("protocol: invalid device id")
	ErrShortCard         = errors.New("protocol: short display card")
)
