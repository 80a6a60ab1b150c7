package relay

import "errors"

var (
	ErrDisposed       = errors.New("controller disposed")
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidAddress = errors.New("invalid address")
	ErrConnClosed     = errors.New("connection closed")
	ErrDecodeFailed   = errors.New("failed to decode message")

	ErrTransportNotConnected = errors.New("transport not connected")
	ErrPublishFailed         = errors.New("failed to publish message")
)
