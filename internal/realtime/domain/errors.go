package domain

import "errors"

var (
	// ErrInvalidEvent event without scope or type
	ErrInvalidEvent = errors.New("invalid event")
	// ErrTransportDisconnected cross node transport failed
	ErrTransportDisconnected = errors.New("transport disconnected")
)
