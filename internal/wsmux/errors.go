package wsmux

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("channel not connected")
	ErrUnknownRoute  = errors.New("unknown route")
	ErrInvalidRoute  = errors.New("invalid route")
	ErrTransport     = errors.New("transport failure")
	ErrSendQueueFull = errors.New("send queue full")
	ErrChannelClosed = errors.New("channel closed")
	ErrManagerClosed = errors.New("manager closed")
)

// UnknownRouteError is returned for operations on a route that was never added.
type UnknownRouteError struct {
	Route string
}

func (e *UnknownRouteError) Error() string {
	return fmt.Sprintf("unknown route %q", e.Route)
}

func (e *UnknownRouteError) Is(target error) bool { return target == ErrUnknownRoute }

// TransportFailure records why a channel's connection was refused or lost.
type TransportFailure struct {
	Route string
	Err   error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("route %q: transport failure: %v", e.Route, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

func (e *TransportFailure) Is(target error) bool { return target == ErrTransport }
