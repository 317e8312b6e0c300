package daemon

import "errors"

var (
	// ErrManagerNotStarted is returned by Shutdown before Start was called.
	ErrManagerNotStarted = errors.New("daemon manager not started")

	// ErrManagerAlreadyStarted is returned by a second Start call.
	ErrManagerAlreadyStarted = errors.New("daemon manager already started")
)
