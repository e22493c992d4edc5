package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrEventQueueFull    = errors.New("event queue is full")
	ErrNilPeer           = errors.New("peer is nil")
	ErrMissingDependency = errors.New("hub dependency is nil")
)
