package registry

import "errors"

// Registry-related errors
var (
	ErrNilPeer               = errors.New("peer cannot be nil")
	ErrPeerAlreadyRegistered = errors.New("peer already registered")
)
