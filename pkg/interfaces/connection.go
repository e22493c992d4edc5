package interfaces

// Peer is the transport handle of one real-time channel
// ARCHITECTURAL DISCOVERY: The hub only ever talks to this interface, so routing
// logic is testable with an in-memory fake and no network
type Peer interface {
	// WriteJSON queues v for delivery without waiting for the transport.
	// Implementations must be safe for concurrent use and must not block.
	WriteJSON(v interface{}) error

	// Ping sends a liveness probe. A reply is reported back to the hub
	// by the transport as a pong event.
	Ping() error

	// Close closes the channel. Safe to call more than once.
	Close() error

	// RemoteAddr identifies the peer in logs
	RemoteAddr() string
}
