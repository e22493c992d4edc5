package hub

import (
	"proctor/internal/metrics"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

type event interface{}

type connectEvent struct {
	peer interfaces.Peer
}

type messageEvent struct {
	peer     interfaces.Peer
	envelope *types.Envelope
}

type disconnectEvent struct {
	peer interfaces.Peer
}

type pongEvent struct {
	peer interfaces.Peer
}

type tickEvent struct{}

type queryEvent struct {
	fn    func()
	reply chan struct{}
}

// Connect announces a new transport channel. The peer stays CONNECTING until it registers.
func (h *Hub) Connect(peer interfaces.Peer) error {
	if peer == nil {
		return ErrNilPeer
	}
	return h.enqueue(connectEvent{peer: peer})
}

// Receive queues an inbound envelope from peer
func (h *Hub) Receive(peer interfaces.Peer, env *types.Envelope) error {
	if peer == nil {
		return ErrNilPeer
	}
	err := h.enqueue(messageEvent{peer: peer, envelope: env})
	if err == ErrEventQueueFull {
		metrics.DroppedTotal.WithLabelValues(metrics.DropQueueFull).Inc()
	}
	return err
}

// Disconnect reports that peer's channel closed
// FUNCTIONAL DISCOVERY: Unlike other events a disconnect waits for queue space,
// a lost disconnect would leave the connection registered until liveness catches it
func (h *Hub) Disconnect(peer interfaces.Peer) error {
	if peer == nil {
		return ErrNilPeer
	}
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.events <- disconnectEvent{peer: peer}:
		return nil
	case <-h.done:
		return ErrHubNotRunning
	}
}

// Pong reports a liveness probe response from peer
func (h *Hub) Pong(peer interfaces.Peer) error {
	if peer == nil {
		return ErrNilPeer
	}
	return h.enqueue(pongEvent{peer: peer})
}

// Tick runs one liveness and session-grace sweep. Ticks are dropped when the queue is full.
func (h *Hub) Tick() error {
	return h.enqueue(tickEvent{})
}
