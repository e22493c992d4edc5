// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"proctor/pkg/types"
)

// ErrPeerClosed is returned by a closed FakePeer
var ErrPeerClosed = errors.New("fake peer closed")

// FakePeer records everything written to it. It round-trips each value
// through JSON so tests observe exactly what a real client would receive.
type FakePeer struct {
	Name string

	mu       sync.Mutex
	messages []*types.Envelope
	pings    int
	closed   bool
	failSend bool
}

// NewFakePeer returns a named recorder
func NewFakePeer(name string) *FakePeer {
	return &FakePeer{Name: name}
}

func (p *FakePeer) WriteJSON(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	if p.failSend {
		return fmt.Errorf("send to %s failed", p.Name)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p.messages = append(p.messages, &env)
	return nil
}

func (p *FakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.pings++
	return nil
}

func (p *FakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakePeer) RemoteAddr() string {
	return "fake:" + p.Name
}

// FailSends makes every following WriteJSON return an error
func (p *FakePeer) FailSends() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSend = true
}

// Messages returns a copy of everything received so far
func (p *FakePeer) Messages() []*types.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Envelope, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesOfType filters received messages by envelope type
func (p *FakePeer) MessagesOfType(msgType string) []*types.Envelope {
	var out []*types.Envelope
	for _, m := range p.Messages() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets recorded messages
func (p *FakePeer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

func (p *FakePeer) Pings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

func (p *FakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
