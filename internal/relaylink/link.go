// Package relaylink carries opaque binary frames between participants that
// share a relay channel.
//
// The relay is untrusted: it sees only ciphertext and the channel id, and it
// echoes every frame to every member of the channel, including the sender.
package relaylink

import (
	"errors"
	"sync"
)

var (
	ErrClosed    = errors.New("relaylink: link closed")
	ErrQueueFull = errors.New("relaylink: send queue full")
)

// Link is a frame-oriented connection to one relay channel.
//
// Send never blocks on the network: frames sent before the link is ready are
// buffered and flushed in order once it is. OnReceive replaces the current
// handler; frames that arrive while no handler is registered are held and
// handed to the next handler in arrival order. Handlers are invoked serially
// and must not call OnReceive themselves.
type Link interface {
	Send(frame []byte) error
	OnReceive(handler func(frame []byte))
	Ready() <-chan struct{}
	Close() error
}

// inbox serializes delivery of inbound frames to the registered handler.
type inbox struct {
	mu         sync.Mutex
	handler    func([]byte)
	pending    [][]byte
	maxPending int
}

func (b *inbox) setHandler(h func([]byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
	if h == nil {
		return
	}
	pending := b.pending
	b.pending = nil
	for _, frame := range pending {
		h(frame)
	}
}

// deliver hands frame to the handler, or holds it when none is registered.
// It reports false when the frame had to be dropped.
func (b *inbox) deliver(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler != nil {
		b.handler(frame)
		return true
	}
	if len(b.pending) >= b.maxPending {
		return false
	}
	b.pending = append(b.pending, frame)
	return true
}
