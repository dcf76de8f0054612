package relaylink

import (
	"sync"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
)

// MemoryHub is an in-process relay. Like the real relay it echoes each frame
// to every ready member of the channel, the sender included.
//
// Delivery runs synchronously on the sending goroutine, so a receive handler
// must not call Send on its own link.
type MemoryHub struct {
	mu        sync.Mutex
	channels  map[roomcrypto.ChannelID][]*MemoryLink
	observers []func(roomcrypto.ChannelID, []byte)
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{channels: make(map[roomcrypto.ChannelID][]*MemoryLink)}
}

// Observe registers fn to see every frame relayed on any channel.
func (h *MemoryHub) Observe(fn func(channel roomcrypto.ChannelID, frame []byte)) {
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

// Join returns a link that is ready immediately.
func (h *MemoryHub) Join(channel roomcrypto.ChannelID) *MemoryLink {
	l := h.JoinDeferred(channel)
	l.MarkReady()
	return l
}

// JoinDeferred returns a link that neither sends nor receives until MarkReady
// is called. Frames sent before then are queued.
func (h *MemoryHub) JoinDeferred(channel roomcrypto.ChannelID) *MemoryLink {
	l := &MemoryLink{
		hub:     h,
		channel: channel,
		ready:   make(chan struct{}),
	}
	l.in.maxPending = DefaultMaxPending
	h.mu.Lock()
	h.channels[channel] = append(h.channels[channel], l)
	h.mu.Unlock()
	return l
}

// Members reports how many links are joined to channel.
func (h *MemoryHub) Members(channel roomcrypto.ChannelID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *MemoryHub) broadcast(channel roomcrypto.ChannelID, frame []byte) {
	h.mu.Lock()
	members := append([]*MemoryLink(nil), h.channels[channel]...)
	observers := append([]func(roomcrypto.ChannelID, []byte){}, h.observers...)
	h.mu.Unlock()

	for _, fn := range observers {
		fn(channel, frame)
	}
	for _, m := range members {
		if m.isReady() {
			m.in.deliver(append([]byte(nil), frame...))
		}
	}
}

func (h *MemoryHub) leave(l *MemoryLink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.channels[l.channel]
	for i, m := range members {
		if m == l {
			h.channels[l.channel] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(h.channels[l.channel]) == 0 {
		delete(h.channels, l.channel)
	}
}

type MemoryLink struct {
	hub     *MemoryHub
	channel roomcrypto.ChannelID
	in      inbox

	ready     chan struct{}
	readyOnce sync.Once

	// sendMu keeps frames from one link in order across MarkReady.
	sendMu  sync.Mutex
	mu      sync.Mutex
	closed  bool
	pending [][]byte
}

var _ Link = (*MemoryLink)(nil)

func (l *MemoryLink) Ready() <-chan struct{} { return l.ready }

func (l *MemoryLink) OnReceive(handler func([]byte)) { l.in.setHandler(handler) }

// MarkReady opens the link and flushes frames queued before it was ready.
func (l *MemoryLink) MarkReady() {
	l.readyOnce.Do(func() {
		l.sendMu.Lock()
		defer l.sendMu.Unlock()
		l.mu.Lock()
		pending := l.pending
		l.pending = nil
		close(l.ready)
		l.mu.Unlock()
		for _, frame := range pending {
			l.hub.broadcast(l.channel, frame)
		}
	})
}

func (l *MemoryLink) isReady() bool {
	select {
	case <-l.ready:
		l.mu.Lock()
		defer l.mu.Unlock()
		return !l.closed
	default:
		return false
	}
}

func (l *MemoryLink) Send(frame []byte) error {
	buf := append([]byte(nil), frame...)
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	select {
	case <-l.ready:
	default:
		l.pending = append(l.pending, buf)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	l.hub.broadcast(l.channel, buf)
	return nil
}

func (l *MemoryLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
	l.hub.leave(l)
	return nil
}
