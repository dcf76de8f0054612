package relaylink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/metrics"
)

// broadcastRelay is a minimal stand-in for the relay server: every binary
// frame received on a path is echoed to every connection on that path.
type broadcastRelay struct {
	upgrader websocket.Upgrader

	// onConnect, if set, runs before the connection joins the broadcast set.
	onConnect func(path string, conn *websocket.Conn)

	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]*sync.Mutex
}

func newBroadcastRelay() *broadcastRelay {
	return &broadcastRelay{conns: make(map[string]map[*websocket.Conn]*sync.Mutex)}
}

func (r *broadcastRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	path := req.URL.Path
	if r.onConnect != nil {
		r.onConnect(path, conn)
	}
	writeMu := &sync.Mutex{}
	r.mu.Lock()
	if r.conns[path] == nil {
		r.conns[path] = make(map[*websocket.Conn]*sync.Mutex)
	}
	r.conns[path][conn] = writeMu
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.conns[path], conn)
		r.mu.Unlock()
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.mu.Lock()
		peers := make(map[*websocket.Conn]*sync.Mutex, len(r.conns[path]))
		for c, mu := range r.conns[path] {
			peers[c] = mu
		}
		r.mu.Unlock()
		for c, mu := range peers {
			mu.Lock()
			_ = c.WriteMessage(msgType, payload)
			mu.Unlock()
		}
	}
}

func startRelay(t *testing.T, relay *broadcastRelay) string {
	t.Helper()
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialLink(t *testing.T, endpoint string, opts Options) *WebSocketLink {
	t.Helper()
	l, err := Dial(context.Background(), endpoint, opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func waitReady(t *testing.T, l Link) {
	t.Helper()
	select {
	case <-l.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for link to become ready")
	}
}

func collect(l Link) <-chan []byte {
	ch := make(chan []byte, 64)
	l.OnReceive(func(frame []byte) { ch <- frame })
	return ch
}

func expectFrame(t *testing.T, ch <-chan []byte, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if string(got) != want {
			t.Fatalf("frame=%q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func expectNoFrame(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected frame %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketLink_QueuesSendsUntilReady(t *testing.T) {
	base := startRelay(t, newBroadcastRelay())
	l := dialLink(t, base+"/channel/abc", Options{})
	frames := collect(l)

	// Sent before the handshake has completed.
	if err := l.Send([]byte("first")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := l.Send([]byte("second")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitReady(t, l)

	// The relay echoes to the sender too.
	expectFrame(t, frames, "first")
	expectFrame(t, frames, "second")
}

func TestWebSocketLink_FansOutWithinChannelOnly(t *testing.T) {
	base := startRelay(t, newBroadcastRelay())
	a := dialLink(t, base+"/channel/room1", Options{})
	b := dialLink(t, base+"/channel/room1", Options{})
	c := dialLink(t, base+"/channel/room2", Options{})
	aFrames, bFrames, cFrames := collect(a), collect(b), collect(c)
	waitReady(t, a)
	waitReady(t, b)
	waitReady(t, c)

	// The relay registers a connection after the upgrade; give it a moment.
	time.Sleep(50 * time.Millisecond)

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	expectFrame(t, aFrames, "hello")
	expectFrame(t, bFrames, "hello")
	expectNoFrame(t, cFrames)
}

func TestWebSocketLink_IgnoresTextFrames(t *testing.T) {
	relay := newBroadcastRelay()
	relay.onConnect = func(_ string, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("text"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("binary"))
	}
	base := startRelay(t, relay)
	m := metrics.New()
	l := dialLink(t, base+"/channel/abc", Options{Metrics: m})
	frames := collect(l)

	expectFrame(t, frames, "binary")
	if got := m.Get(metrics.RelayDropTextFrame); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayDropTextFrame, got)
	}
}

func TestWebSocketLink_HoldsFramesUntilHandlerRegistered(t *testing.T) {
	relay := newBroadcastRelay()
	relay.onConnect = func(_ string, conn *websocket.Conn) {
		for _, s := range []string{"one", "two", "three"} {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte(s))
		}
	}
	base := startRelay(t, relay)
	m := metrics.New()
	l := dialLink(t, base+"/channel/abc", Options{Metrics: m})
	waitReady(t, l)

	deadline := time.Now().Add(5 * time.Second)
	for m.Get(metrics.RelayFramesIn) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("frames never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames := collect(l)
	expectFrame(t, frames, "one")
	expectFrame(t, frames, "two")
	expectFrame(t, frames, "three")
}

func TestWebSocketLink_CountsFramesDroppedWithoutHandler(t *testing.T) {
	relay := newBroadcastRelay()
	relay.onConnect = func(_ string, conn *websocket.Conn) {
		for _, s := range []string{"one", "two", "three"} {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte(s))
		}
	}
	base := startRelay(t, relay)
	m := metrics.New()
	l := dialLink(t, base+"/channel/abc", Options{Metrics: m, MaxPendingFrames: 2})
	waitReady(t, l)

	deadline := time.Now().Add(5 * time.Second)
	for m.Get(metrics.RelayFramesIn) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("frames never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := m.Get(metrics.RelayDropNoHandler); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayDropNoHandler, got)
	}

	frames := collect(l)
	expectFrame(t, frames, "one")
	expectFrame(t, frames, "two")
	expectNoFrame(t, frames)
}

func TestWebSocketLink_RateLimitsInbound(t *testing.T) {
	const burst = 20
	relay := newBroadcastRelay()
	relay.onConnect = func(_ string, conn *websocket.Conn) {
		for i := 0; i < burst; i++ {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)})
		}
	}
	base := startRelay(t, relay)
	m := metrics.New()
	l := dialLink(t, base+"/channel/abc", Options{Metrics: m, MaxMessagesPerSecond: 5})
	collect(l)

	deadline := time.Now().Add(5 * time.Second)
	for m.Get(metrics.RelayFramesIn)+m.Get(metrics.RelayDropRateLimited) < burst {
		if time.Now().After(deadline) {
			t.Fatalf("frames never arrived: %v", m.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m.Get(metrics.RelayDropRateLimited) == 0 {
		t.Fatalf("expected rate limited drops: %v", m.Snapshot())
	}
	if got := m.Get(metrics.RelayFramesIn); got >= burst {
		t.Fatalf("%s=%d, want fewer than %d", metrics.RelayFramesIn, got, burst)
	}
}

func TestWebSocketLink_OversizedInboundFrameClosesLink(t *testing.T) {
	relay := newBroadcastRelay()
	relay.onConnect = func(_ string, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2048))
	}
	base := startRelay(t, relay)
	l := dialLink(t, base+"/channel/abc", Options{MaxMessageBytes: 1024})

	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("link did not close after oversized frame")
	}
	if l.Err() == nil {
		t.Fatalf("expected a close reason")
	}
}

func TestWebSocketLink_RejectsOversizedSend(t *testing.T) {
	base := startRelay(t, newBroadcastRelay())
	l := dialLink(t, base+"/channel/abc", Options{MaxMessageBytes: 16})
	if err := l.Send(make([]byte, 17)); err == nil {
		t.Fatalf("expected error for oversized frame")
	}
}

func TestWebSocketLink_SendQueueFull(t *testing.T) {
	// The handshake never completes, so frames stay queued.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	m := metrics.New()
	l := dialLink(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/channel/abc", Options{Metrics: m, SendQueueBytes: 8})
	if err := l.Send([]byte("12345")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := l.Send([]byte("6789")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Send err=%v, want ErrQueueFull", err)
	}
	if got := m.Get(metrics.RelayDropQueueFull); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayDropQueueFull, got)
	}
}

func TestWebSocketLink_DialFailureEndsLink(t *testing.T) {
	m := metrics.New()
	l := dialLink(t, "ws://127.0.0.1:1/channel/abc", Options{Metrics: m, DialTimeout: time.Second})
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("link did not finish after failed dial")
	}
	if l.Err() == nil {
		t.Fatalf("expected dial error")
	}
	select {
	case <-l.Ready():
		t.Fatalf("Ready closed for a link that never connected")
	default:
	}
	if err := l.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send err=%v, want ErrClosed", err)
	}
	if got := m.Get(metrics.RelayDialFailures); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayDialFailures, got)
	}
}

func TestWebSocketLink_SendAfterClose(t *testing.T) {
	base := startRelay(t, newBroadcastRelay())
	l := dialLink(t, base+"/channel/abc", Options{})
	waitReady(t, l)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send err=%v, want ErrClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDial_RejectsNonWebSocketScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "https://relay.example/channel/abc", Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
