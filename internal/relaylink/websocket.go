package relaylink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/metrics"
)

const (
	DefaultMaxMessageBytes = 64 * 1024
	DefaultSendQueueBytes  = 1 << 20
	DefaultPingInterval    = 20 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultMaxPending      = 256

	wsWriteWait = 5 * time.Second
)

type Options struct {
	// MaxMessageBytes caps inbound frames; larger frames terminate the link.
	MaxMessageBytes int
	// MaxMessagesPerSecond rate limits inbound frames. Excess frames are
	// dropped. Zero disables the limit.
	MaxMessagesPerSecond int
	SendQueueBytes       int
	PingInterval         time.Duration
	IdleTimeout          time.Duration
	DialTimeout          time.Duration
	// MaxPendingFrames bounds frames held while no receive handler is set.
	MaxPendingFrames int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.SendQueueBytes <= 0 {
		o.SendQueueBytes = DefaultSendQueueBytes
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.MaxPendingFrames <= 0 {
		o.MaxPendingFrames = DefaultMaxPending
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// WebSocketLink is a Link over a gorilla/websocket client connection. It does
// not reconnect; Done closes when the connection ends for any reason.
type WebSocketLink struct {
	endpoint string
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter

	queue *sendQueue
	in    inbox

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

var _ Link = (*WebSocketLink)(nil)

// Dial starts connecting to endpoint in the background and returns
// immediately. Frames sent before Ready closes are queued.
func Dial(ctx context.Context, endpoint string, opts Options) (*WebSocketLink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("relaylink: parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relaylink: endpoint scheme must be ws or wss, got %q", u.Scheme)
	}

	opts = opts.withDefaults()
	l := &WebSocketLink{
		endpoint: endpoint,
		opts:     opts,
		log:      opts.Logger.With("component", "relaylink", "endpoint", endpoint),
		metrics:  opts.Metrics,
		queue:    newSendQueue(opts.SendQueueBytes),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.in.maxPending = opts.MaxPendingFrames
	if opts.MaxMessagesPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.MaxMessagesPerSecond), opts.MaxMessagesPerSecond)
	}
	l.ctx, l.cancel = context.WithCancel(ctx)

	go l.run()
	return l, nil
}

func (l *WebSocketLink) Ready() <-chan struct{} { return l.ready }

// Done closes once the link has shut down.
func (l *WebSocketLink) Done() <-chan struct{} { return l.done }

// Err returns the reason the link shut down, or nil while it is running.
func (l *WebSocketLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *WebSocketLink) OnReceive(handler func([]byte)) {
	l.in.setHandler(handler)
}

// Send queues a copy of frame for transmission.
func (l *WebSocketLink) Send(frame []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if len(frame) > l.opts.MaxMessageBytes {
		return fmt.Errorf("relaylink: frame too large: %d bytes (max %d)", len(frame), l.opts.MaxMessageBytes)
	}
	buf := append([]byte(nil), frame...)
	if !l.queue.Enqueue(buf) {
		l.metrics.Inc(metrics.RelayDropQueueFull)
		return ErrQueueFull
	}
	return nil
}

func (l *WebSocketLink) Close() error {
	l.shutdown(ErrClosed)
	return nil
}

func (l *WebSocketLink) run() {
	conn, err := l.dial()
	if err != nil {
		l.metrics.Inc(metrics.RelayDialFailures)
		l.log.Warn("relay dial failed", "err", err)
		l.shutdown(err)
		return
	}

	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.conn = conn
	l.mu.Unlock()

	l.metrics.Inc(metrics.RelayConnected)
	l.log.Info("relay connected")
	l.readyOnce.Do(func() { close(l.ready) })

	errCh := make(chan error, 3)
	go func() { errCh <- l.readLoop(conn) }()
	go func() { errCh <- l.writeLoop(conn) }()
	go func() { errCh <- l.pingLoop(conn) }()

	select {
	case <-l.ctx.Done():
		l.shutdown(ErrClosed)
	case err := <-errCh:
		l.shutdown(err)
	}
}

func (l *WebSocketLink) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(l.ctx, l.opts.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: l.opts.DialTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, l.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(l.opts.MaxMessageBytes))
	return conn, nil
}

func (l *WebSocketLink) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(l.opts.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.opts.IdleTimeout))
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(l.opts.IdleTimeout))
		if msgType != websocket.BinaryMessage {
			l.metrics.Inc(metrics.RelayDropTextFrame)
			continue
		}
		if l.limiter != nil && !l.limiter.Allow() {
			l.metrics.Inc(metrics.RelayDropRateLimited)
			continue
		}
		l.metrics.Inc(metrics.RelayFramesIn)
		if !l.in.deliver(payload) {
			l.metrics.Inc(metrics.RelayDropNoHandler)
		}
	}
}

func (l *WebSocketLink) writeLoop(conn *websocket.Conn) error {
	for {
		frame, ok := l.queue.Dequeue()
		if !ok {
			return ErrClosed
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
		l.metrics.Inc(metrics.RelayFramesOut)
	}
}

func (l *WebSocketLink) pingLoop(conn *websocket.Conn) error {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		}
	}
}

func (l *WebSocketLink) shutdown(reason error) {
	l.closeOnce.Do(func() {
		l.cancel()
		l.queue.Close()

		l.mu.Lock()
		if l.err == nil {
			l.err = reason
		}
		conn := l.conn
		l.conn = nil
		l.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			_ = conn.Close()
		}
		if reason != nil && !errors.Is(reason, ErrClosed) {
			l.log.Info("relay link closed", "err", reason)
		}
		close(l.done)
	})
}
