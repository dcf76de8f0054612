package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/mesh"
)

// maxChatLineBytes bounds a single stdin line.
const maxChatLineBytes = 16 * 1024

// console serializes room output to stdout.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) chat(msg mesh.ChatMessage) {
	c.printf("<%s> %s\n", msg.Sender, msg.Text)
}

func (c *console) peerState(ev mesh.PeerStateEvent) {
	switch ev.State {
	case mesh.StateConnected:
		c.printf("* %s connected\n", ev.Peer)
	case mesh.StateClosed:
		var failure *mesh.NegotiationFailure
		if errors.As(ev.Err, &failure) {
			c.printf("* %s left (%s)\n", ev.Peer, failure.Reason)
			return
		}
		c.printf("* %s left\n", ev.Peer)
	}
}

// readChat sends each non-empty stdin line as a chat message until ctx is done
// or input ends.
func readChat(ctx context.Context, r io.Reader, send func(string) error, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxChatLineBytes)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := send(line); err != nil {
			logger.Warn("chat message not sent", "err", err)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		logger.Warn("stdin read failed; chat input disabled", "err", err)
	}
}
