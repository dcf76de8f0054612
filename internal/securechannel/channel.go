// Package securechannel sends and receives control messages over a relay link,
// sealing each one under the room key.
package securechannel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/relaylink"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/signaling"
)

// Encrypt encodes msg and seals it into a relay frame.
func Encrypt(c *roomcrypto.Cipher, msg signaling.Message) ([]byte, error) {
	plaintext, err := signaling.Encode(msg)
	if err != nil {
		return nil, err
	}
	return c.Seal(plaintext)
}

// Decrypt opens a relay frame and decodes the control message inside it.
// Errors wrap roomcrypto.ErrAuthentication or signaling.ErrFormat.
func Decrypt(c *roomcrypto.Cipher, frame []byte) (signaling.Message, error) {
	plaintext, err := c.Open(frame)
	if err != nil {
		return signaling.Message{}, err
	}
	return signaling.Decode(plaintext)
}

// Channel is a goroutine-safe encrypted control channel over a Link.
type Channel struct {
	link    relaylink.Link
	cipher  *roomcrypto.Cipher
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(link relaylink.Link, cipher *roomcrypto.Cipher, logger *slog.Logger, m *metrics.Metrics) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		link:    link,
		cipher:  cipher,
		log:     logger.With("component", "securechannel"),
		metrics: m,
	}
}

// Ready closes once the underlying link can carry frames.
func (c *Channel) Ready() <-chan struct{} { return c.link.Ready() }

func (c *Channel) Send(msg signaling.Message) error {
	frame, err := Encrypt(c.cipher, msg)
	if err != nil {
		return fmt.Errorf("securechannel: encrypt %s: %w", msg.Kind, err)
	}
	if err := c.link.Send(frame); err != nil {
		return fmt.Errorf("securechannel: send %s: %w", msg.Kind, err)
	}
	c.metrics.Inc(metrics.SignalingMessagesOut)
	return nil
}

// OnMessage registers handler for every frame that decrypts and decodes
// cleanly. Frames that fail either step are logged, counted and dropped; they
// never reach handler and never stop the channel.
func (c *Channel) OnMessage(handler func(signaling.Message)) {
	c.link.OnReceive(func(frame []byte) {
		msg, err := Decrypt(c.cipher, frame)
		if err != nil {
			switch {
			case errors.Is(err, roomcrypto.ErrAuthentication):
				c.metrics.Inc(metrics.DecryptAuthFailures)
			case errors.Is(err, signaling.ErrFormat):
				c.metrics.Inc(metrics.DecryptFormatFailures)
			}
			c.log.Debug("dropping relay frame", "bytes", len(frame), "err", err)
			return
		}
		c.metrics.Inc(metrics.SignalingMessagesIn)
		handler(msg)
	})
}

func (c *Channel) Close() error {
	return c.link.Close()
}
