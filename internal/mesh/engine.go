// Package mesh turns decrypted control messages into a full mesh of pion
// peer connections, one per remote participant.
//
// All engine state is owned by a single loop goroutine started by Run.
// Control messages, pion callbacks and API calls are posted to that loop, so
// the per-identity record map never needs a lock. Each pion callback captures
// the record it was registered on and becomes a no-op once that record has
// been replaced or removed.
//
// Once a pair has completed an exchange, only the smaller identity sends
// offers on that connection. The larger one asks for an offer with a
// RenegotiationRequest, so an established connection never sees crossing
// offers that it would have to roll back.
package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/signaling"
)

var (
	ErrStopped        = errors.New("mesh: engine stopped")
	ErrAlreadyRunning = errors.New("mesh: engine already running")
)

// Channel is the encrypted control channel the engine signals over.
// *securechannel.Channel implements it.
type Channel interface {
	Ready() <-chan struct{}
	Send(signaling.Message) error
	OnMessage(func(signaling.Message))
}

type Options struct {
	// Identity defaults to a fresh random identity.
	Identity    roomcrypto.Identity
	ICEServers  []webrtc.ICEServer
	VideoPolicy VideoPolicy
	Handlers    Handlers

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Engine struct {
	channel    Channel
	api        *webrtc.API
	identity   roomcrypto.Identity
	iceServers []webrtc.ICEServer
	policy     VideoPolicy
	handlers   Handlers
	log        *slog.Logger
	metrics    *metrics.Metrics

	events  *eventQueue
	running atomic.Bool
	stopped chan struct{}
	stop    sync.Once

	// Owned by the loop goroutine.
	records map[roomcrypto.Identity]*peerRecord
	streams []Stream
	ready   bool
}

func New(channel Channel, api *webrtc.API, opts Options) (*Engine, error) {
	if channel == nil {
		return nil, errors.New("mesh: nil channel")
	}
	if api == nil {
		api = webrtc.NewAPI()
	}
	identity := opts.Identity
	if identity == "" {
		var err error
		identity, err = roomcrypto.NewIdentity()
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		channel:    channel,
		api:        api,
		identity:   identity,
		iceServers: opts.ICEServers,
		policy:     opts.VideoPolicy,
		handlers:   opts.Handlers,
		log:        logger.With("component", "mesh", "identity", string(identity)),
		metrics:    opts.Metrics,
		events:     newEventQueue(),
		stopped:    make(chan struct{}),
		records:    make(map[roomcrypto.Identity]*peerRecord),
	}, nil
}

func (e *Engine) Identity() roomcrypto.Identity { return e.identity }

// Run processes events until ctx is done, then closes every peer connection.
// It announces this participant once the channel is ready.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.shutdown()

	e.channel.OnMessage(func(msg signaling.Message) {
		e.post(func() { e.handleMessage(msg) })
	})

	readyCh := e.channel.Ready()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readyCh:
			readyCh = nil
			e.onReady()
		case <-e.events.wake:
			for _, fn := range e.events.drain() {
				fn()
			}
		}
	}
}

func (e *Engine) shutdown() {
	e.stop.Do(func() {
		close(e.stopped)
		for _, rec := range e.records {
			e.removeRecord(rec)
		}
		e.log.Info("mesh stopped")
	})
}

func (e *Engine) post(fn func()) {
	select {
	case <-e.stopped:
		return
	default:
	}
	e.events.push(fn)
}

// call runs fn on the loop and waits for it to finish.
func (e *Engine) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	e.post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) onReady() {
	e.ready = true
	e.send(signaling.Announce(e.identity))
	e.log.Info("announced")
	if e.handlers.Ready != nil {
		e.handlers.Ready()
	}
}

// AddStream adds stream to the local stream set and attaches its tracks to
// every current peer, renegotiating each connection. Peers that appear later
// receive it when their record is created.
func (e *Engine) AddStream(ctx context.Context, stream Stream) error {
	return e.call(ctx, func() {
		e.streams = append(e.streams, stream)
		for _, rec := range e.records {
			if e.attachStream(rec, stream) > 0 && rec.pc.LocalDescription() != nil {
				e.renegotiate(rec)
			}
		}
		e.log.Info("local stream added", "stream", stream.ID, "tracks", len(stream.Tracks), "peers", len(e.records))
	})
}

// SendChatMessage broadcasts text to the room. Delivery is best effort.
func (e *Engine) SendChatMessage(text string) error {
	if err := e.channel.Send(signaling.Chat(e.identity, text)); err != nil {
		return err
	}
	e.metrics.Inc(metrics.ChatMessagesOut)
	return nil
}

// Peers returns a snapshot of every peer record, ordered by identity.
func (e *Engine) Peers(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	err := e.call(ctx, func() {
		out = make([]PeerInfo, 0, len(e.records))
		for _, rec := range e.records {
			out = append(out, rec.info())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Ready reports whether the announce has gone out.
func (e *Engine) Ready(ctx context.Context) (bool, error) {
	var ready bool
	err := e.call(ctx, func() { ready = e.ready })
	return ready, err
}

func (e *Engine) send(msg signaling.Message) {
	if err := e.channel.Send(msg); err != nil {
		e.log.Warn("send control message failed", "kind", msg.Kind.String(), "recipient", string(msg.Recipient), "err", err)
	}
}

func (e *Engine) handleMessage(msg signaling.Message) {
	switch {
	case msg.Sender == "":
		e.metrics.Inc(metrics.SignalingDropNoSender)
		return
	case msg.Sender == e.identity:
		// The relay echoes our own frames back.
		return
	}

	switch msg.Kind {
	case signaling.KindAnnounce:
		if msg.Recipient != "" && msg.Recipient != e.identity {
			e.metrics.Inc(metrics.SignalingDropNotForUs)
			return
		}
		e.handleAnnounce(msg)
	case signaling.KindChat:
		e.metrics.Inc(metrics.ChatMessagesIn)
		if e.handlers.Chat != nil {
			e.handlers.Chat(ChatMessage{Sender: msg.Sender, Text: msg.Text})
		}
	case signaling.KindOffer, signaling.KindAnswer, signaling.KindICECandidate:
		if msg.Recipient != e.identity {
			e.metrics.Inc(metrics.SignalingDropNotForUs)
			return
		}
		switch msg.Kind {
		case signaling.KindOffer:
			e.handleOffer(msg)
		case signaling.KindAnswer:
			e.handleAnswer(msg)
		default:
			e.handleCandidate(msg)
		}
	}
}

func (e *Engine) handleAnnounce(msg signaling.Message) {
	sender := msg.Sender
	if rec, ok := e.records[sender]; ok {
		if msg.Recipient == "" {
			e.log.Debug("ignoring repeated announce", "peer", string(sender))
			return
		}
		if e.identity > sender {
			rec.log.Debug("ignoring renegotiation request from larger identity")
			return
		}
		rec.log.Debug("peer asked for renegotiation")
		e.originateOffer(rec)
		return
	}
	rec, err := e.newRecord(sender)
	if err != nil {
		e.log.Warn("create peer connection failed", "peer", string(sender), "err", err)
		return
	}
	e.originateOffer(rec)
}

func (e *Engine) handleOffer(msg signaling.Message) {
	offer, err := msg.SDP.ToPion()
	if err != nil {
		e.log.Debug("dropping offer", "peer", string(msg.Sender), "err", err)
		return
	}

	rec := e.records[msg.Sender]
	if rec != nil {
		switch rec.pc.SignalingState() {
		case webrtc.SignalingStateStable:
		case webrtc.SignalingStateHaveLocalOffer:
			var keep bool
			if rec, keep = e.resolveGlare(rec); !keep {
				return
			}
		default:
			rec.log.Debug("ignoring offer", "signaling_state", rec.pc.SignalingState().String())
			return
		}
	}
	if rec == nil {
		if rec, err = e.newRecord(msg.Sender); err != nil {
			e.log.Warn("create peer connection failed", "peer", string(msg.Sender), "err", err)
			return
		}
	}

	if err := rec.pc.SetRemoteDescription(offer); err != nil {
		e.failRecord(rec, "apply offer", err)
		return
	}
	e.flushCandidates(rec)

	answer, err := rec.pc.CreateAnswer(nil)
	if err != nil {
		e.failRecord(rec, "create answer", err)
		return
	}
	if err := rec.pc.SetLocalDescription(answer); err != nil {
		e.failRecord(rec, "set local answer", err)
		return
	}
	e.send(signaling.Answer(e.identity, rec.id, e.outgoing(answer)))
	rec.log.Debug("answered offer")

	if rec.renegotiate {
		e.renegotiate(rec)
	}
}

// resolveGlare handles an offer that crosses our own outstanding offer to the
// same peer. The offer from the lexicographically smaller identity wins. It
// returns the record to answer on, or keep=false when our offer stands.
//
// pion cannot roll back a local offer, so the larger identity yields by
// replacing a record that has not completed an exchange yet. An established
// connection is never replaced; the larger identity does not offer on one.
func (e *Engine) resolveGlare(rec *peerRecord) (_ *peerRecord, keep bool) {
	e.metrics.Inc(metrics.GlareResolved)
	if e.identity < rec.id {
		rec.log.Debug("offer glare: keeping local offer")
		return rec, false
	}
	if rec.pc.RemoteDescription() != nil {
		rec.log.Warn("offer glare on established connection: keeping local offer")
		return rec, false
	}

	pending := rec.pendingCandidates
	rec.pendingCandidates = nil
	e.removeRecord(rec)
	fresh, err := e.newRecord(rec.id)
	if err != nil {
		e.log.Warn("create peer connection failed", "peer", string(rec.id), "err", err)
		return nil, false
	}
	fresh.pendingCandidates = pending
	fresh.log.Debug("offer glare: replaced local offer")
	return fresh, true
}

func (e *Engine) handleAnswer(msg signaling.Message) {
	rec := e.records[msg.Sender]
	if rec == nil {
		e.metrics.Inc(metrics.SignalingDropUnknownPeer)
		e.log.Debug("ignoring answer from unknown peer", "peer", string(msg.Sender))
		return
	}
	if rec.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		rec.log.Debug("ignoring stale answer", "signaling_state", rec.pc.SignalingState().String())
		return
	}
	answer, err := msg.SDP.ToPion()
	if err != nil {
		rec.log.Debug("dropping answer", "err", err)
		return
	}
	if err := rec.pc.SetRemoteDescription(answer); err != nil {
		e.failRecord(rec, "apply answer", err)
		return
	}
	e.flushCandidates(rec)

	if rec.renegotiate {
		e.renegotiate(rec)
	}
}

func (e *Engine) handleCandidate(msg signaling.Message) {
	rec := e.records[msg.Sender]
	if rec == nil {
		e.metrics.Inc(metrics.SignalingDropUnknownPeer)
		return
	}
	if msg.Candidate == nil {
		// End of candidates.
		return
	}
	init := msg.Candidate.ToPion()
	if rec.pc.RemoteDescription() == nil {
		rec.pendingCandidates = append(rec.pendingCandidates, init)
		e.metrics.Inc(metrics.ICECandidatesBuffered)
		return
	}
	if err := rec.pc.AddICECandidate(init); err != nil {
		rec.log.Debug("add ice candidate failed", "err", err)
	}
}

func (e *Engine) flushCandidates(rec *peerRecord) {
	pending := rec.pendingCandidates
	rec.pendingCandidates = nil
	for _, c := range pending {
		if err := rec.pc.AddICECandidate(c); err != nil {
			rec.log.Debug("add buffered ice candidate failed", "err", err)
		}
	}
}

// originateOffer sends a fresh offer on rec, or defers it until the current
// offer/answer exchange has finished.
func (e *Engine) originateOffer(rec *peerRecord) {
	if rec.pc.SignalingState() != webrtc.SignalingStateStable {
		rec.renegotiate = true
		return
	}
	rec.renegotiate = false

	if err := rec.ensureReceivers(); err != nil {
		e.failRecord(rec, "add transceivers", err)
		return
	}
	offer, err := rec.pc.CreateOffer(nil)
	if err != nil {
		e.failRecord(rec, "create offer", err)
		return
	}
	if err := rec.pc.SetLocalDescription(offer); err != nil {
		e.failRecord(rec, "set local offer", err)
		return
	}
	e.send(signaling.Offer(e.identity, rec.id, e.outgoing(offer)))
	rec.log.Debug("sent offer")
}

// renegotiate brings rec's session up to date with the local tracks once the
// current exchange has finished. On a connection with a remote description
// the larger identity requests the offer instead of sending one.
func (e *Engine) renegotiate(rec *peerRecord) {
	if rec.pc.SignalingState() != webrtc.SignalingStateStable {
		rec.renegotiate = true
		return
	}
	if rec.pc.RemoteDescription() == nil || e.identity < rec.id {
		e.originateOffer(rec)
		return
	}
	rec.renegotiate = false
	e.metrics.Inc(metrics.RenegotiationRequests)
	e.send(signaling.RenegotiationRequest(e.identity, rec.id))
	rec.log.Debug("requested renegotiation")
}

// outgoing advertises the video receive cap in a description about to be
// sent. The local description keeps the unmodified SDP.
func (e *Engine) outgoing(desc webrtc.SessionDescription) webrtc.SessionDescription {
	if !e.policy.enabled() {
		return desc
	}
	capped, err := capVideoBandwidth(desc.SDP, e.policy.MaxBitrate)
	if err != nil {
		e.log.Debug("video cap not applied", "err", err)
		return desc
	}
	desc.SDP = capped
	return desc
}
