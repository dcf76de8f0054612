package mesh

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/signaling"
)

// peerRecord is the engine's state for one remote identity. Only the loop
// goroutine touches its fields.
type peerRecord struct {
	id  roomcrypto.Identity
	pc  *webrtc.PeerConnection
	log *slog.Logger

	state PeerState
	// pendingCandidates holds remote candidates that arrived before a remote
	// description was applied.
	pendingCandidates []webrtc.ICECandidateInit
	// renegotiate is set when an offer was wanted while another exchange was
	// in flight.
	renegotiate bool

	localTracks  int
	remoteTracks int
}

func (r *peerRecord) info() PeerInfo {
	return PeerInfo{
		Identity:           r.id,
		State:              r.state,
		SignalingState:     r.pc.SignalingState().String(),
		ICEConnectionState: r.pc.ICEConnectionState().String(),
		ConnectionState:    r.pc.ConnectionState().String(),
		LocalTracks:        r.localTracks,
		RemoteTracks:       r.remoteTracks,
	}
}

// ensureReceivers adds a receive-only transceiver for each media kind that
// has no transceiver yet, so every offer carries audio and video sections.
func (r *peerRecord) ensureReceivers() error {
	have := make(map[webrtc.RTPCodecType]bool, 2)
	for _, t := range r.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := r.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// newRecord creates the record for id and attaches every local stream. The
// caller must have checked that no record exists.
func (e *Engine) newRecord(id roomcrypto.Identity) (*peerRecord, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, err
	}
	rec := &peerRecord{
		id:    id,
		pc:    pc,
		log:   e.log.With("peer", string(id)),
		state: StateNegotiating,
	}
	e.records[id] = rec
	e.metrics.Inc(metrics.PeersCreated)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		var init *webrtc.ICECandidateInit
		if c != nil {
			j := c.ToJSON()
			init = &j
		}
		e.post(func() {
			if e.records[id] != rec {
				return
			}
			e.send(signaling.ICECandidate(e.identity, id, init))
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.post(func() {
			if e.records[id] != rec {
				return
			}
			e.onConnectionState(rec, state)
		})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		rec.log.Debug("ice connection state", "state", state.String())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.post(func() {
			if e.records[id] != rec {
				return
			}
			rec.remoteTracks++
			e.metrics.Inc(metrics.TracksReceived)
			rec.log.Info("remote track", "kind", track.Kind().String(), "track", track.ID(), "stream", track.StreamID())
			if e.handlers.Track != nil {
				e.handlers.Track(TrackEvent{Peer: id, Track: track, Receiver: receiver, PeerConnection: pc})
			}
		})
	})

	for _, stream := range e.streams {
		e.attachStream(rec, stream)
	}
	rec.log.Debug("peer record created")
	return rec, nil
}

// attachStream adds stream's tracks to rec and returns how many were added.
func (e *Engine) attachStream(rec *peerRecord, stream Stream) int {
	added := 0
	for _, track := range stream.Tracks {
		sender, err := rec.pc.AddTrack(track)
		if err != nil {
			rec.log.Warn("attach track failed", "stream", stream.ID, "track", track.ID(), "err", err)
			continue
		}
		rec.localTracks++
		added++
		if e.policy.enabled() {
			e.policy.applyToTrack(track)
		}

		// Read RTCP so interceptors see receiver reports and NACKs.
		go func() {
			rtcpBuf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(rtcpBuf); err != nil {
					return
				}
			}
		}()
	}
	return added
}

func (e *Engine) onConnectionState(rec *peerRecord, state webrtc.PeerConnectionState) {
	rec.log.Debug("connection state", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if rec.state != StateConnected {
			e.metrics.Inc(metrics.PeersConnected)
		}
		rec.state = StateConnected
		e.emitState(rec, state, nil)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		e.failRecord(rec, "connection "+state.String(), nil)
	case webrtc.PeerConnectionStateClosed:
		e.removeRecord(rec)
		e.emitState(rec, state, nil)
	default:
		e.emitState(rec, state, nil)
	}
}

// failRecord tears down one peer after a terminal error. A later announce
// from the same identity starts over with a new record.
func (e *Engine) failRecord(rec *peerRecord, reason string, err error) {
	failure := &NegotiationFailure{Peer: rec.id, Reason: reason, Err: err}
	e.metrics.Inc(metrics.NegotiationFailures)
	rec.log.Warn("peer removed", "reason", reason, "err", err)
	state := rec.pc.ConnectionState()
	e.removeRecord(rec)
	e.emitState(rec, state, failure)
}

// removeRecord closes rec's connection and forgets it. Callbacks still in
// flight for rec see a different (or no) record and do nothing.
func (e *Engine) removeRecord(rec *peerRecord) {
	if e.records[rec.id] != rec {
		return
	}
	rec.state = StateClosed
	if err := rec.pc.Close(); err != nil {
		rec.log.Debug("close peer connection", "err", err)
	}
	delete(e.records, rec.id)
	e.metrics.Inc(metrics.PeersRemoved)
}

func (e *Engine) emitState(rec *peerRecord, state webrtc.PeerConnectionState, err error) {
	if e.handlers.PeerStateChange == nil {
		return
	}
	e.handlers.PeerStateChange(PeerStateEvent{
		Peer:            rec.id,
		State:           rec.state,
		ConnectionState: state,
		PeerConnection:  rec.pc,
		Err:             err,
	})
}
