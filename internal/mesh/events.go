package mesh

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
)

// PeerState is the lifecycle of the connection to one remote participant.
type PeerState int

const (
	StateAbsent PeerState = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("PeerState(%d)", int(s))
	}
}

func (s PeerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stream is a group of local tracks that is sent to every peer.
type Stream struct {
	ID     string
	Tracks []webrtc.TrackLocal
}

// Handlers receive engine events. They run on the engine's loop goroutine, so
// they must return quickly and must not call AddStream or Peers. Nil handlers
// are skipped.
type Handlers struct {
	// Ready fires once the relay link is up and the announce has been sent.
	Ready           func()
	Track           func(TrackEvent)
	PeerStateChange func(PeerStateEvent)
	Chat            func(ChatMessage)
}

// TrackEvent reports a remote track. The handler owns reading it.
type TrackEvent struct {
	Peer           roomcrypto.Identity
	Track          *webrtc.TrackRemote
	Receiver       *webrtc.RTPReceiver
	PeerConnection *webrtc.PeerConnection
}

type PeerStateEvent struct {
	Peer            roomcrypto.Identity
	State           PeerState
	ConnectionState webrtc.PeerConnectionState
	PeerConnection  *webrtc.PeerConnection
	// Err is a *NegotiationFailure when State is StateClosed because the
	// connection failed.
	Err error
}

type ChatMessage struct {
	Sender roomcrypto.Identity
	Text   string
}

// PeerInfo is a point-in-time view of one peer record.
type PeerInfo struct {
	Identity           roomcrypto.Identity `json:"identity"`
	State              PeerState           `json:"state"`
	SignalingState     string              `json:"signaling_state"`
	ICEConnectionState string              `json:"ice_connection_state"`
	ConnectionState    string              `json:"connection_state"`
	LocalTracks        int                 `json:"local_tracks"`
	RemoteTracks       int                 `json:"remote_tracks"`
}

// NegotiationFailure is reported when one peer's connection is torn down
// because it failed. Other peers are unaffected.
type NegotiationFailure struct {
	Peer   roomcrypto.Identity
	Reason string
	Err    error
}

func (f *NegotiationFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("mesh: peer %s: %s: %v", f.Peer, f.Reason, f.Err)
	}
	return fmt.Sprintf("mesh: peer %s: %s", f.Peer, f.Reason)
}

func (f *NegotiationFailure) Unwrap() error { return f.Err }
