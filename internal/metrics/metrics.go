package metrics

import "sync"

// Event names. Drop counters carry the reason in the name so a single
// labelled Prometheus metric is enough to tell them apart.
const (
	RelayFramesIn            = "relay_frames_in"
	RelayFramesOut           = "relay_frames_out"
	RelayDropRateLimited     = "relay_drop_rate_limited"
	RelayDropQueueFull       = "relay_drop_queue_full"
	RelayDropNoHandler       = "relay_drop_no_handler"
	RelayDropTextFrame       = "relay_drop_text_frame"
	RelayConnected           = "relay_connected"
	RelayDialFailures        = "relay_dial_failures"
	DecryptAuthFailures      = "decrypt_auth_failures"
	DecryptFormatFailures    = "decrypt_format_failures"
	SignalingMessagesIn      = "signaling_messages_in"
	SignalingMessagesOut     = "signaling_messages_out"
	SignalingDropNotForUs    = "signaling_drop_not_for_us"
	SignalingDropNoSender    = "signaling_drop_no_sender"
	SignalingDropUnknownPeer = "signaling_drop_unknown_peer"
	PeersCreated             = "peers_created"
	PeersConnected           = "peers_connected"
	PeersRemoved             = "peers_removed"
	GlareResolved            = "glare_resolved"
	RenegotiationRequests    = "renegotiation_requests"
	NegotiationFailures      = "negotiation_failures"
	ICECandidatesBuffered    = "ice_candidates_buffered"
	TracksReceived           = "tracks_received"
	ChatMessagesIn           = "chat_messages_in"
	ChatMessagesOut          = "chat_messages_out"
)

// Metrics is a minimal, concurrency-safe counter registry. A nil *Metrics is
// valid and discards everything.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
