// Package signaling defines the control messages participants exchange over the
// encrypted relay channel and their canonical JSON encoding.
//
// The wire shape is keyed by presence rather than by a "type" field so that Go
// participants interoperate with the browser client:
//
//	{"announce":true,"sender":"X1"}
//	{"announce":true,"sender":"Y2","recipient":"X1"}
//	{"offer":{"type":"offer","sdp":"v=0..."},"sender":"X1","recipient":"Y2"}
//	{"answer":{"type":"answer","sdp":"v=0..."},"sender":"Y2","recipient":"X1"}
//	{"icecandidate":{"candidate":"...","sdpMid":"0"},"sender":"X1","recipient":"Y2"}
//	{"message":"hello","sender":"X1"}
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
)

// ErrFormat reports a plaintext that is not a well-formed control message.
var ErrFormat = errors.New("signaling: malformed control message")

type Kind int

const (
	KindAnnounce Kind = iota + 1
	KindOffer
	KindAnswer
	KindICECandidate
	KindChat
)

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "announce"
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindICECandidate:
		return "icecandidate"
	case KindChat:
		return "chat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	keyAnnounce        = "announce"
	keyOffer           = "offer"
	keyAnswer          = "answer"
	keyICECandidate    = "icecandidate"
	keyChat            = "message"
	keySender          = "sender"
	keyRecipient       = "recipient"
	keyLegacyRecipient = "receipient"
)

// Message is a decoded control message. Which fields are meaningful depends on
// Kind: SDP for offers and answers, Candidate for ICE candidates (nil marks
// end-of-candidates) and Text for chat.
type Message struct {
	Kind      Kind
	Sender    roomcrypto.Identity
	Recipient roomcrypto.Identity

	SDP       *SessionDescription
	Candidate *Candidate
	Text      string
}

func Announce(sender roomcrypto.Identity) Message {
	return Message{Kind: KindAnnounce, Sender: sender}
}

// RenegotiationRequest is an announce addressed to one peer. A participant
// that already has a connection to sender answers it with a fresh offer.
func RenegotiationRequest(sender, recipient roomcrypto.Identity) Message {
	return Message{Kind: KindAnnounce, Sender: sender, Recipient: recipient}
}

func Offer(sender, recipient roomcrypto.Identity, desc webrtc.SessionDescription) Message {
	sd := SessionDescriptionFromPion(desc)
	return Message{Kind: KindOffer, Sender: sender, Recipient: recipient, SDP: &sd}
}

func Answer(sender, recipient roomcrypto.Identity, desc webrtc.SessionDescription) Message {
	sd := SessionDescriptionFromPion(desc)
	return Message{Kind: KindAnswer, Sender: sender, Recipient: recipient, SDP: &sd}
}

// ICECandidate builds a candidate message. A nil init encodes as
// end-of-candidates.
func ICECandidate(sender, recipient roomcrypto.Identity, init *webrtc.ICECandidateInit) Message {
	msg := Message{Kind: KindICECandidate, Sender: sender, Recipient: recipient}
	if init != nil {
		c := CandidateFromPion(*init)
		msg.Candidate = &c
	}
	return msg
}

func Chat(sender roomcrypto.Identity, text string) Message {
	return Message{Kind: KindChat, Sender: sender, Text: text}
}

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Encode returns the canonical JSON encoding of msg.
func Encode(msg Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}

	out := make(map[string]any, 3)
	switch msg.Kind {
	case KindAnnounce:
		out[keyAnnounce] = true
	case KindOffer:
		out[keyOffer] = msg.SDP
	case KindAnswer:
		out[keyAnswer] = msg.SDP
	case KindICECandidate:
		if msg.Candidate == nil {
			out[keyICECandidate] = nil
		} else {
			out[keyICECandidate] = msg.Candidate
		}
	case KindChat:
		out[keyChat] = msg.Text
	}
	if msg.Sender != "" {
		out[keySender] = msg.Sender
	}
	if msg.Recipient != "" {
		out[keyRecipient] = msg.Recipient
	}
	// encoding/json sorts map keys, which makes the output canonical.
	return json.Marshal(out)
}

// Decode parses a plaintext control message. The discriminant is chosen by
// which of the variant keys is present; exactly one must be. Unknown keys are
// ignored. Errors wrap ErrFormat.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrFormat)
	}

	kind, err := discriminant(fields)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Kind: kind}
	if err := decodeIdentity(fields, keySender, &msg.Sender); err != nil {
		return Message{}, err
	}
	recipientKey := keyRecipient
	if _, ok := fields[recipientKey]; !ok {
		recipientKey = keyLegacyRecipient
	}
	if err := decodeIdentity(fields, recipientKey, &msg.Recipient); err != nil {
		return Message{}, err
	}

	switch kind {
	case KindOffer, KindAnswer:
		key := keyOffer
		if kind == KindAnswer {
			key = keyAnswer
		}
		var sd SessionDescription
		if err := json.Unmarshal(fields[key], &sd); err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrFormat, key, err)
		}
		msg.SDP = &sd
	case KindICECandidate:
		raw := fields[keyICECandidate]
		if !isNull(raw) {
			var c Candidate
			if err := json.Unmarshal(raw, &c); err != nil {
				return Message{}, fmt.Errorf("%w: icecandidate: %v", ErrFormat, err)
			}
			msg.Candidate = &c
		}
	case KindChat:
		if err := json.Unmarshal(fields[keyChat], &msg.Text); err != nil {
			return Message{}, fmt.Errorf("%w: message: %v", ErrFormat, err)
		}
	}

	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func discriminant(fields map[string]json.RawMessage) (Kind, error) {
	var kind Kind
	set := func(k Kind) error {
		if kind != 0 {
			return fmt.Errorf("%w: both %s and %s present", ErrFormat, kind, k)
		}
		kind = k
		return nil
	}

	if raw, ok := fields[keyAnnounce]; ok {
		var announce bool
		if err := json.Unmarshal(raw, &announce); err != nil {
			return 0, fmt.Errorf("%w: announce: %v", ErrFormat, err)
		}
		// {"announce":false} is not an announcement.
		if announce {
			if err := set(KindAnnounce); err != nil {
				return 0, err
			}
		}
	}
	for _, c := range []struct {
		key  string
		kind Kind
	}{
		{keyOffer, KindOffer},
		{keyAnswer, KindAnswer},
		{keyICECandidate, KindICECandidate},
		{keyChat, KindChat},
	} {
		if _, ok := fields[c.key]; !ok {
			continue
		}
		if err := set(c.kind); err != nil {
			return 0, err
		}
	}
	if kind == 0 {
		return 0, fmt.Errorf("%w: no recognised message key", ErrFormat)
	}
	return kind, nil
}

func decodeIdentity(fields map[string]json.RawMessage, key string, dst *roomcrypto.Identity) error {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFormat, key, err)
	}
	*dst = roomcrypto.Identity(s)
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (m Message) validate() error {
	switch m.Kind {
	case KindAnnounce:
		if m.SDP != nil || m.Candidate != nil || m.Text != "" {
			return fmt.Errorf("%w: announce message has unexpected fields", ErrFormat)
		}
	case KindOffer, KindAnswer:
		want := "offer"
		if m.Kind == KindAnswer {
			want = "answer"
		}
		if m.SDP == nil {
			return fmt.Errorf("%w: %s message missing sdp", ErrFormat, want)
		}
		if m.SDP.Type != want {
			return fmt.Errorf("%w: %s message has sdp.type=%q", ErrFormat, want, m.SDP.Type)
		}
		if m.SDP.SDP == "" {
			return fmt.Errorf("%w: %s message has empty sdp", ErrFormat, want)
		}
		if m.Candidate != nil || m.Text != "" {
			return fmt.Errorf("%w: %s message has unexpected fields", ErrFormat, want)
		}
	case KindICECandidate:
		if m.SDP != nil || m.Text != "" {
			return fmt.Errorf("%w: icecandidate message has unexpected fields", ErrFormat)
		}
	case KindChat:
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("%w: chat message has unexpected fields", ErrFormat)
		}
	default:
		return fmt.Errorf("%w: unsupported message kind %s", ErrFormat, m.Kind)
	}
	return nil
}
