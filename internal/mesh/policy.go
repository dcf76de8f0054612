package mesh

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// VideoPolicy bounds the video exchanged with each peer. In a full mesh every
// participant uploads one copy of its video per peer.
//
// The cap is advertised as b=AS/b=TIAS in every description we send, which
// asks the peer to keep the video it sends us under it. Video we send is
// limited only through tracks that implement EncodingLimiter.
type VideoPolicy struct {
	// MaxBitrate is in bits per second. Zero disables the cap.
	MaxBitrate int
	// ScaleDownBy is the resolution divisor; values below 1 mean 1.
	ScaleDownBy float64
}

func (p VideoPolicy) enabled() bool { return p.MaxBitrate > 0 }

func (p VideoPolicy) scale() float64 {
	if p.ScaleDownBy < 1 {
		return 1
	}
	return p.ScaleDownBy
}

// EncodingLimiter is implemented by local video tracks that can limit their
// own output.
type EncodingLimiter interface {
	SetEncodingLimits(maxBitrate int, scaleDownBy float64)
}

func (p VideoPolicy) applyToTrack(track webrtc.TrackLocal) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	if limiter, ok := track.(EncodingLimiter); ok {
		limiter.SetEncodingLimits(p.MaxBitrate, p.scale())
	}
}

// capVideoBandwidth rewrites every video media section of raw to carry
// b=AS (kbps) and b=TIAS (bps) lines for maxBitrate, the receive bandwidth
// the description's sender accepts. Existing AS and TIAS lines on those
// sections are replaced; other sections are untouched.
func capVideoBandwidth(raw string, maxBitrate int) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}

	kbps := uint64((maxBitrate + 999) / 1000)
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "video" {
			continue
		}
		kept := m.Bandwidth[:0]
		for _, b := range m.Bandwidth {
			if b.Type == "AS" || b.Type == "TIAS" {
				continue
			}
			kept = append(kept, b)
		}
		m.Bandwidth = append(kept,
			sdp.Bandwidth{Type: "AS", Bandwidth: kbps},
			sdp.Bandwidth{Type: "TIAS", Bandwidth: uint64(maxBitrate)},
		)
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}
