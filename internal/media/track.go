package media

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// VideoTrack is the local video track. It accepts the mesh's per-peer
// encoding limits, but a file source cannot re-encode, so limits are recorded
// and a warning is logged when the file runs above the cap.
type VideoTrack struct {
	*webrtc.TrackLocalStaticSample

	log *slog.Logger

	mu          sync.Mutex
	maxBitrate  int
	scaleDownBy float64
	warned      bool
}

// SetEncodingLimits implements mesh.EncodingLimiter.
func (t *VideoTrack) SetEncodingLimits(maxBitrate int, scaleDownBy float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxBitrate == maxBitrate && t.scaleDownBy == scaleDownBy {
		return
	}
	t.maxBitrate = maxBitrate
	t.scaleDownBy = scaleDownBy
	t.warned = false
	if t.log != nil {
		t.log.Debug("video encoding limits", "max_bitrate", maxBitrate, "scale_down_by", scaleDownBy)
	}
}

// Limits returns the last limits set by the mesh.
func (t *VideoTrack) Limits() (maxBitrate int, scaleDownBy float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxBitrate, t.scaleDownBy
}

// observe records a measured bitrate and reports whether it exceeded the cap.
func (t *VideoTrack) observe(bps int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxBitrate <= 0 || bps <= t.maxBitrate {
		return false
	}
	if !t.warned && t.log != nil {
		t.log.Warn("video file exceeds per-peer bitrate cap; receivers may drop frames",
			"measured_bps", bps, "max_bitrate", t.maxBitrate)
	}
	t.warned = true
	return true
}
