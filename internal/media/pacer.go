package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	defaultFrameInterval = 33 * time.Millisecond
	oggPageDuration      = 20 * time.Millisecond
)

func frameInterval(h *ivfreader.IVFFileHeader) time.Duration {
	if h == nil || h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return defaultFrameInterval
	}
	d := time.Duration(float64(time.Second) * float64(h.TimebaseNumerator) / float64(h.TimebaseDenominator))
	if d <= 0 {
		return defaultFrameInterval
	}
	return d
}

type ivfFrameReader interface {
	ParseNextFrame() ([]byte, *ivfreader.IVFFrameHeader, error)
}

type videoPacer struct {
	file     io.ReadSeeker
	reader   ivfFrameReader
	interval time.Duration
	out      sampleWriter
	limits   *VideoTrack
	log      *slog.Logger
}

// run writes one frame per interval and rewinds at end of file.
func (p *videoPacer) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	meter := newBitrateMeter(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := p.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if !p.rewind() {
				return
			}
			continue
		}
		if err != nil {
			p.log.Warn("video read failed; stopping", "err", err)
			return
		}

		if err := p.out.WriteSample(media.Sample{Data: frame, Duration: p.interval}); err != nil {
			p.log.Debug("write video sample", "err", err)
		}
		if bps, ok := meter.add(time.Now(), len(frame)); ok && p.limits != nil {
			p.limits.observe(bps)
		}
	}
}

func (p *videoPacer) rewind() bool {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		p.log.Warn("video rewind failed; stopping", "err", err)
		return false
	}
	r, _, err := ivfreader.NewWith(p.file)
	if err != nil {
		p.log.Warn("video rewind failed; stopping", "err", err)
		return false
	}
	p.reader = r
	p.log.Debug("video looped")
	return true
}

type oggPageReader interface {
	ParseNextPage() ([]byte, *oggreader.OggPageHeader, error)
}

type audioPacer struct {
	file   io.ReadSeeker
	reader oggPageReader
	rate   uint32
	out    sampleWriter
	log    *slog.Logger

	lastGranule uint64
}

func (p *audioPacer) run(ctx context.Context) {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, header, err := p.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !p.rewind() {
				return
			}
			continue
		}
		if err != nil {
			p.log.Warn("audio read failed; stopping", "err", err)
			return
		}

		if err := p.out.WriteSample(media.Sample{Data: page, Duration: p.pageDuration(header.GranulePosition)}); err != nil {
			p.log.Debug("write audio sample", "err", err)
		}
	}
}

// pageDuration derives a page's playout time from the granule position delta.
func (p *audioPacer) pageDuration(granule uint64) time.Duration {
	rate := p.rate
	if rate == 0 {
		rate = 48000
	}
	var samples uint64
	if granule > p.lastGranule {
		samples = granule - p.lastGranule
	}
	p.lastGranule = granule
	if samples == 0 {
		return oggPageDuration
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

func (p *audioPacer) rewind() bool {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		p.log.Warn("audio rewind failed; stopping", "err", err)
		return false
	}
	r, _, err := oggreader.NewWith(p.file)
	if err != nil {
		p.log.Warn("audio rewind failed; stopping", "err", err)
		return false
	}
	p.reader = r
	p.lastGranule = 0
	p.log.Debug("audio looped")
	return true
}

// bitrateMeter reports the average bitrate over each completed one-second
// window.
type bitrateMeter struct {
	start time.Time
	bytes int
}

func newBitrateMeter(now time.Time) *bitrateMeter {
	return &bitrateMeter{start: now}
}

func (m *bitrateMeter) add(now time.Time, n int) (int, bool) {
	m.bytes += n
	elapsed := now.Sub(m.start)
	if elapsed < time.Second {
		return 0, false
	}
	bps := int(float64(m.bytes*8) / elapsed.Seconds())
	m.start = now
	m.bytes = 0
	return bps, true
}
