// Package media provides the local stream a participant sends to every peer.
// Camera and microphone are stood in for by an IVF video file and an Ogg Opus
// audio file, replayed in a loop at their native pace.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/mesh"
)

// ErrNoSources is wrapped by the MediaAccessError returned when neither a
// video nor an audio file was configured.
var ErrNoSources = errors.New("no media sources configured")

// MediaAccessError reports that local media could not be opened. Callers
// treat it as a notice: the participant still joins, it just sends nothing.
type MediaAccessError struct {
	Kind string
	Path string
	Err  error
}

func (e *MediaAccessError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("media: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("media: %s %q: %v", e.Kind, e.Path, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// sampleWriter is the part of a local track the pacing loops write to.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// Source owns the files and pacing goroutines behind a local stream.
type Source struct {
	stream mesh.Stream
	video  *VideoTrack

	cancel context.CancelFunc
	wg     sync.WaitGroup
	files  []*os.File
}

// OpenFiles opens the configured media files, creates one track per file and
// starts pacing samples into them until ctx is done or Close is called.
// Either path may be empty, but not both. All failures are *MediaAccessError.
func OpenFiles(ctx context.Context, videoPath, audioPath string, logger *slog.Logger) (*Source, error) {
	if videoPath == "" && audioPath == "" {
		return nil, &MediaAccessError{Kind: "stream", Err: ErrNoSources}
	}
	if logger == nil {
		logger = slog.Default()
	}
	streamID := uuid.NewString()
	log := logger.With("component", "media", "stream", streamID)

	s := &Source{stream: mesh.Stream{ID: streamID}}
	var starts []func(context.Context)

	if videoPath != "" {
		f, ivf, header, err := openIVF(videoPath)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)

		mime, err := ivfMimeType(header.FourCC)
		if err != nil {
			s.closeFiles()
			return nil, &MediaAccessError{Kind: "video", Path: videoPath, Err: err}
		}
		sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
		if err != nil {
			s.closeFiles()
			return nil, &MediaAccessError{Kind: "video", Path: videoPath, Err: err}
		}
		s.video = &VideoTrack{TrackLocalStaticSample: sample, log: log}
		s.stream.Tracks = append(s.stream.Tracks, s.video)

		v := &videoPacer{
			file:     f,
			reader:   ivf,
			interval: frameInterval(header),
			out:      s.video,
			limits:   s.video,
			log:      log.With("kind", "video"),
		}
		log.Info("video source opened", "path", videoPath, "codec", mime,
			"width", header.Width, "height", header.Height, "frame_interval", v.interval.String())
		starts = append(starts, v.run)
	}

	if audioPath != "" {
		f, ogg, header, err := openOgg(audioPath)
		if err != nil {
			s.closeFiles()
			return nil, err
		}
		s.files = append(s.files, f)

		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			s.closeFiles()
			return nil, &MediaAccessError{Kind: "audio", Path: audioPath, Err: err}
		}
		s.stream.Tracks = append(s.stream.Tracks, track)

		a := &audioPacer{
			file:   f,
			reader: ogg,
			rate:   header.SampleRate,
			out:    track,
			log:    log.With("kind", "audio"),
		}
		log.Info("audio source opened", "path", audioPath, "channels", header.Channels, "sample_rate", header.SampleRate)
		starts = append(starts, a.run)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, start := range starts {
		start := start
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			start(ctx)
		}()
	}
	return s, nil
}

// Stream returns the tracks to hand to mesh.Engine.AddStream.
func (s *Source) Stream() mesh.Stream { return s.stream }

// Video returns the video track, or nil when no video file was opened.
func (s *Source) Video() *VideoTrack { return s.video }

// Close stops pacing and closes the files.
func (s *Source) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.closeFiles()
}

func (s *Source) closeFiles() error {
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = nil
	return errors.Join(errs...)
}

func openIVF(path string) (*os.File, *ivfreader.IVFReader, *ivfreader.IVFFileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, &MediaAccessError{Kind: "video", Path: path, Err: err}
	}
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, nil, &MediaAccessError{Kind: "video", Path: path, Err: err}
	}
	return f, r, header, nil
}

func openOgg(path string) (*os.File, *oggreader.OggReader, *oggreader.OggHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, &MediaAccessError{Kind: "audio", Path: path, Err: err}
	}
	r, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, nil, &MediaAccessError{Kind: "audio", Path: path, Err: err}
	}
	return f, r, header, nil
}

func ivfMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	default:
		return "", fmt.Errorf("unsupported ivf codec %q", fourCC)
	}
}
