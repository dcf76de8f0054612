package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/config"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/media"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/mesh"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/relaylink"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/securechannel"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if cfg.RoomURL == "" {
		fmt.Fprintln(os.Stderr, "a room URL is required (--room-url or WEBCHAT_ROOM_URL)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil {
		logger.Error("webchat-peer exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer) error {
	room, err := joinRoom(cfg.RoomURL)
	if err != nil {
		return err
	}
	if room.created {
		fmt.Fprintf(stdout, "Created a new room. Share this link to invite others:\n  %s\n", room.shareURL)
	}

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.WithLoggerFactory(webrtcpeer.SlogLoggerFactory{Logger: logger}))
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	base := cfg.RoomURL
	if cfg.RelayURL != "" {
		base = cfg.RelayURL
	}
	endpoint, err := relaylink.EndpointFor(base, room.channel)
	if err != nil {
		return err
	}

	logger.Info("starting webchat-peer",
		"mode", cfg.Mode,
		"relay_endpoint", endpoint,
		"status_addr", cfg.StatusAddr,
		"ice_servers", len(cfg.ICEServers),
		"video_file", cfg.VideoFile,
		"audio_file", cfg.AudioFile,
		"video_max_bitrate", cfg.VideoMaxBitrate,
	)
	logStartupWarnings(logger, cfg, endpoint)

	m := metrics.New()
	link, err := relaylink.Dial(ctx, endpoint, relaylink.Options{
		MaxMessageBytes:      cfg.RelayMaxMessageBytes,
		MaxMessagesPerSecond: cfg.RelayMaxMessagesPerSecond,
		SendQueueBytes:       cfg.RelaySendQueueBytes,
		PingInterval:         cfg.RelayPingInterval,
		IdleTimeout:          cfg.RelayIdleTimeout,
		Logger:               logger,
		Metrics:              m,
	})
	if err != nil {
		return err
	}
	channel := securechannel.New(link, room.cipher, logger, m)
	defer channel.Close()

	out := &console{w: stdout}
	engine, err := mesh.New(channel, api, mesh.Options{
		ICEServers: cfg.ICEServers,
		VideoPolicy: mesh.VideoPolicy{
			MaxBitrate:  cfg.VideoMaxBitrate,
			ScaleDownBy: cfg.VideoScaleDownBy,
		},
		Logger:  logger,
		Metrics: m,
		Handlers: mesh.Handlers{
			Ready: func() { out.printf("* joined the room\n") },
			Track: func(ev mesh.TrackEvent) {
				go drainTrack(ev, logger)
			},
			PeerStateChange: func(ev mesh.PeerStateEvent) {
				out.peerState(ev)
			},
			Chat: func(msg mesh.ChatMessage) {
				out.chat(msg)
			},
		},
	})
	if err != nil {
		return err
	}
	logger.Info("participant identity", "identity", string(engine.Identity()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- engine.Run(runCtx)
	}()

	if cfg.VideoFile != "" || cfg.AudioFile != "" {
		src, err := media.OpenFiles(runCtx, cfg.VideoFile, cfg.AudioFile, logger)
		var accessErr *media.MediaAccessError
		switch {
		case errors.As(err, &accessErr):
			logger.Warn("could not open local media; joining receive-only", "err", err)
			out.printf("* could not open local media (%v); you will join without sending audio or video\n", err)
		case err != nil:
			return err
		default:
			defer src.Close()
			if err := engine.AddStream(runCtx, src.Stream()); err != nil {
				return fmt.Errorf("add local stream: %w", err)
			}
		}
	}

	var status *httpserver.Server
	var statusErr chan error
	if cfg.StatusAddr != "" {
		commit, built := resolveBuildInfo(buildCommit, buildTime)
		status = httpserver.New(httpserver.Options{
			Addr:    cfg.StatusAddr,
			Logger:  logger,
			Build:   httpserver.BuildInfo{Commit: commit, BuildTime: built},
			Engine:  engine,
			Metrics: m,
		})
		statusErr = make(chan error, 1)
		go func() {
			statusErr <- status.ListenAndServe()
		}()
	}

	// The reader may stay blocked on stdin after shutdown; it is not waited on.
	go readChat(runCtx, stdin, engine.SendChatMessage, logger)

	var runErr error
	engineDone := false
wait:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			break wait
		case <-link.Done():
			runErr = fmt.Errorf("relay link closed: %w", link.Err())
			break wait
		case err := <-engineErr:
			engineDone = true
			if !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break wait
		case err := <-statusErr:
			// The status server is optional; losing it does not end the session.
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("status server exited", "err", err)
			}
			status, statusErr = nil, nil
		}
	}

	if status != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := status.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown failed", "err", err)
		}
		shutdownCancel()
	}
	cancel()
	if !engineDone {
		<-engineErr
	}
	return runErr
}

type roomInfo struct {
	channel  roomcrypto.ChannelID
	cipher   *roomcrypto.Cipher
	shareURL string
	created  bool
}

func joinRoom(roomURL string) (roomInfo, error) {
	fragment, err := fragmentOf(roomURL)
	if err != nil {
		return roomInfo{}, err
	}
	secret, created, err := roomcrypto.DeriveOrCreate(fragment)
	if err != nil {
		return roomInfo{}, err
	}
	cipher, err := roomcrypto.NewCipher(secret)
	if err != nil {
		return roomInfo{}, err
	}
	channel, err := roomcrypto.ChannelIDFor(secret)
	if err != nil {
		return roomInfo{}, err
	}
	shareURL, err := withFragment(roomURL, secret.String())
	if err != nil {
		return roomInfo{}, err
	}
	return roomInfo{channel: channel, cipher: cipher, shareURL: shareURL, created: created}, nil
}

func drainTrack(ev mesh.TrackEvent, logger *slog.Logger) {
	buf := make([]byte, 1500)
	var total int
	for {
		n, _, err := ev.Track.Read(buf)
		if err != nil {
			logger.Debug("remote track ended", "peer", string(ev.Peer), "track", ev.Track.ID(), "bytes", total, "err", err)
			return
		}
		total += n
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
