package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarRoomURL         = "WEBCHAT_ROOM_URL"
	envVarRelayURL        = "WEBCHAT_RELAY_URL"
	envVarLogFormat       = "WEBCHAT_LOG_FORMAT"
	envVarLogLevel        = "WEBCHAT_LOG_LEVEL"
	envVarMode            = "WEBCHAT_MODE"
	envVarStatusAddr      = "WEBCHAT_STATUS_ADDR"
	envVarShutdownTimeout = "WEBCHAT_SHUTDOWN_TIMEOUT"

	// Local media.
	envVarVideoFile        = "WEBCHAT_VIDEO_FILE"
	envVarAudioFile        = "WEBCHAT_AUDIO_FILE"
	envVarVideoMaxBitrate  = "WEBCHAT_VIDEO_MAX_BITRATE"
	envVarVideoScaleDownBy = "WEBCHAT_VIDEO_SCALE_DOWN_BY"

	// Relay link hardening.
	envVarRelayMaxMessageBytes      = "RELAY_MAX_MESSAGE_BYTES"
	envVarRelayMaxMessagesPerSecond = "RELAY_MAX_MESSAGES_PER_SECOND"
	envVarRelaySendQueueBytes       = "RELAY_SEND_QUEUE_BYTES"
	envVarRelayPingInterval         = "RELAY_PING_INTERVAL"
	envVarRelayIdleTimeout          = "RELAY_IDLE_TIMEOUT"

	envVarWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	envVarWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"

	DefaultStatusAddr = "127.0.0.1:8089"
	DefaultShutdown   = 5 * time.Second

	// DefaultVideoMaxBitrate is the per-peer video ceiling in bits per second.
	// Every participant uploads one copy per peer in a mesh.
	DefaultVideoMaxBitrate  = 250_000
	DefaultVideoScaleDownBy = 2.0

	DefaultRelayMaxMessageBytes      = 64 * 1024
	DefaultRelayMaxMessagesPerSecond = 200
	DefaultRelaySendQueueBytes       = 1 << 20 // 1MiB
	DefaultRelayPingInterval         = 20 * time.Second
	DefaultRelayIdleTimeout          = 60 * time.Second

	DefaultWebRTCUDPListenIP = "0.0.0.0"

	// DefaultSTUNURL matches the browser client so mixed rooms gather the same
	// server-reflexive candidates.
	DefaultSTUNURL = "stun:stun.l.google.com:19302"
)

const (
	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

const DefaultMode = ModeDev

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// RoomURL is the shareable page URL. Its fragment carries the room secret.
	RoomURL string
	// RelayURL, when set, replaces RoomURL as the base for the relay endpoint.
	RelayURL string
	// StatusAddr is the local status server address; empty disables it.
	StatusAddr string

	VideoFile string
	AudioFile string
	// VideoMaxBitrate caps video per peer in bits per second: it is advertised
	// to peers as our receive limit and handed to local video tracks. Zero
	// disables the cap.
	VideoMaxBitrate  int
	VideoScaleDownBy float64

	RelayMaxMessageBytes      int
	RelayMaxMessagesPerSecond int
	RelaySendQueueBytes       int
	RelayPingInterval         time.Duration
	RelayIdleTimeout          time.Duration

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion uses
	// its defaults (OS ephemeral port selection).
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCNAT1To1IPs advertises these IPs for ICE when the participant sits
	// behind a 1:1 NAT. Values must be literal IPs.
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	// WebRTCUDPListenIP restricts which local interface address ICE will bind UDP
	// sockets to. 0.0.0.0 means "use library default" (typically all interfaces).
	WebRTCUDPListenIP net.IP

	ICEServers []webrtc.ICEServer
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	roomURL := envOrDefault(lookup, envVarRoomURL, "")
	relayURL := envOrDefault(lookup, envVarRelayURL, "")
	// An explicitly empty status address disables the server.
	statusAddr := DefaultStatusAddr
	if v, ok := lookup(envVarStatusAddr); ok {
		statusAddr = strings.TrimSpace(v)
	}
	videoFile := envOrDefault(lookup, envVarVideoFile, "")
	audioFile := envOrDefault(lookup, envVarAudioFile, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	videoMaxBitrate, err := envIntOrDefault(lookup, envVarVideoMaxBitrate, DefaultVideoMaxBitrate)
	if err != nil {
		return Config{}, err
	}
	videoScaleDownBy := DefaultVideoScaleDownBy
	if raw, ok := lookup(envVarVideoScaleDownBy); ok && strings.TrimSpace(raw) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarVideoScaleDownBy, raw, err)
		}
		videoScaleDownBy = f
	}

	relayMaxMessageBytes, err := envIntOrDefault(lookup, envVarRelayMaxMessageBytes, DefaultRelayMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	relayMaxMessagesPerSecond, err := envIntOrDefault(lookup, envVarRelayMaxMessagesPerSecond, DefaultRelayMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	relaySendQueueBytes, err := envIntOrDefault(lookup, envVarRelaySendQueueBytes, DefaultRelaySendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	relayPingInterval, err := envDurationOrDefault(lookup, envVarRelayPingInterval, DefaultRelayPingInterval)
	if err != nil {
		return Config{}, err
	}
	relayIdleTimeout, err := envDurationOrDefault(lookup, envVarRelayIdleTimeout, DefaultRelayIdleTimeout)
	if err != nil {
		return Config{}, err
	}

	// WebRTC network defaults (env values become flag defaults).
	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}

	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}

	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := flag.NewFlagSet("webchat-peer", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&roomURL, "room-url", roomURL, "Room page URL; the #fragment carries the room secret (env "+envVarRoomURL+")")
	fs.StringVar(&relayURL, "relay-url", relayURL, "Relay base URL, if different from the room URL (env "+envVarRelayURL+")")
	fs.StringVar(&statusAddr, "status-addr", statusAddr, "Local status HTTP address; empty disables (env "+envVarStatusAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")

	fs.StringVar(&videoFile, "video-file", videoFile, "IVF (VP8) file to send as the local camera (env "+envVarVideoFile+")")
	fs.StringVar(&audioFile, "audio-file", audioFile, "Ogg Opus file to send as the local microphone (env "+envVarAudioFile+")")
	fs.IntVar(&videoMaxBitrate, "video-max-bitrate", videoMaxBitrate, "Per-peer video cap in bits/sec (0 = uncapped; env "+envVarVideoMaxBitrate+")")
	fs.Float64Var(&videoScaleDownBy, "video-scale-down-by", videoScaleDownBy, "Outgoing video downscale factor (>= 1; env "+envVarVideoScaleDownBy+")")

	fs.IntVar(&relayMaxMessageBytes, "relay-max-message-bytes", relayMaxMessageBytes, "Max relay frame size in bytes (env "+envVarRelayMaxMessageBytes+")")
	fs.IntVar(&relayMaxMessagesPerSecond, "relay-max-messages-per-second", relayMaxMessagesPerSecond, "Max inbound relay frames per second (0 = unlimited; env "+envVarRelayMaxMessagesPerSecond+")")
	fs.IntVar(&relaySendQueueBytes, "relay-send-queue-bytes", relaySendQueueBytes, "Max queued outbound relay bytes (env "+envVarRelaySendQueueBytes+")")
	fs.DurationVar(&relayPingInterval, "relay-ping-interval", relayPingInterval, "Relay websocket ping interval (must be < --relay-idle-timeout; env "+envVarRelayPingInterval+")")
	fs.DurationVar(&relayIdleTimeout, "relay-idle-timeout", relayIdleTimeout, "Close the relay link after this long without traffic (env "+envVarRelayIdleTimeout+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	// --mode prod on the command line changes the logging defaults unless the
	// format or level were chosen explicitly.
	if setFlags["mode"] {
		if !envLogFormatSet && !setFlags["log-format"] {
			logFormatStr = defaultLogFormatForMode(string(mode))
		}
		if !envLogLevelSet && !setFlags["log-level"] {
			logLevelStr = defaultLogLevelForMode(string(mode))
		}
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if roomURL != "" {
		if err := validateHTTPURL(roomURL); err != nil {
			return Config{}, fmt.Errorf("invalid %s/--room-url %q: %w", envVarRoomURL, roomURL, err)
		}
	}
	if relayURL != "" {
		if err := validateHTTPURL(relayURL); err != nil {
			return Config{}, fmt.Errorf("invalid %s/--relay-url %q: %w", envVarRelayURL, relayURL, err)
		}
	}

	if videoMaxBitrate < 0 {
		return Config{}, fmt.Errorf("%s/--video-max-bitrate must be >= 0", envVarVideoMaxBitrate)
	}
	if videoScaleDownBy < 1 {
		return Config{}, fmt.Errorf("%s/--video-scale-down-by must be >= 1, got %v", envVarVideoScaleDownBy, videoScaleDownBy)
	}

	if relayMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--relay-max-message-bytes must be > 0", envVarRelayMaxMessageBytes)
	}
	if relayMaxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--relay-max-messages-per-second must be >= 0", envVarRelayMaxMessagesPerSecond)
	}
	if relaySendQueueBytes < relayMaxMessageBytes {
		return Config{}, fmt.Errorf("%s/--relay-send-queue-bytes must be >= %s (%d)", envVarRelaySendQueueBytes, envVarRelayMaxMessageBytes, relayMaxMessageBytes)
	}
	if relayPingInterval <= 0 || relayIdleTimeout <= 0 {
		return Config{}, errors.New("relay ping interval and idle timeout must be > 0")
	}
	if relayPingInterval >= relayIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be < %s (%s)", envVarRelayPingInterval, relayPingInterval, envVarRelayIdleTimeout, relayIdleTimeout)
	}

	var webrtcUDPPortRange *UDPPortRange
	if (webrtcUDPPortMin == 0) != (webrtcUDPPortMax == 0) {
		return Config{}, fmt.Errorf("%s and %s must be set together (or both unset)", envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
	}
	if webrtcUDPPortMin != 0 {
		minPort, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMin, err)
		}
		maxPort, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMax, err)
		}
		if minPort > maxPort {
			return Config{}, fmt.Errorf("webrtc udp port range min %d > max %d", minPort, maxPort)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--%s %q", envVarWebRTCUDPListenIP, flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		webrtcNAT1To1IPs, err = parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, err)
		}
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, err)
	}

	iceServers, err := iceSources{
		json:           iceServersJSON,
		stunURLs:       stunURLs,
		turnURLs:       turnURLs,
		turnUsername:   turnUsername,
		turnCredential: turnCredential,
	}.resolve()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		RoomURL:    roomURL,
		RelayURL:   relayURL,
		StatusAddr: statusAddr,

		VideoFile:        videoFile,
		AudioFile:        audioFile,
		VideoMaxBitrate:  videoMaxBitrate,
		VideoScaleDownBy: videoScaleDownBy,

		RelayMaxMessageBytes:      relayMaxMessageBytes,
		RelayMaxMessagesPerSecond: relayMaxMessagesPerSecond,
		RelaySendQueueBytes:       relaySendQueueBytes,
		RelayPingInterval:         relayPingInterval,
		RelayIdleTimeout:          relayIdleTimeout,

		WebRTCUDPPortRange:           webrtcUDPPortRange,
		WebRTCNAT1To1IPs:             webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType: webrtcNAT1To1CandidateType,
		WebRTCUDPListenIP:            webrtcUDPListenIP,

		ICEServers: iceServers,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	// Stdout carries chat; logs go to stderr.
	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
