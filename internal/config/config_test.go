package config

import (
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	t.Parallel()

	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.StatusAddr != DefaultStatusAddr {
		t.Fatalf("StatusAddr=%q, want %q", cfg.StatusAddr, DefaultStatusAddr)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
	if cfg.VideoMaxBitrate != DefaultVideoMaxBitrate {
		t.Fatalf("VideoMaxBitrate=%d, want %d", cfg.VideoMaxBitrate, DefaultVideoMaxBitrate)
	}
	if cfg.VideoScaleDownBy != DefaultVideoScaleDownBy {
		t.Fatalf("VideoScaleDownBy=%v, want %v", cfg.VideoScaleDownBy, DefaultVideoScaleDownBy)
	}
	if cfg.RelayMaxMessageBytes != DefaultRelayMaxMessageBytes {
		t.Fatalf("RelayMaxMessageBytes=%d, want %d", cfg.RelayMaxMessageBytes, DefaultRelayMaxMessageBytes)
	}
	if cfg.RelayMaxMessagesPerSecond != DefaultRelayMaxMessagesPerSecond {
		t.Fatalf("RelayMaxMessagesPerSecond=%d, want %d", cfg.RelayMaxMessagesPerSecond, DefaultRelayMaxMessagesPerSecond)
	}
	if cfg.RelaySendQueueBytes != DefaultRelaySendQueueBytes {
		t.Fatalf("RelaySendQueueBytes=%d, want %d", cfg.RelaySendQueueBytes, DefaultRelaySendQueueBytes)
	}
	if cfg.RelayPingInterval != DefaultRelayPingInterval || cfg.RelayIdleTimeout != DefaultRelayIdleTimeout {
		t.Fatalf("relay keepalive=%v/%v, want %v/%v", cfg.RelayPingInterval, cfg.RelayIdleTimeout, DefaultRelayPingInterval, DefaultRelayIdleTimeout)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.IPv4zero) {
		t.Fatalf("WebRTCUDPListenIP=%v, want 0.0.0.0", cfg.WebRTCUDPListenIP)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeHost {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q, want %q", cfg.WebRTCNAT1To1IPCandidateType, NAT1To1CandidateTypeHost)
	}
	if len(cfg.WebRTCNAT1To1IPs) != 0 {
		t.Fatalf("expected WebRTCNAT1To1IPs empty, got %v", cfg.WebRTCNAT1To1IPs)
	}
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 1 || cfg.ICEServers[0].URLs[0] != DefaultSTUNURL {
		t.Fatalf("ICEServers=%+v, want the default STUN server", cfg.ICEServers)
	}
	if cfg.RoomURL != "" || cfg.RelayURL != "" {
		t.Fatalf("RoomURL=%q RelayURL=%q, want empty", cfg.RoomURL, cfg.RelayURL)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	t.Parallel()

	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestDefaultsProdFromEnv(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{envVarMode: "production"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON {
		t.Fatalf("mode=%q logFormat=%q, want prod/json", cfg.Mode, cfg.LogFormat)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	t.Parallel()

	cfg, err := load(noEnv, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestLogLevelEnvWinsOverMode(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{envVarLogLevel: "warn"}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelWarn)
	}
}

func TestInvalidMode(t *testing.T) {
	t.Parallel()

	if _, err := load(noEnv, []string{"--mode", "staging"}); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestRoomURL_FlagOverridesEnv(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{
		envVarRoomURL: "https://env.example/chat/#abc",
	}), []string{"--room-url", "https://flag.example/chat/#def"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RoomURL != "https://flag.example/chat/#def" {
		t.Fatalf("RoomURL=%q", cfg.RoomURL)
	}
}

func TestStatusAddr_EmptyEnvDisables(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StatusAddr != DefaultStatusAddr {
		t.Fatalf("StatusAddr=%q, want %q", cfg.StatusAddr, DefaultStatusAddr)
	}

	cfg, err = load(lookupMap(map[string]string{envVarStatusAddr: ""}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StatusAddr != "" {
		t.Fatalf("StatusAddr=%q, want empty", cfg.StatusAddr)
	}

	cfg, err = load(lookupMap(map[string]string{envVarStatusAddr: "127.0.0.1:9000"}), []string{"--status-addr", ""})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StatusAddr != "" {
		t.Fatalf("StatusAddr=%q, want empty", cfg.StatusAddr)
	}
}

func TestRoomURL_Invalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"ftp://example.com/", "https://", "not a url"} {
		if _, err := load(lookupMap(map[string]string{envVarRoomURL: raw}), nil); err == nil {
			t.Fatalf("room url %q: expected error, got nil", raw)
		}
	}
}

func TestRelayURL_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := load(noEnv, []string{"--relay-url", "gopher://relay.example"}); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestVideoSettings(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{
		envVarVideoMaxBitrate:  "0",
		envVarVideoScaleDownBy: "1.5",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VideoMaxBitrate != 0 {
		t.Fatalf("VideoMaxBitrate=%d, want 0", cfg.VideoMaxBitrate)
	}
	if cfg.VideoScaleDownBy != 1.5 {
		t.Fatalf("VideoScaleDownBy=%v, want 1.5", cfg.VideoScaleDownBy)
	}
}

func TestVideoSettings_Invalid(t *testing.T) {
	t.Parallel()

	cases := []map[string]string{
		{envVarVideoMaxBitrate: "-1"},
		{envVarVideoMaxBitrate: "lots"},
		{envVarVideoScaleDownBy: "0.5"},
		{envVarVideoScaleDownBy: "half"},
	}
	for _, env := range cases {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("env %v: expected error, got nil", env)
		}
	}
}

func TestRelayLimits_EnvOverride(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{
		envVarRelayMaxMessageBytes:      "1024",
		envVarRelayMaxMessagesPerSecond: "0",
		envVarRelaySendQueueBytes:       "4096",
		envVarRelayPingInterval:         "5s",
		envVarRelayIdleTimeout:          "15s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayMaxMessageBytes != 1024 || cfg.RelaySendQueueBytes != 4096 {
		t.Fatalf("relay sizes=%d/%d", cfg.RelayMaxMessageBytes, cfg.RelaySendQueueBytes)
	}
	if cfg.RelayMaxMessagesPerSecond != 0 {
		t.Fatalf("RelayMaxMessagesPerSecond=%d, want 0", cfg.RelayMaxMessagesPerSecond)
	}
	if cfg.RelayPingInterval != 5*time.Second || cfg.RelayIdleTimeout != 15*time.Second {
		t.Fatalf("relay keepalive=%v/%v", cfg.RelayPingInterval, cfg.RelayIdleTimeout)
	}
}

func TestRelayLimits_PingMustBeBelowIdle(t *testing.T) {
	t.Parallel()

	_, err := load(noEnv, []string{"--relay-ping-interval", "30s", "--relay-idle-timeout", "30s"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), envVarRelayPingInterval) {
		t.Fatalf("err=%v, expected mention of %s", err, envVarRelayPingInterval)
	}
}

func TestRelayLimits_SendQueueMustHoldOneMessage(t *testing.T) {
	t.Parallel()

	_, err := load(lookupMap(map[string]string{
		envVarRelayMaxMessageBytes: "4096",
		envVarRelaySendQueueBytes:  "1024",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCUDPPortRange_RequiresBoth(t *testing.T) {
	t.Parallel()

	_, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPPortMin: "40000",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCUDPPortRange_Inverted(t *testing.T) {
	t.Parallel()

	_, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPPortMin: "40100",
		envVarWebRTCUDPPortMax: "40000",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCUDPPortRange_OK(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPPortMin: "40000",
		envVarWebRTCUDPPortMax: "40199",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil {
		t.Fatalf("expected WebRTCUDPPortRange set")
	}
	if cfg.WebRTCUDPPortRange.Min != 40000 || cfg.WebRTCUDPPortRange.Max != 40199 {
		t.Fatalf("WebRTCUDPPortRange=%+v", *cfg.WebRTCUDPPortRange)
	}
}

func TestWebRTCNAT1To1IPsAndCandidateType(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{
		envVarWebRTCNAT1To1IPs:             "203.0.113.10, 203.0.113.11",
		envVarWebRTCNAT1To1IPCandidateType: "srflx",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := len(cfg.WebRTCNAT1To1IPs), 2; got != want {
		t.Fatalf("len(WebRTCNAT1To1IPs)=%d, want %d", got, want)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q, want %q", cfg.WebRTCNAT1To1IPCandidateType, NAT1To1CandidateTypeSrflx)
	}
}

func TestWebRTCNAT1To1IPs_InvalidCandidateType(t *testing.T) {
	t.Parallel()

	_, err := load(lookupMap(map[string]string{
		envVarWebRTCNAT1To1IPCandidateType: "nope",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCNAT1To1IPs_InvalidIPs(t *testing.T) {
	t.Parallel()

	_, err := load(lookupMap(map[string]string{
		envVarWebRTCNAT1To1IPs: "nope",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestWebRTCUDPListenIP(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPListenIP: "10.0.0.123",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.ParseIP("10.0.0.123")) {
		t.Fatalf("WebRTCUDPListenIP=%v", cfg.WebRTCUDPListenIP)
	}
}

func TestWebRTCUDPListenIP_Invalid(t *testing.T) {
	t.Parallel()

	_, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPListenIP: "bad.ip",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestICEServers_FromFlags(t *testing.T) {
	t.Parallel()

	cfg, err := load(noEnv, []string{
		"--stun-urls", "stun:a.example:3478",
		"--turn-urls", "turn:b.example:3478",
		"--turn-username", "u",
		"--turn-credential", "p",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers=%+v, want 2 entries", cfg.ICEServers)
	}
}

func TestICEServers_EmptyJSONDisables(t *testing.T) {
	t.Parallel()

	cfg, err := load(lookupMap(map[string]string{envICEServersJSON: "[]"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%+v, want none", cfg.ICEServers)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestIsUnspecifiedIP(t *testing.T) {
	t.Parallel()

	if !IsUnspecifiedIP(nil) || !IsUnspecifiedIP(net.IPv4zero) || !IsUnspecifiedIP(net.IPv6zero) {
		t.Fatalf("expected nil and zero addresses to be unspecified")
	}
	if IsUnspecifiedIP(net.ParseIP("127.0.0.1")) {
		t.Fatalf("127.0.0.1 reported as unspecified")
	}
}
