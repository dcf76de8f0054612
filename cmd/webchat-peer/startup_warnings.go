package main

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config, relayEndpoint string) {
	if logger == nil {
		logger = slog.Default()
	}

	if u, err := url.Parse(relayEndpoint); err == nil && strings.EqualFold(u.Scheme, "ws") {
		logger.Warn("startup warning: relay endpoint is not TLS; messages stay end-to-end encrypted but the channel id and traffic pattern are visible on the network",
			"warning_code", "relay_plaintext_transport",
			"relay_host", u.Host,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured; only host candidates will be gathered and peers behind NAT may not connect",
			"warning_code", "no_ice_servers",
			"mode", cfg.Mode,
		)
	} else if !hasTURN(cfg) {
		logger.Info("no TURN server configured; peers behind symmetric NATs may not connect",
			"warning_code", "no_turn_server",
		)
	}

	if cfg.VideoMaxBitrate == 0 && cfg.VideoFile != "" {
		logger.Warn("startup warning: video bitrate cap disabled; every peer receives a full-rate copy of the local video",
			"warning_code", "video_cap_disabled",
			"mode", cfg.Mode,
		)
	}
}

func hasTURN(cfg config.Config) bool {
	for _, s := range cfg.ICEServers {
		for _, u := range s.URLs {
			lower := strings.ToLower(u)
			if strings.HasPrefix(lower, "turn:") || strings.HasPrefix(lower, "turns:") {
				return true
			}
		}
	}
	return false
}
