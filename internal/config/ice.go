package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "WEBCHAT_ICE_SERVERS_JSON"

	envStunURLs       = "WEBCHAT_STUN_URLS"
	envTurnURLs       = "WEBCHAT_TURN_URLS"
	envTurnUsername   = "WEBCHAT_TURN_USERNAME"
	envTurnCredential = "WEBCHAT_TURN_CREDENTIAL"
)

// iceSources are the raw ICE server settings, in precedence order: a JSON list
// shaped like the browser's RTCConfiguration.iceServers, then comma-separated
// STUN and TURN URL lists, then DefaultSTUNURL so a Go participant gathers the
// same candidates as the browser client in the room.
type iceSources struct {
	json           string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

// resolve returns the ICE servers for every peer connection. An explicit
// empty JSON list ("[]") means host candidates only.
func (s iceSources) resolve() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.json); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitList(s.stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}
	if urls := splitList(s.turnURLs); len(urls) > 0 {
		server := webrtc.ICEServer{
			URLs:       urls,
			Username:   strings.TrimSpace(s.turnUsername),
			Credential: strings.TrimSpace(s.turnCredential),
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s (with %s/%s): %w", envTurnURLs, envTurnUsername, envTurnCredential, err)
		}
		servers = append(servers, server)
	}

	if len(servers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}, nil
	}
	return servers, nil
}

// urlList accepts "urls" as a single string or a list, as browsers do.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses the iceServers list the browser client would be
// configured with and checks every URL the way pion will parse it.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username,omitempty"`
		Credential string  `json:"credential,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		server := webrtc.ICEServer{
			URLs:     splitList(strings.Join(entry.URLs, ",")),
			Username: strings.TrimSpace(entry.Username),
		}
		if entry.Credential != "" {
			server.Credential = entry.Credential
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// checkICEServer runs each URL through pion's STUN URI parser so a typo fails
// at startup instead of when the first peer gathers candidates.
func checkICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, raw := range server.URLs {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("%q: %w", raw, err)
		}
		if uri.Scheme != stun.SchemeTypeTURN && uri.Scheme != stun.SchemeTypeTURNS {
			continue
		}
		cred, _ := server.Credential.(string)
		if server.Username == "" || strings.TrimSpace(cred) == "" {
			return fmt.Errorf("%q: turn servers need a username and credential", raw)
		}
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
