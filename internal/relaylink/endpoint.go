package relaylink

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/roomcrypto"
)

// EndpointFor derives the relay websocket URL for a channel from the page (or
// relay base) URL: http becomes ws, https becomes wss, and the channel path is
// resolved against the directory of the page path. Query and fragment are
// dropped so the secret never reaches the relay.
//
//	https://chat.example/rooms/index.html#secret -> wss://chat.example/rooms/channel/<id>
func EndpointFor(pageURL string, id roomcrypto.ChannelID) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("relaylink: parse page url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relaylink: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relaylink: url %q has no host", pageURL)
	}
	if id == "" {
		return "", fmt.Errorf("relaylink: empty channel id")
	}

	dir := u.Path
	if i := strings.LastIndexByte(dir, '/'); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}
	u.Path = dir + "channel/" + string(id)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String(), nil
}
