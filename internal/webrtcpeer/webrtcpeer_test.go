package webrtcpeer_test

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/config"
	"github.com/wilsonzlin/aero/proxy/webchat/internal/webrtcpeer"
)

func TestNewAPI_Defaults(t *testing.T) {
	api, err := webrtcpeer.NewAPI(config.Config{})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	_ = pc.Close()
}

func TestApplyNetworkSettings_RejectsUnknownCandidateType(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := webrtcpeer.ApplyNetworkSettings(&se, config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: "relay",
	})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestApplyNetworkSettings_OK(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := webrtcpeer.ApplyNetworkSettings(&se, config.Config{
		WebRTCUDPPortRange:           &config.UDPPortRange{Min: 40000, Max: 40100},
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: config.NAT1To1CandidateTypeSrflx,
		WebRTCUDPListenIP:            net.ParseIP("10.0.0.5"),
	})
	if err != nil {
		t.Fatalf("ApplyNetworkSettings: %v", err)
	}
}

func TestSlogLoggerFactory_ScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := webrtcpeer.SlogLoggerFactory{Logger: logger}.NewLogger("ice")
	l.Tracef("trace %d", 1)
	l.Debugf("checking pair %s", "a<->b")
	l.Warn("slow")

	out := buf.String()
	if strings.Contains(out, "trace 1") {
		t.Fatalf("trace output should be filtered at debug level: %q", out)
	}
	if !strings.Contains(out, "checking pair a<->b") || !strings.Contains(out, "scope=ice") {
		t.Fatalf("missing debug line with scope: %q", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("missing warn line: %q", out)
	}
}

func TestNewAPI_ConnectsOverVNet(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	quiet := webrtcpeer.WithLoggerFactory(webrtcpeer.SlogLoggerFactory{
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	apiA, err := webrtcpeer.NewAPI(config.Config{}, webrtcpeer.WithNet(netA), quiet)
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err := webrtcpeer.NewAPI(config.Config{}, webrtcpeer.WithNet(netB), quiet)
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}

	pcA, err := apiA.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc A: %v", err)
	}
	t.Cleanup(func() { _ = pcA.Close() })
	pcB, err := apiB.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc B: %v", err)
	}
	t.Cleanup(func() { _ = pcB.Close() })

	pcA.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = pcB.AddICECandidate(c.ToJSON())
	})
	pcB.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = pcA.AddICECandidate(c.ToJSON())
	})

	connected := make(chan struct{})
	var connectedOnce sync.Once
	pcA.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			connectedOnce.Do(func() { close(connected) })
		}
	})

	if _, err := pcA.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}

	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := pcA.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	if err := pcB.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := pcB.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := pcB.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	if err := pcA.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for connection, state=%s", pcA.ConnectionState())
	}
}
