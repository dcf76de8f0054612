// Package webrtcpeer builds the pion API shared by every peer connection in
// the mesh: network settings from config, default codecs and interceptors, and
// optional vnet networking and logger overrides.
package webrtcpeer

import (
	"fmt"
	"net"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webchat/internal/config"
)

type Option func(*apiOptions)

type apiOptions struct {
	net           *vnet.Net
	loggerFactory logging.LoggerFactory
}

// WithNet routes all ICE traffic through a virtual network.
func WithNet(n *vnet.Net) Option {
	return func(o *apiOptions) { o.net = n }
}

// WithLoggerFactory replaces pion's default stderr logger.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *apiOptions) { o.loggerFactory = f }
}

func NewAPI(cfg config.Config, opts ...Option) (*webrtc.API, error) {
	var o apiOptions
	for _, opt := range opts {
		opt(&o)
	}

	se := webrtc.SettingEngine{}
	if o.loggerFactory != nil {
		se.LoggerFactory = o.loggerFactory
	}
	if o.net != nil {
		se.SetNet(o.net)
	}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		candidateType, err := nat1To1CandidateType(cfg.WebRTCNAT1To1IPCandidateType)
		if err != nil {
			return err
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// SettingEngine doesn't expose a bind address; restrict candidate
	// gathering and socket binding via IPFilter instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}

func nat1To1CandidateType(t config.NAT1To1IPCandidateType) (webrtc.ICECandidateType, error) {
	switch t {
	case config.NAT1To1CandidateTypeHost, "":
		return webrtc.ICECandidateTypeHost, nil
	case config.NAT1To1CandidateTypeSrflx:
		return webrtc.ICECandidateTypeSrflx, nil
	default:
		return 0, fmt.Errorf("invalid NAT 1:1 IP candidate type %q", t)
	}
}
