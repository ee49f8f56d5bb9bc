// Package discovery announces the bridge's WebSocket endpoint over mDNS.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v2"

	"github.com/r0bb10/phone-bridge/internal/config"
)

const (
	ServiceType = "_phone-bridge._tcp"
	Domain      = "local."
)

type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser keeps at most one mDNS registration alive.
type Advertiser struct {
	cfg      config.MDNSConfig
	register registerFunc

	mu     sync.Mutex
	server shutdowner
}

func NewAdvertiser(cfg config.MDNSConfig) *Advertiser {
	return &Advertiser{cfg: cfg, register: zeroconfRegister}
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *Advertiser) getInterfaces() []net.Interface {
	if a.cfg.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise registers the service on port, replacing any earlier registration.
func (a *Advertiser) Advertise(port int, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{"path=/", "version=" + version}
	server, err := a.register(a.cfg.Instance, ServiceType, Domain, port, txt, a.getInterfaces())
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the registration, if any.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// PortOf extracts the numeric port from a listen address such as ":8765".
func PortOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("parse listen address %q: invalid port", addr)
	}
	return port, nil
}
