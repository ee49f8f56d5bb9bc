package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0bb10/phone-bridge/internal/config"
)

type fakeServer struct{ down bool }

func (s *fakeServer) Shutdown() { s.down = true }

type registration struct {
	instance, service, domain string
	port                      int
	txt                       []string
}

func TestAdvertiser(t *testing.T) {
	var regs []registration
	var servers []*fakeServer
	a := NewAdvertiser(config.MDNSConfig{Enabled: true, Instance: "AI Phone"})
	a.register = func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error) {
		assert.Nil(t, ifaces)
		regs = append(regs, registration{instance, service, domain, port, txt})
		s := &fakeServer{}
		servers = append(servers, s)
		return s, nil
	}

	require.NoError(t, a.Advertise(8765, "dev"))
	require.NoError(t, a.Advertise(9000, "dev"))
	assert.Equal(t, []registration{
		{"AI Phone", "_phone-bridge._tcp", "local.", 8765, []string{"path=/", "version=dev"}},
		{"AI Phone", "_phone-bridge._tcp", "local.", 9000, []string{"path=/", "version=dev"}},
	}, regs)
	assert.True(t, servers[0].down)
	assert.False(t, servers[1].down)

	a.Stop()
	a.Stop()
	assert.True(t, servers[1].down)
}

func TestAdvertiser_RegisterError(t *testing.T) {
	a := NewAdvertiser(config.MDNSConfig{Instance: "AI Phone"})
	a.register = func(string, string, string, int, []string, []net.Interface) (shutdowner, error) {
		return nil, errors.New("no multicast interface")
	}
	assert.Error(t, a.Advertise(8765, "dev"))
	a.Stop()
}

func TestAdvertiser_UnknownInterfaceMeansAll(t *testing.T) {
	a := NewAdvertiser(config.MDNSConfig{Interface: "does-not-exist0"})
	assert.Nil(t, a.getInterfaces())
}

func TestPortOf(t *testing.T) {
	p, err := PortOf(":8765")
	require.NoError(t, err)
	assert.Equal(t, 8765, p)

	p, err = PortOf("0.0.0.0:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, p)

	_, err = PortOf("8765")
	assert.Error(t, err)
	_, err = PortOf(":http")
	assert.Error(t, err)
}
