package diagnostics

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"codeberg.org/mutker/sensorctl/internal/sensor"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (host string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)

	return addr.IP.String(), addr.Port
}

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	return port
}

func TestPingAgainstListener(t *testing.T) {
	host, port := listen(t)
	n := NewNetwork(NetworkConfig{TargetHost: host, PingPort: port, PingCount: 3, Timeout: time.Second})

	res, err := n.Ping(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.PacketsSent)
	assert.Equal(t, 3, res.PacketsReceived)
	assert.Zero(t, res.PacketLossPercent)
	assert.LessOrEqual(t, res.MinLatencyMs, res.MaxLatencyMs)
}

func TestPingFailsOnLoss(t *testing.T) {
	n := NewNetwork(NetworkConfig{TargetHost: "127.0.0.1", PingPort: closedPort(t), PingCount: 2, Timeout: time.Second})

	res, err := n.Ping(context.Background(), sensor.Params{"count": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100.0% packet loss")

	require.NotNil(t, res, "measurements survive the failure")
	assert.Equal(t, 2, res.PacketsSent)
	assert.Zero(t, res.PacketsReceived)
}

func TestPortScan(t *testing.T) {
	host, open := listen(t)
	closed := closedPort(t)
	n := NewNetwork(NetworkConfig{TargetHost: host, Timeout: time.Second})

	res, err := n.Ports(context.Background(), sensor.Params{"ports": []int{closed, open}})
	require.NoError(t, err)
	assert.Equal(t, []int{open}, res.OpenPorts)
	assert.Equal(t, []int{closed}, res.ClosedPorts)
	assert.Equal(t, 2, res.Scanned)
}

type fakeResolver struct {
	addrs []string
	err   error
}

func (f fakeResolver) LookupHost(context.Context, string) ([]string, error) {
	return f.addrs, f.err
}

func (f fakeResolver) LookupAddr(context.Context, string) ([]string, error) {
	return []string{"dns.google."}, nil
}

func TestDNSProbe(t *testing.T) {
	n := NewNetwork(DefaultNetworkConfig(), WithResolver(fakeResolver{addrs: []string{"8.8.8.8"}}))

	res, err := n.DNS(context.Background(), sensor.Params{"target_host": "dns.google"})
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8"}, res.ResolvedIPs)
	assert.Equal(t, "dns.google", res.ReverseHostname)

	n = NewNetwork(DefaultNetworkConfig(), WithResolver(fakeResolver{err: errors.New("no such host")}))
	_, err = n.DNS(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such host")
}

func TestInterfacesProbe(t *testing.T) {
	ifaces := []psnet.InterfaceStat{
		{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
		{Name: "wlan0", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.5/24"}}},
	}
	counters := []psnet.IOCountersStat{{Name: "wlan0", BytesSent: 100, BytesRecv: 200, Errin: 1}}

	n := NewNetwork(DefaultNetworkConfig(), WithInterfaceSource(
		func(context.Context) ([]psnet.InterfaceStat, error) { return ifaces, nil },
		func(context.Context) ([]psnet.IOCountersStat, error) { return counters, nil },
	))

	rep, err := n.Interfaces(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", rep.Primary)
	assert.Equal(t, "WiFi", rep.ConnectionType)
	require.Len(t, rep.Interfaces, 2)
	assert.EqualValues(t, 200, rep.Interfaces[1].BytesRecv)
	assert.EqualValues(t, 1, rep.Interfaces[1].Errors)

	n = NewNetwork(DefaultNetworkConfig(), WithInterfaceSource(
		func(context.Context) ([]psnet.InterfaceStat, error) { return ifaces[:1], nil }, nil,
	))
	_, err = n.Interfaces(context.Background(), nil)
	assert.Error(t, err)
}

func TestConnectionType(t *testing.T) {
	cases := map[string]string{
		"wwan0":   "4G_LTE",
		"ppp0":    "4G_LTE",
		"wlan0":   "WiFi",
		"eth0":    "Ethernet",
		"enp3s0":  "Ethernet",
		"docker0": "Virtual",
		"br-1234": "Virtual",
		"tun0":    "Unknown",
	}

	for name, want := range cases {
		assert.Equal(t, want, ConnectionType(name), name)
	}
}

func TestNetworkProbesAreSensors(t *testing.T) {
	host, port := listen(t)
	n := NewNetwork(NetworkConfig{TargetHost: host, PingPort: port, PingCount: 1, Timeout: time.Second})

	probes := n.Probes()
	require.Len(t, probes, 4)
	assert.Equal(t, "network.ping", probes[0].Name)

	status, err := probes[0].Sensor.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	data, err := probes[0].Sensor.CollectData(context.Background(), sensor.Params{"port": strconv.Itoa(port)})
	require.NoError(t, err)
	assert.IsType(t, &PingResult{}, data)
}
