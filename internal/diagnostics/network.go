package diagnostics

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	psnet "github.com/shirou/gopsutil/v3/net"
	"golang.org/x/sync/errgroup"
)

const (
	// Ping fails at or above this packet loss.
	maxPacketLoss   = 10.0
	portScanWorkers = 10
	defaultPingPort = 53
)

// Dialer opens connections for the ping and port tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver performs the lookups of the DNS test.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type NetworkConfig struct {
	TargetHost string
	Ports      []int
	PingPort   int
	PingCount  int
	Timeout    time.Duration
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		TargetHost: "8.8.8.8",
		Ports:      DefaultPorts,
		PingPort:   defaultPingPort,
		PingCount:  4,
		Timeout:    2 * time.Second,
	}
}

// Network runs the network domain tests.
type Network struct {
	cfg        NetworkConfig
	dialer     Dialer
	resolver   Resolver
	interfaces func(ctx context.Context) ([]psnet.InterfaceStat, error)
	counters   func(ctx context.Context) ([]psnet.IOCountersStat, error)
}

type NetworkOption func(*Network)

func WithDialer(d Dialer) NetworkOption {
	return func(n *Network) {
		n.dialer = d
	}
}

func WithResolver(r Resolver) NetworkOption {
	return func(n *Network) {
		n.resolver = r
	}
}

// WithInterfaceSource replaces the gopsutil interface and counter readers.
func WithInterfaceSource(
	interfaces func(ctx context.Context) ([]psnet.InterfaceStat, error),
	counters func(ctx context.Context) ([]psnet.IOCountersStat, error),
) NetworkOption {
	return func(n *Network) {
		n.interfaces = interfaces
		n.counters = counters
	}
}

func NewNetwork(cfg NetworkConfig, opts ...NetworkOption) *Network {
	n := &Network{
		cfg:      cfg,
		dialer:   &net.Dialer{},
		resolver: net.DefaultResolver,
		interfaces: func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return psnet.InterfacesWithContext(ctx)
		},
		counters: func(ctx context.Context) ([]psnet.IOCountersStat, error) {
			return psnet.IOCountersWithContext(ctx, true)
		},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Probes exposes every network test as a catalog probe.
func (n *Network) Probes() []Probe {
	return []Probe{
		newProbe(DomainNetwork, TestPing, 0, func(ctx context.Context, p sensor.Params) (any, error) {
			return partial(n.Ping(ctx, p))
		}),
		newProbe(DomainNetwork, TestDNS, 0, func(ctx context.Context, p sensor.Params) (any, error) {
			return partial(n.DNS(ctx, p))
		}),
		newProbe(DomainNetwork, TestPorts, 0, func(ctx context.Context, p sensor.Params) (any, error) {
			return partial(n.Ports(ctx, p))
		}),
		newProbe(DomainNetwork, TestInterfaces, 0, func(ctx context.Context, p sensor.Params) (any, error) {
			return partial(n.Interfaces(ctx, p))
		}),
	}
}

type PingResult struct {
	TargetHost        string  `json:"target_host" yaml:"target_host"`
	Port              int     `json:"port" yaml:"port"`
	PacketsSent       int     `json:"packets_sent" yaml:"packets_sent"`
	PacketsReceived   int     `json:"packets_received" yaml:"packets_received"`
	PacketLossPercent float64 `json:"packet_loss_percent" yaml:"packet_loss_percent"`
	MinLatencyMs      float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	AvgLatencyMs      float64 `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	MaxLatencyMs      float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	JitterMs          float64 `json:"jitter_ms" yaml:"jitter_ms"`
}

// Ping measures TCP connect latency to the target. ICMP needs privileges a
// service rarely has, so connection setup time stands in for round trip.
func (n *Network) Ping(ctx context.Context, params sensor.Params) (*PingResult, error) {
	host := stringParam(params, "target_host", n.cfg.TargetHost)
	port := intParam(params, "port", n.cfg.PingPort)
	count := intParam(params, "count", n.cfg.PingCount)
	timeout := durationParam(params, "timeout", n.cfg.Timeout)
	if count < 1 {
		count = 1
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	rtts := make([]float64, 0, count)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if rtt, ok := n.connect(ctx, address, timeout); ok {
			rtts = append(rtts, float64(rtt)/float64(time.Millisecond))
		}
	}

	res := &PingResult{
		TargetHost:        host,
		Port:              port,
		PacketsSent:       count,
		PacketsReceived:   len(rtts),
		PacketLossPercent: round1(float64(count-len(rtts)) / float64(count) * 100),
	}

	if len(rtts) > 0 {
		minRTT, maxRTT, sum := rtts[0], rtts[0], 0.0
		for _, rtt := range rtts {
			minRTT = math.Min(minRTT, rtt)
			maxRTT = math.Max(maxRTT, rtt)
			sum += rtt
		}
		avg := sum / float64(len(rtts))

		var variance float64
		for _, rtt := range rtts {
			variance += (rtt - avg) * (rtt - avg)
		}

		res.MinLatencyMs = round1(minRTT)
		res.AvgLatencyMs = round1(avg)
		res.MaxLatencyMs = round1(maxRTT)
		res.JitterMs = round1(math.Sqrt(variance / float64(len(rtts))))
	}

	if res.PacketLossPercent >= maxPacketLoss {
		return res, errors.New().WithMessage(ErrProbeFailed,
			fmt.Sprintf("%.1f%% packet loss to %s", res.PacketLossPercent, address))
	}

	return res, nil
}

func (n *Network) connect(ctx context.Context, address string, timeout time.Duration) (time.Duration, bool) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := n.dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return 0, false
	}
	rtt := time.Since(start)
	conn.Close()

	return rtt, true
}

type DNSResult struct {
	TargetHost       string   `json:"target_host" yaml:"target_host"`
	ResolvedIPs      []string `json:"resolved_ips" yaml:"resolved_ips"`
	ResolutionTimeMs float64  `json:"resolution_time_ms" yaml:"resolution_time_ms"`
	ReverseHostname  string   `json:"reverse_hostname,omitempty" yaml:"reverse_hostname,omitempty"`
	ReverseTimeMs    float64  `json:"reverse_time_ms,omitempty" yaml:"reverse_time_ms,omitempty"`
	ReverseError     string   `json:"reverse_error,omitempty" yaml:"reverse_error,omitempty"`
}

// DNS resolves the target and reverse-resolves the first address. Only the
// forward lookup decides pass or fail.
func (n *Network) DNS(ctx context.Context, params sensor.Params) (*DNSResult, error) {
	host := stringParam(params, "target_host", n.cfg.TargetHost)
	res := &DNSResult{TargetHost: host}

	start := time.Now()
	addrs, err := n.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, errors.New().WithMessage(ErrProbeFailed, fmt.Sprintf("DNS resolution of %s failed: %v", host, err))
	}
	res.ResolutionTimeMs = round1(float64(time.Since(start)) / float64(time.Millisecond))
	res.ResolvedIPs = addrs

	if len(addrs) > 0 {
		start = time.Now()
		names, err := n.resolver.LookupAddr(ctx, addrs[0])
		switch {
		case err != nil:
			res.ReverseError = err.Error()
		case len(names) > 0:
			res.ReverseHostname = strings.TrimSuffix(names[0], ".")
			res.ReverseTimeMs = round1(float64(time.Since(start)) / float64(time.Millisecond))
		}
	}

	return res, nil
}

type PortScanResult struct {
	TargetHost  string `json:"target_host" yaml:"target_host"`
	OpenPorts   []int  `json:"open_ports" yaml:"open_ports"`
	ClosedPorts []int  `json:"closed_ports" yaml:"closed_ports"`
	Scanned     int    `json:"total_ports_scanned" yaml:"total_ports_scanned"`
}

// Ports checks which of the given ports accept TCP connections. Closed
// ports are reported, not treated as a failure.
func (n *Network) Ports(ctx context.Context, params sensor.Params) (*PortScanResult, error) {
	host := stringParam(params, "target_host", n.cfg.TargetHost)
	ports := intsParam(params, "ports", n.cfg.Ports)
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	timeout := durationParam(params, "timeout", n.cfg.Timeout)

	open := make([]bool, len(ports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(portScanWorkers)

	for i, port := range ports {
		i, port := i, port
		g.Go(func() error {
			_, open[i] = n.connect(gctx, net.JoinHostPort(host, strconv.Itoa(port)), timeout)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &PortScanResult{
		TargetHost:  host,
		OpenPorts:   []int{},
		ClosedPorts: []int{},
		Scanned:     len(ports),
	}
	for i, port := range ports {
		if open[i] {
			res.OpenPorts = append(res.OpenPorts, port)
		} else {
			res.ClosedPorts = append(res.ClosedPorts, port)
		}
	}
	sort.Ints(res.OpenPorts)
	sort.Ints(res.ClosedPorts)

	return res, nil
}

type InterfaceInfo struct {
	Name       string   `json:"name" yaml:"name"`
	MTU        int      `json:"mtu" yaml:"mtu"`
	Flags      []string `json:"flags,omitempty" yaml:"flags,omitempty"`
	Addrs      []string `json:"addrs,omitempty" yaml:"addrs,omitempty"`
	BytesSent  uint64   `json:"bytes_sent" yaml:"bytes_sent"`
	BytesRecv  uint64   `json:"bytes_recv" yaml:"bytes_recv"`
	Errors     uint64   `json:"errors" yaml:"errors"`
	Drops      uint64   `json:"drops" yaml:"drops"`
	ConnType   string   `json:"connection_type" yaml:"connection_type"`
	IsLoopback bool     `json:"is_loopback" yaml:"is_loopback"`
	IsUp       bool     `json:"is_up" yaml:"is_up"`
}

type InterfaceReport struct {
	Primary        string          `json:"primary_interface" yaml:"primary_interface"`
	ConnectionType string          `json:"connection_type" yaml:"connection_type"`
	Interfaces     []InterfaceInfo `json:"interfaces" yaml:"interfaces"`
}

// Interfaces lists network interfaces with their counters. It fails when no
// non-loopback interface is up with an address.
func (n *Network) Interfaces(ctx context.Context, _ sensor.Params) (*InterfaceReport, error) {
	errFactory := errors.New()

	stats, err := n.interfaces(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrProbeSource, err)
	}

	counters := make(map[string]psnet.IOCountersStat)
	if n.counters != nil {
		if list, err := n.counters(ctx); err == nil {
			for _, c := range list {
				counters[c.Name] = c
			}
		}
	}

	rep := &InterfaceReport{ConnectionType: "Unknown", Interfaces: make([]InterfaceInfo, 0, len(stats))}

	for _, s := range stats {
		info := InterfaceInfo{
			Name:     s.Name,
			MTU:      s.MTU,
			Flags:    s.Flags,
			ConnType: ConnectionType(s.Name),
		}
		for _, flag := range s.Flags {
			switch flag {
			case "up":
				info.IsUp = true
			case "loopback":
				info.IsLoopback = true
			}
		}
		for _, a := range s.Addrs {
			info.Addrs = append(info.Addrs, a.Addr)
		}
		if c, ok := counters[s.Name]; ok {
			info.BytesSent = c.BytesSent
			info.BytesRecv = c.BytesRecv
			info.Errors = c.Errin + c.Errout
			info.Drops = c.Dropin + c.Dropout
		}

		if rep.Primary == "" && info.IsUp && !info.IsLoopback && len(info.Addrs) > 0 {
			rep.Primary = info.Name
			rep.ConnectionType = info.ConnType
		}

		rep.Interfaces = append(rep.Interfaces, info)
	}

	if rep.Primary == "" {
		return rep, errFactory.WithMessage(ErrProbeFailed, "no active network interface")
	}

	return rep, nil
}

// ConnectionType guesses the link type from an interface name.
func ConnectionType(name string) string {
	switch {
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "ppp"):
		return "4G_LTE"
	case strings.HasPrefix(name, "wlan"), strings.HasPrefix(name, "wifi"), strings.HasPrefix(name, "wlp"):
		return "WiFi"
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "enp"), strings.HasPrefix(name, "eno"):
		return "Ethernet"
	case strings.HasPrefix(name, "docker"), strings.HasPrefix(name, "br-"), strings.HasPrefix(name, "veth"):
		return "Virtual"
	case name == "lo":
		return "Loopback"
	}

	return "Unknown"
}
