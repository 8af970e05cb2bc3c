package diagnostics

import (
	"fmt"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/sensor"
)

const (
	DomainNetwork = "network"
	DomainSystem  = "system"
	DomainSensors = "sensors"
)

// Network tests
const (
	TestPing       = "ping"
	TestDNS        = "dns"
	TestPorts      = "ports"
	TestInterfaces = "interfaces"
)

// System tests
const (
	TestResources   = "resources"
	TestDisk        = "disk"
	TestLoad        = "load"
	TestHost        = "host"
	TestTemperature = "temperature"
	TestHardware    = "hardware"
)

var (
	networkTests = []string{TestPing, TestDNS, TestPorts, TestInterfaces}
	systemTests  = []string{TestResources, TestDisk, TestLoad, TestHost, TestTemperature, TestHardware}
)

// DefaultPorts are probed when a port scan names none.
var DefaultPorts = []int{22, 80, 443, 1883, 8080, 8443}

type NetworkParams struct {
	Tests      []string      `json:"tests"`
	TargetHost string        `json:"target_host"`
	Ports      []int         `json:"ports,omitempty"`
	Count      int           `json:"count"`
	Timeout    time.Duration `json:"timeout"`
}

type SystemParams struct {
	Tests           []string `json:"tests"`
	CPUThreshold    float64  `json:"cpu_threshold"`
	MemoryThreshold float64  `json:"memory_threshold"`
	DiskThreshold   float64  `json:"disk_threshold"`
}

type SensorParams struct {
	// Names restricts the run to these sensors; empty means all registered.
	Names      []string      `json:"names,omitempty"`
	Operations []sensor.Kind `json:"operations"`
	Params     sensor.Params `json:"params,omitempty"`
}

// Params selects what a diagnostics run covers.
type Params struct {
	CorrelationID  string           `json:"correlation_id,omitempty"`
	IncludeNetwork bool             `json:"include_network"`
	IncludeSystem  bool             `json:"include_system"`
	IncludeSensors bool             `json:"include_sensors"`
	Network        NetworkParams    `json:"network"`
	System         SystemParams     `json:"system"`
	Sensors        SensorParams     `json:"sensors"`
	Policy         *executor.Policy `json:"policy,omitempty"`
}

func DefaultParams() Params {
	return Params{
		IncludeNetwork: true,
		IncludeSystem:  true,
		IncludeSensors: true,
		Network: NetworkParams{
			Tests:      []string{TestPing, TestDNS},
			TargetHost: "8.8.8.8",
			Count:      4,
			Timeout:    2 * time.Second,
		},
		System: SystemParams{
			Tests:           []string{TestResources, TestDisk, TestLoad, TestHost},
			CPUThreshold:    90,
			MemoryThreshold: 90,
			DiskThreshold:   95,
		},
		Sensors: SensorParams{
			Operations: []sensor.Kind{sensor.KindHealthCheck, sensor.KindCollect},
		},
	}
}

func (p Params) Validate() error {
	errFactory := errors.New()
	invalid := func(msg string) error {
		return errFactory.WithData(errors.ErrInvalidParams, msg)
	}

	if !p.IncludeNetwork && !p.IncludeSystem && !p.IncludeSensors {
		return invalid("no diagnostics domain selected")
	}

	if p.IncludeNetwork {
		if err := checkTests(p.Network.Tests, networkTests); err != nil {
			return err
		}
		if p.Network.TargetHost == "" {
			return invalid("network target host is empty")
		}
		if p.Network.Count < 0 || p.Network.Timeout < 0 {
			return invalid("network count and timeout must not be negative")
		}
		for _, port := range p.Network.Ports {
			if port < 1 || port > 65535 {
				return invalid(fmt.Sprintf("port %d out of range", port))
			}
		}
	}

	if p.IncludeSystem {
		if err := checkTests(p.System.Tests, systemTests); err != nil {
			return err
		}
		for _, v := range []float64{p.System.CPUThreshold, p.System.MemoryThreshold, p.System.DiskThreshold} {
			if v < 0 || v > 100 {
				return invalid("system thresholds are percentages between 0 and 100")
			}
		}
	}

	if p.IncludeSensors {
		for _, kind := range p.Sensors.Operations {
			if !kind.IsValid() {
				return invalid("unknown sensor operation " + string(kind))
			}
		}
		for _, name := range p.Sensors.Names {
			if IsReserved(name) {
				return invalid("sensor name " + name + " is reserved for built-in probes")
			}
		}
	}

	if p.Policy != nil {
		if err := p.Policy.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func checkTests(tests, known []string) error {
	for _, test := range tests {
		found := false
		for _, k := range known {
			if test == k {
				found = true
				break
			}
		}
		if !found {
			return errors.New().WithData(errors.ErrInvalidParams, struct {
				Test  string
				Known []string
			}{
				Test:  test,
				Known: known,
			})
		}
	}

	return nil
}
