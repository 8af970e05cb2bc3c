package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/pci"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// DiskUsage is the usage of one mounted partition.
type DiskUsage struct {
	Device      string  `json:"device" yaml:"device"`
	Mountpoint  string  `json:"mountpoint" yaml:"mountpoint"`
	Fstype      string  `json:"fstype" yaml:"fstype"`
	TotalGB     float64 `json:"total_gb" yaml:"total_gb"`
	UsedGB      float64 `json:"used_gb" yaml:"used_gb"`
	UsedPercent float64 `json:"used_percent" yaml:"used_percent"`
}

type MemoryUsage struct {
	TotalMB     float64 `json:"total_mb" yaml:"total_mb"`
	UsedMB      float64 `json:"used_mb" yaml:"used_mb"`
	AvailableMB float64 `json:"available_mb" yaml:"available_mb"`
	UsedPercent float64 `json:"used_percent" yaml:"used_percent"`
}

type LoadAverage struct {
	Load1  float64 `json:"load_1" yaml:"load_1"`
	Load5  float64 `json:"load_5" yaml:"load_5"`
	Load15 float64 `json:"load_15" yaml:"load_15"`
	Cores  int     `json:"cores" yaml:"cores"`
}

type HostInfo struct {
	Hostname        string    `json:"hostname" yaml:"hostname"`
	OS              string    `json:"os" yaml:"os"`
	Platform        string    `json:"platform" yaml:"platform"`
	PlatformVersion string    `json:"platform_version" yaml:"platform_version"`
	KernelVersion   string    `json:"kernel_version" yaml:"kernel_version"`
	Arch            string    `json:"arch" yaml:"arch"`
	Uptime          uint64    `json:"uptime_seconds" yaml:"uptime_seconds"`
	BootTime        time.Time `json:"boot_time" yaml:"boot_time"`
}

type Temperature struct {
	Sensor   string  `json:"sensor" yaml:"sensor"`
	Celsius  float64 `json:"celsius" yaml:"celsius"`
	High     float64 `json:"high,omitempty" yaml:"high,omitempty"`
	Critical float64 `json:"critical,omitempty" yaml:"critical,omitempty"`
}

type GPUCard struct {
	Index   int    `json:"index" yaml:"index"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

type BlockDevice struct {
	Name      string  `json:"name" yaml:"name"`
	Model     string  `json:"model,omitempty" yaml:"model,omitempty"`
	DriveType string  `json:"drive_type" yaml:"drive_type"`
	SizeGB    float64 `json:"size_gb" yaml:"size_gb"`
}

type Hardware struct {
	GPUs        []GPUCard     `json:"gpus" yaml:"gpus"`
	Disks       []BlockDevice `json:"disks" yaml:"disks"`
	TotalDiskGB float64       `json:"total_disk_gb" yaml:"total_disk_gb"`
}

// SystemSource reads host state for the system tests.
type SystemSource interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (MemoryUsage, error)
	Disks(ctx context.Context) ([]DiskUsage, error)
	Load(ctx context.Context) (LoadAverage, error)
	Host(ctx context.Context) (HostInfo, error)
	Temperatures(ctx context.Context) ([]Temperature, error)
	Hardware(ctx context.Context) (Hardware, error)
}

const (
	mb = 1024 * 1024
	gb = 1024 * 1024 * 1024
)

// HostSource is the SystemSource backed by gopsutil and ghw.
type HostSource struct {
	// CPUSample is how long CPU usage is measured over.
	CPUSample time.Duration
}

func NewHostSource() *HostSource {
	return &HostSource{CPUSample: 500 * time.Millisecond}
}

func (s *HostSource) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, s.CPUSample, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu usage reported")
	}

	return pct[0], nil
}

func (*HostSource) Memory(ctx context.Context) (MemoryUsage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryUsage{}, err
	}

	return MemoryUsage{
		TotalMB:     float64(vm.Total) / mb,
		UsedMB:      float64(vm.Used) / mb,
		AvailableMB: float64(vm.Available) / mb,
		UsedPercent: vm.UsedPercent,
	}, nil
}

func (*HostSource) Disks(ctx context.Context) ([]DiskUsage, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]DiskUsage, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		out = append(out, DiskUsage{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			Fstype:      p.Fstype,
			TotalGB:     round1(float64(usage.Total) / gb),
			UsedGB:      round1(float64(usage.Used) / gb),
			UsedPercent: round1(usage.UsedPercent),
		})
	}

	return out, nil
}

func (*HostSource) Load(ctx context.Context) (LoadAverage, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return LoadAverage{}, err
	}

	out := LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.Cores = cores
	}

	return out, nil
}

func (*HostSource) Host(ctx context.Context) (HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, err
	}

	return HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
		Uptime:          info.Uptime,
		BootTime:        time.Unix(int64(info.BootTime), 0).UTC(),
	}, nil
}

func (*HostSource) Temperatures(ctx context.Context) ([]Temperature, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	// gopsutil returns partial readings alongside a warning error
	if err != nil && len(temps) == 0 {
		return nil, err
	}

	out := make([]Temperature, 0, len(temps))
	for _, t := range temps {
		out = append(out, Temperature{
			Sensor:   t.SensorKey,
			Celsius:  t.Temperature,
			High:     t.High,
			Critical: t.Critical,
		})
	}

	return out, nil
}

func (*HostSource) Hardware(_ context.Context) (Hardware, error) {
	var hw Hardware

	gpus, err := ghw.GPU()
	if err == nil && gpus != nil {
		for _, card := range gpus.GraphicsCards {
			hw.GPUs = append(hw.GPUs, GPUCard{
				Index:   card.Index,
				Name:    cardName(card.Index, card.DeviceInfo),
				Address: card.Address,
			})
		}
	}

	blocks, blockErr := ghw.Block()
	if blockErr == nil && blocks != nil {
		for _, d := range blocks.Disks {
			hw.Disks = append(hw.Disks, BlockDevice{
				Name:      d.Name,
				Model:     d.Model,
				DriveType: d.DriveType.String(),
				SizeGB:    round1(float64(d.SizeBytes) / gb),
			})
			hw.TotalDiskGB += float64(d.SizeBytes) / gb
		}
		hw.TotalDiskGB = round1(hw.TotalDiskGB)
	}

	if err != nil && blockErr != nil {
		return hw, fmt.Errorf("gpu: %w; block: %w", err, blockErr)
	}

	return hw, nil
}

func cardName(index int, dev *pci.Device) string {
	name := ""
	if dev != nil {
		switch {
		case dev.Vendor != nil && dev.Product != nil:
			name = strings.TrimSpace(dev.Vendor.Name + " " + dev.Product.Name)
		case dev.Product != nil:
			name = strings.TrimSpace(dev.Product.Name)
		case dev.Vendor != nil:
			name = strings.TrimSpace(dev.Vendor.Name)
		}
	}
	if name == "" {
		name = fmt.Sprintf("GPU %d", index)
	}

	return name
}
