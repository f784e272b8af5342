// Package sampler снимает показания хоста: CPU, память, swap, диски, сеть,
// число процессов и load average.
package sampler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type MemoryStat struct {
	Percent   float64
	Total     uint64
	Used      uint64
	Available uint64
}

// Source: провайдер метрик ОС.
type Source interface {
	CPU(ctx context.Context) (total float64, perCore []float64, err error)
	Memory(ctx context.Context) (MemoryStat, error)
	SwapPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	Network(ctx context.Context) (domain.NetworkIO, error)
	ProcessCount(ctx context.Context) (int, error)
	LoadAverage(ctx context.Context) (domain.LoadAverage, error)
}

// HostSource читает метрики через gopsutil.
type HostSource struct {
	// CPUInterval: окно измерения загрузки CPU.
	CPUInterval time.Duration
}

func NewHostSource(cpuInterval time.Duration) *HostSource {
	if cpuInterval <= 0 {
		cpuInterval = 500 * time.Millisecond
	}
	return &HostSource{CPUInterval: cpuInterval}
}

func (h *HostSource) CPU(ctx context.Context) (float64, []float64, error) {
	perCore, err := cpu.PercentWithContext(ctx, h.CPUInterval, true)
	if err != nil {
		return 0, nil, err
	}
	if len(perCore) == 0 {
		return 0, nil, nil
	}
	var sum float64
	for _, v := range perCore {
		sum += v
	}
	return sum / float64(len(perCore)), perCore, nil
}

func (h *HostSource) Memory(ctx context.Context) (MemoryStat, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStat{}, err
	}
	return MemoryStat{Percent: vm.UsedPercent, Total: vm.Total, Used: vm.Used, Available: vm.Available}, nil
}

func (h *HostSource) SwapPercent(ctx context.Context) (float64, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return sw.UsedPercent, nil
}

func (h *HostSource) DiskPercent(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

func (h *HostSource) Network(ctx context.Context) (domain.NetworkIO, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return domain.NetworkIO{}, err
	}
	var out domain.NetworkIO
	// pernic=false возвращает одну агрегированную запись "all"
	for _, c := range counters {
		out.BytesSent += c.BytesSent
		out.BytesRecv += c.BytesRecv
		out.PacketsSent += c.PacketsSent
		out.PacketsRecv += c.PacketsRecv
	}
	return out, nil
}

func (h *HostSource) ProcessCount(ctx context.Context) (int, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return len(pids), nil
}

func (h *HostSource) LoadAverage(ctx context.Context) (domain.LoadAverage, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return domain.LoadAverage{}, err
	}
	return domain.LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}
