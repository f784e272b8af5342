package domain

import "time"

// NetworkIO: накопительные счетчики сетевых интерфейсов на момент снимка.
type NetworkIO struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// LoadAverage: средняя загрузка за 1, 5 и 15 минут.
type LoadAverage struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// MetricsSnapshot: одно показание хоста. Создается раз за тик и больше не меняется.
type MetricsSnapshot struct {
	Timestamp       time.Time          `json:"timestamp"`
	CPUPercent      float64            `json:"cpu_percent"`
	CPUPerCore      []float64          `json:"cpu_per_core"`
	MemoryPercent   float64            `json:"memory_percent"`
	MemoryTotal     uint64             `json:"memory_total"`
	MemoryUsed      uint64             `json:"memory_used"`
	MemoryAvailable uint64             `json:"memory_available"`
	SwapPercent     float64            `json:"swap_percent"`
	DiskUsage       map[string]float64 `json:"disk_usage"`
	NetworkIO       NetworkIO          `json:"network_io"`
	ProcessCount    int                `json:"process_count"`
	LoadAverage     LoadAverage        `json:"load_average"`
}

// Clone возвращает копию без общих срезов и мап.
func (s MetricsSnapshot) Clone() MetricsSnapshot {
	out := s
	if s.CPUPerCore != nil {
		out.CPUPerCore = append([]float64(nil), s.CPUPerCore...)
	}
	if s.DiskUsage != nil {
		out.DiskUsage = make(map[string]float64, len(s.DiskUsage))
		for k, v := range s.DiskUsage {
			out.DiskUsage[k] = v
		}
	}
	return out
}
