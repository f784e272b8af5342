package alerting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// ResourceThresholds: статическая таблица порогов в процентах.
// Нулевой порог отключает соответствующую проверку.
type ResourceThresholds struct {
	CPUWarning     float64
	CPUCritical    float64
	MemoryWarning  float64
	MemoryCritical float64
	DiskWarning    float64
	DiskCritical   float64
	SwapWarning    float64
	SwapCritical   float64
}

func DefaultResourceThresholds() ResourceThresholds {
	return ResourceThresholds{
		CPUWarning:     80,
		CPUCritical:    95,
		MemoryWarning:  85,
		MemoryCritical: 95,
		DiskWarning:    85,
		DiskCritical:   95,
		SwapWarning:    50,
		SwapCritical:   80,
	}
}

// Checks строит проверки для снимка. Warning и critical одной метрики —
// разные alert-id, поэтому живут и снимаются независимо.
func (t ResourceThresholds) Checks(s domain.MetricsSnapshot) []Check {
	var checks []Check
	add := func(metric, label string, value, warning, critical float64) {
		if warning > 0 {
			checks = append(checks, Check{
				ID:        metric + "_warning",
				Value:     value,
				Threshold: warning,
				Severity:  domain.SeverityHigh,
				Message:   fmt.Sprintf("High %s: %.1f%%", label, value),
			})
		}
		if critical > 0 {
			checks = append(checks, Check{
				ID:        metric + "_critical",
				Value:     value,
				Threshold: critical,
				Severity:  domain.SeverityCritical,
				Message:   fmt.Sprintf("Critical %s: %.1f%%", label, value),
			})
		}
	}

	add("cpu", "CPU usage", s.CPUPercent, t.CPUWarning, t.CPUCritical)
	add("memory", "memory usage", s.MemoryPercent, t.MemoryWarning, t.MemoryCritical)
	add("swap", "swap usage", s.SwapPercent, t.SwapWarning, t.SwapCritical)

	paths := make([]string, 0, len(s.DiskUsage))
	for p := range s.DiskUsage {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		v := s.DiskUsage[p]
		if t.DiskWarning > 0 {
			checks = append(checks, Check{
				ID:        diskWarningPrefix + p,
				Value:     v,
				Threshold: t.DiskWarning,
				Severity:  domain.SeverityHigh,
				Message:   fmt.Sprintf("High disk usage on %s: %.1f%%", p, v),
			})
		}
		if t.DiskCritical > 0 {
			checks = append(checks, Check{
				ID:        diskCriticalPrefix + p,
				Value:     v,
				Threshold: t.DiskCritical,
				Severity:  domain.SeverityCritical,
				Message:   fmt.Sprintf("Critical disk usage on %s: %.1f%%", p, v),
			})
		}
	}
	return checks
}

const (
	diskWarningPrefix  = "disk_warning:"
	diskCriticalPrefix = "disk_critical:"
)

// diskPath достает путь из id дисковой тревоги.
func diskPath(id string) (string, bool) {
	if p, ok := strings.CutPrefix(id, diskWarningPrefix); ok {
		return p, true
	}
	return strings.CutPrefix(id, diskCriticalPrefix)
}
