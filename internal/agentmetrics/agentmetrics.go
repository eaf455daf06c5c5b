package agentmetrics

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/viyulabs/presence-server/internal/models"
)

const bytesPerGB = 1024 * 1024 * 1024

// Sample collects a best-effort cpu/ram/temperature snapshot formatted for
// dashboard display. A failed probe leaves its field empty; the heartbeat
// is sent regardless.
func Sample(ctx context.Context, logger zerolog.Logger) *models.Metrics {
	metrics := &models.Metrics{}

	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		logger.Debug().Err(err).Msg("CPU sample failed")
	} else if len(percentages) > 0 {
		metrics.CPU = fmt.Sprintf("%.0f%%", percentages[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		logger.Debug().Err(err).Msg("Memory sample failed")
	} else {
		metrics.RAM = fmt.Sprintf("%.1f GB", float64(vm.Used)/bytesPerGB)
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err != nil {
		logger.Debug().Err(err).Msg("Temperature sample failed")
	} else if len(temps) > 0 {
		metrics.Temp = fmt.Sprintf("%.0f°C", temps[0].Temperature)
	}

	return metrics
}
