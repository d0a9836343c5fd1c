package infrastructure

import (
	"runtime"
	"time"
)

// SystemStats is a point-in-time view of the process, reported by the
// health endpoint
type SystemStats struct {
	GoRoutines    int
	MemoryUsage   uint64
	MemorySystem  uint64
	GCCount       uint32
	LastGCPause   time.Duration
	CPUCount      int
	ProcessUptime time.Duration
	Timestamp     time.Time
}

// CollectSystemStats reads runtime statistics. startTime is the process start.
func CollectSystemStats(startTime time.Time) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemStats{
		GoRoutines:    runtime.NumGoroutine(),
		MemoryUsage:   memStats.Alloc,
		MemorySystem:  memStats.Sys,
		GCCount:       memStats.NumGC,
		LastGCPause:   time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		CPUCount:      runtime.NumCPU(),
		ProcessUptime: time.Since(startTime),
		Timestamp:     time.Now(),
	}
}

// FormatStats returns a JSON-friendly representation of system stats
func (stats *SystemStats) FormatStats() map[string]interface{} {
	return map[string]interface{}{
		"runtime": map[string]interface{}{
			"goroutines":       stats.GoRoutines,
			"memory_usage_mb":  stats.MemoryUsage / 1024 / 1024,
			"memory_system_mb": stats.MemorySystem / 1024 / 1024,
			"gc_count":         stats.GCCount,
			"last_gc_pause_ms": stats.LastGCPause.Milliseconds(),
		},
		"system": map[string]interface{}{
			"cpu_count":      stats.CPUCount,
			"uptime_seconds": int64(stats.ProcessUptime.Seconds()),
		},
		"timestamp": stats.Timestamp.Format(time.RFC3339),
	}
}
