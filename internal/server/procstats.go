package server

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Quertz/joker/internal/logging"
)

// processStats describes this process for the health endpoint.
type processStats struct {
	PID           int32   `json:"pid"`
	RSSBytes      uint64  `json:"rss_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	NumThreads    int32   `json:"num_threads"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

func (s *Server) processStats() (processStats, bool) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("process stats unavailable", logging.KeyError, err)
		return processStats{}, false
	}

	stats := processStats{
		PID:           p.Pid,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if mem, err := p.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.NumThreads = threads
	}
	return stats, true
}

// requestLog returns the request-scoped logger set by the requestID middleware.
func requestLog(c *gin.Context) *slog.Logger {
	return logging.FromContext(c.Request.Context())
}
