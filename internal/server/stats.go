package server

import (
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// startStatsLoop periodically logs engine health: live sessions, lifetime
// counters and the server process's own CPU and memory footprint.
func (s *Server) startStatsLoop() {
	if s.cfg.StatsInterval <= 0 {
		return
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Error("Failed to inspect own process for stats", "error", err)
		proc = nil
	}

	go func() {
		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()

		for range ticker.C {
			args := []any{
				"sessions", s.sessions.Load(),
				"accepted_total", s.accepted.Load(),
				"terminated_total", s.terminated.Load(),
				"rejected_total", s.dropped.Load(),
			}
			if proc != nil {
				if cpu, err := proc.CPUPercent(); err == nil {
					args = append(args, "cpu_percent", cpu)
				}
				if mem, err := proc.MemoryInfo(); err == nil {
					args = append(args, "rss_bytes", mem.RSS)
				}
			}
			slog.Info("Engine stats", args...)
		}
	}()
}
