package core

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStatter is the part of *pgxpool.Pool the status page reads.
type PoolStatter interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

// SystemStatus is the aggregated status shown to operators.
type SystemStatus struct {
	Database struct {
		Reachable     bool  `json:"reachable"`
		TotalConns    int32 `json:"total_conns"`
		IdleConns     int32 `json:"idle_conns"`
		AcquiredConns int32 `json:"acquired_conns"`
		MaxConns      int32 `json:"max_conns"`
	} `json:"database"`
	Schema struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	} `json:"schema"`
	Accounts struct {
		Total int `json:"total"`
	} `json:"accounts"`
	Memory struct {
		UsedBytes  uint64 `json:"used_bytes"`
		TotalBytes uint64 `json:"total_bytes"`
	} `json:"memory"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// CollectSystemStatus gathers the current status. Every check is best-effort;
// a nil pool or store is skipped.
func CollectSystemStatus(ctx context.Context, pool PoolStatter, schema DBTX, accounts AttributeStore, startedAt time.Time) SystemStatus {
	var st SystemStatus

	if pool != nil {
		st.Database.Reachable = pool.Ping(ctx) == nil
		if stat := pool.Stat(); stat != nil {
			st.Database.TotalConns = stat.TotalConns()
			st.Database.IdleConns = stat.IdleConns()
			st.Database.AcquiredConns = stat.AcquiredConns()
			st.Database.MaxConns = stat.MaxConns()
		}
	}

	if schema != nil {
		if err := EnsureSchema(ctx, schema); err != nil {
			st.Schema.Error = err.Error()
		} else {
			st.Schema.OK = true
		}
	}

	if accounts != nil {
		if n, err := accounts.CountAccounts(ctx); err == nil {
			st.Accounts.Total = n
		}
	}

	// Memory (best-effort from /proc/meminfo)
	used, total := readMemInfo()
	st.Memory.UsedBytes = used
	st.Memory.TotalBytes = total

	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}

	return st
}

// readMemInfo returns used and total bytes using /proc/meminfo.
// If unavailable, returns zeros.
func readMemInfo() (used, total uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			memTotal = parseKiBLine(line)
		} else if strings.HasPrefix(line, "MemAvailable:") {
			memAvailable = parseKiBLine(line)
		}
	}
	if memTotal > 0 {
		total = memTotal
		if memAvailable <= memTotal {
			used = memTotal - memAvailable
		}
		// convert KiB -> bytes
		used *= 1024
		total *= 1024
	}
	return used, total
}

func parseKiBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
