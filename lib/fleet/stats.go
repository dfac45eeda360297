package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/docker/docker/api/types/container"
)

// DefaultStatsTTL is how long a stats sample is reused across refreshes.
const DefaultStatsTTL = 2 * time.Second

type statsEntry struct {
	at    time.Time
	stats Stats
}

// sample takes a one-shot stats reading from the engine.
func (m *manager) sample(ctx context.Context, id string) (Stats, error) {
	resp, err := m.engine.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", id, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, fmt.Errorf("decode stats %s: %w", id, err)
	}
	return statsFrom(&raw), nil
}

// cachedStats returns a sample no older than the stats TTL. Failures yield
// zero values and are not cached.
func (m *manager) cachedStats(ctx context.Context, id string) Stats {
	now := m.now()
	m.statsMu.Lock()
	entry, ok := m.stats[id]
	m.statsMu.Unlock()
	if ok && now.Sub(entry.at) <= m.statsTTL {
		return entry.stats
	}

	s, err := m.sample(ctx, id)
	if err != nil {
		m.logger.DebugContext(ctx, "stats unavailable", "id", id, "error", err)
		return Stats{}
	}

	m.statsMu.Lock()
	m.stats[id] = statsEntry{at: now, stats: s}
	m.statsMu.Unlock()
	return s
}

// forgetStats drops samples of containers that no longer exist.
func (m *manager) forgetStats(live map[string]bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for id := range m.stats {
		if !live[id] {
			delete(m.stats, id)
		}
	}
}

func statsFrom(raw *container.StatsResponse) Stats {
	var s Stats
	s.CPUPercent = cpuPercent(raw)

	usage := raw.MemoryStats.Usage
	if cache, ok := raw.MemoryStats.Stats["cache"]; ok {
		if cache >= usage {
			usage = 0
		} else {
			usage -= cache
		}
	}
	s.MemUsage = usage
	s.MemLimit = raw.MemoryStats.Limit
	if s.MemLimit > 0 {
		s.MemPercent = float64(usage) / float64(s.MemLimit) * 100
	}

	for _, n := range raw.Networks {
		s.NetRx += n.RxBytes
		s.NetTx += n.TxBytes
	}
	return s
}

// cpuPercent scales the container's share of system CPU time by the core count.
func cpuPercent(raw *container.StatsResponse) float64 {
	cur, pre := raw.CPUStats, raw.PreCPUStats
	if cur.CPUUsage.TotalUsage <= pre.CPUUsage.TotalUsage || cur.SystemUsage <= pre.SystemUsage {
		return 0
	}
	cpuDelta := float64(cur.CPUUsage.TotalUsage - pre.CPUUsage.TotalUsage)
	systemDelta := float64(cur.SystemUsage - pre.SystemUsage)
	cores := len(cur.CPUUsage.PercpuUsage)
	if cores == 0 {
		cores = 1
	}
	return cpuDelta / systemDelta * float64(cores) * 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
