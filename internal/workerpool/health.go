package workerpool

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// BackpressureLevel classifies queue utilization against the configured
// threshold, the "health signal...derived from queue utilization vs.
// backpressure-threshold" design note.
type BackpressureLevel int

const (
	LevelNone BackpressureLevel = iota
	LevelDegraded
	LevelCritical
)

func (l BackpressureLevel) String() string {
	switch l {
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// Health is a point-in-time snapshot an external health endpoint polls.
type Health struct {
	QueueUtilizationPercent float64
	QueueSize               int
	QueueCapacity           int
	ActiveWorkers           int64
	Level                   BackpressureLevel
	CPUPercent              float64
	MemoryPercent           float64
	SampledAt               time.Time
}

// ResourceSampler supplies CPU/memory utilization for the health snapshot.
// A real implementation is backed by gopsutil; tests substitute a fake.
type ResourceSampler interface {
	Sample(ctx context.Context) (cpuPercent, memPercent float64, err error)
}

// GopsutilSampler samples host-wide CPU and memory utilization.
type GopsutilSampler struct{}

func (GopsutilSampler) Sample(ctx context.Context) (float64, float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(percentages) > 0 {
		cpuPct = percentages[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cpuPct, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}

// NoopSampler reports zero utilization; used when resource sampling is
// disabled or unavailable.
type NoopSampler struct{}

func (NoopSampler) Sample(context.Context) (float64, float64, error) { return 0, 0, nil }

// Health computes a fresh health snapshot. critical-high watermark is the
// threshold beyond which queue utilization alone forces LevelCritical
// regardless of resource sampling, twenty points above the configured
// degraded threshold.
func (p *Pool) Health(ctx context.Context) Health {
	util := p.queue.UtilizationPercent()

	level := LevelNone
	switch {
	case util >= p.cfg.BackpressureThreshold+20:
		level = LevelCritical
	case util >= p.cfg.BackpressureThreshold:
		level = LevelDegraded
	}

	cpuPct, memPct, err := p.sampler.Sample(ctx)
	if err != nil {
		p.log.WithError(err).Debug("resource sampling failed")
	}

	h := Health{
		QueueUtilizationPercent: util,
		QueueSize:               p.queue.Size(),
		QueueCapacity:           p.queue.Capacity(),
		ActiveWorkers:           p.ActiveWorkers(),
		Level:                   level,
		CPUPercent:              cpuPct,
		MemoryPercent:           memPct,
		SampledAt:               time.Now(),
	}

	p.SetShedding(level == LevelCritical)
	return h
}
