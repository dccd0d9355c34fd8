package analytics

import (
	"sync"
	"time"
)

// LimiterConfig configures an adaptive token-bucket limiter for analytics
// pushes: it starts at InitialRPS and backs off toward MinRPS when observed
// push latency exceeds LatencyTargetMS, recovering toward MaxRPS when it is
// below half of LatencyTargetMS. A zero or negative field, AdaptationInterval
// included, takes its default.
type LimiterConfig struct {
	InitialRPS        float64
	MinRPS            float64
	MaxRPS            float64
	LatencyTargetMS   int
	AdaptationFactor  float64
	AdaptationInterval time.Duration
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.InitialRPS <= 0 {
		c.InitialRPS = 10
	}
	if c.MinRPS <= 0 {
		c.MinRPS = 1
	}
	if c.MaxRPS <= 0 {
		c.MaxRPS = 50
	}
	if c.LatencyTargetMS <= 0 {
		c.LatencyTargetMS = 500
	}
	if c.AdaptationFactor <= 0 {
		c.AdaptationFactor = 0.2
	}
	if c.AdaptationInterval <= 0 {
		c.AdaptationInterval = 5 * time.Second
	}
	return c
}

// Limiter is a token bucket whose refill rate adapts to observed latency.
type Limiter struct {
	config LimiterConfig

	mu             sync.Mutex
	rps            float64
	tokens         float64
	lastRefill     time.Time
	lastAdaptation time.Time
	recentLatency  time.Duration
}

// NewLimiter constructs a limiter seeded at cfg.InitialRPS.
func NewLimiter(cfg LimiterConfig) *Limiter {
	cfg = cfg.withDefaults()
	now := time.Now()
	return &Limiter{
		config:         cfg,
		rps:            cfg.InitialRPS,
		tokens:         cfg.InitialRPS,
		lastRefill:     now,
		lastAdaptation: now,
	}
}

// Allow reports whether a push may proceed right now, consuming one token
// if so. It never blocks — a caller denied a token should retry later or
// skip this cycle's push.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

func (l *Limiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now

	l.tokens += elapsed * l.rps
	if l.tokens > l.rps {
		l.tokens = l.rps
	}
}

// Observe records the latency of a completed push and, once per
// AdaptationInterval, adjusts rps toward the configured target.
func (l *Limiter) Observe(latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recentLatency = latency
	if time.Since(l.lastAdaptation) < l.config.AdaptationInterval {
		return
	}
	l.lastAdaptation = time.Now()

	targetMS := float64(l.config.LatencyTargetMS)
	observedMS := float64(l.recentLatency.Milliseconds())

	switch {
	case observedMS > targetMS:
		l.rps -= l.rps * l.config.AdaptationFactor
	case observedMS < targetMS/2:
		l.rps += l.rps * l.config.AdaptationFactor
	}

	if l.rps < l.config.MinRPS {
		l.rps = l.config.MinRPS
	}
	if l.rps > l.config.MaxRPS {
		l.rps = l.config.MaxRPS
	}
}

// CurrentRPS returns the limiter's current allowed rate, for diagnostics.
func (l *Limiter) CurrentRPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rps
}
