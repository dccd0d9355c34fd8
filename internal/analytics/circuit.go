package analytics

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState is one of the three canonical circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 10
	}
	return c
}

// Breaker protects push-to-analytics from an external store that is down or
// slow: each failed push raises a failure count by one and each successful
// closed-state push lowers it by one; once the count reaches FailureThreshold
// it opens and rejects calls for Timeout, then allows a bounded number of
// half-open probes before closing again.
type Breaker struct {
	config BreakerConfig
	log    *logrus.Entry

	mu            sync.Mutex
	state         BreakerState
	failures      int
	halfOpenCalls int
	halfOpenOK    int
	nextRetry     time.Time
}

// NewBreaker constructs a breaker in the closed state.
func NewBreaker(cfg BreakerConfig, log *logrus.Logger) *Breaker {
	if log == nil {
		log = logrus.New()
	}
	return &Breaker{
		config: cfg.withDefaults(),
		log:    log.WithField("component", "analytics.circuit"),
		state:  BreakerClosed,
	}
}

// Execute runs fn under breaker protection. It never holds the lock while
// fn runs, so concurrent pushes are not serialized by the breaker itself.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn()

	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Now().Before(b.nextRetry) {
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setState(BreakerHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenOK = 0
	}

	if b.state == BreakerHalfOpen {
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return fmt.Errorf("circuit breaker %s is half-open (probe budget exhausted)", b.config.Name)
		}
		b.halfOpenCalls++
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.state == BreakerHalfOpen {
			b.trip()
			return
		}
		if b.state == BreakerClosed && b.failures >= b.config.FailureThreshold {
			b.trip()
		}
		return
	}

	if b.state == BreakerHalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= b.config.SuccessThreshold {
			b.setState(BreakerClosed)
			b.failures = 0
		}
		return
	}
	if b.failures > 0 {
		b.failures--
	}
}

func (b *Breaker) trip() {
	b.setState(BreakerOpen)
	b.nextRetry = time.Now().Add(b.config.Timeout)
	b.log.WithFields(logrus.Fields{"breaker": b.config.Name, "failures": b.failures}).Warn("circuit breaker opened")
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.log.WithFields(logrus.Fields{"breaker": b.config.Name, "from": b.state, "to": s}).Info("circuit breaker state change")
	b.state = s
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
