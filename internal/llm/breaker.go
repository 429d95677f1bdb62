package llm

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/state"
)

// CircuitState is the observable state of one vendor's circuit.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Package-level metrics (registered once)
var (
	breakerMetricsOnce  sync.Once
	breakerStateGauge   *prometheus.GaugeVec
	breakerFailuresTots *prometheus.CounterVec
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		breakerStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sportsync_circuit_breaker_state",
				Help: "Current state of vendor circuit breakers (0=closed, 1=half_open, 2=open)",
			},
			[]string{"vendor"},
		)
		breakerFailuresTots = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsync_circuit_breaker_failures_total",
				Help: "Total vendor failures recorded by the circuit breaker",
			},
			[]string{"vendor"},
		)
	})
}

// BreakerConfig configures the per-vendor circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to open the circuit
	Cooldown         time.Duration // how long to stay open before the probe
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

type circuit struct {
	failures      int
	lastFailure   time.Time
	probeInFlight bool
	probeStart    time.Time
}

// Breaker isolates failing vendors. State transitions happen only through
// IsOpen, RecordFailure, and RecordSuccess. Safe for concurrent use; every
// in-flight request shares this instance.
type Breaker struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	log   *logrus.Logger
	store state.Store
	now   func() time.Time

	circuits map[Vendor]*circuit
}

// NewBreaker creates a breaker. store receives best-effort write-through of
// failure counts for cross-instance visibility; pass state.Noop() otherwise.
func NewBreaker(cfg BreakerConfig, store state.Store, log *logrus.Logger) *Breaker {
	initBreakerMetrics()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Breaker{
		cfg:      cfg,
		log:      log,
		store:    store,
		now:      time.Now,
		circuits: make(map[Vendor]*circuit),
	}
}

func (b *Breaker) circuitFor(vendor Vendor) *circuit {
	c, ok := b.circuits[vendor]
	if !ok {
		c = &circuit{}
		b.circuits[vendor] = c
	}
	return c
}

// IsOpen reports whether calls to vendor should be skipped. Once the
// cooldown has elapsed it admits exactly one probe call; further callers
// see the circuit as open until that probe resolves.
func (b *Breaker) IsOpen(vendor Vendor) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(vendor)
	if c.failures < b.cfg.FailureThreshold {
		breakerStateGauge.WithLabelValues(string(vendor)).Set(0)
		return false
	}
	now := b.now()
	if now.Sub(c.lastFailure) < b.cfg.Cooldown {
		breakerStateGauge.WithLabelValues(string(vendor)).Set(2)
		return true
	}
	// A probe that never reported back must not hold the slot forever.
	if c.probeInFlight && now.Sub(c.probeStart) >= b.cfg.Cooldown {
		c.probeInFlight = false
	}
	if !c.probeInFlight {
		c.probeInFlight = true
		c.probeStart = now
		breakerStateGauge.WithLabelValues(string(vendor)).Set(1)
		b.log.WithField("vendor", vendor).Info("circuit half-open, admitting probe")
		return false
	}
	breakerStateGauge.WithLabelValues(string(vendor)).Set(2)
	return true
}

// ReleaseProbe hands an admitted probe slot back without a verdict. Called
// when the probe call ended in an outcome that says nothing about vendor
// health, such as a safety refusal or caller cancellation.
func (b *Breaker) ReleaseProbe(vendor Vendor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuitFor(vendor).probeInFlight = false
}

// RecordFailure counts a failure against vendor and re-stamps the cooldown.
// Any outstanding probe is considered failed.
func (b *Breaker) RecordFailure(ctx context.Context, vendor Vendor) {
	b.mu.Lock()
	c := b.circuitFor(vendor)
	c.failures++
	c.lastFailure = b.now()
	c.probeInFlight = false
	failures := c.failures
	b.mu.Unlock()

	breakerFailuresTots.WithLabelValues(string(vendor)).Inc()
	if failures == b.cfg.FailureThreshold {
		b.log.WithFields(logrus.Fields{
			"vendor":   vendor,
			"failures": failures,
		}).Warn("circuit opened")
	}

	if err := b.store.SetFailures(context.WithoutCancel(ctx), string(vendor), failures); err != nil {
		b.log.WithError(err).Debug("shared breaker state write failed")
	}
}

// RecordSuccess closes the circuit for vendor.
func (b *Breaker) RecordSuccess(ctx context.Context, vendor Vendor) {
	b.mu.Lock()
	c := b.circuitFor(vendor)
	c.failures = 0
	c.probeInFlight = false
	b.mu.Unlock()

	breakerStateGauge.WithLabelValues(string(vendor)).Set(0)
	if err := b.store.SetFailures(context.WithoutCancel(ctx), string(vendor), 0); err != nil {
		b.log.WithError(err).Debug("shared breaker state write failed")
	}
}

// State returns the observable circuit state for vendor.
func (b *Breaker) State(vendor Vendor) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(vendor)
	switch {
	case c.failures < b.cfg.FailureThreshold:
		return CircuitClosed
	case b.now().Sub(c.lastFailure) >= b.cfg.Cooldown:
		return CircuitHalfOpen
	default:
		return CircuitOpen
	}
}

// Failures returns the consecutive failure count for vendor.
func (b *Breaker) Failures(vendor Vendor) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitFor(vendor).failures
}
