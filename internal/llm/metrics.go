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

// Package-level metrics (registered once)
var (
	collectorMetricsOnce sync.Once
	callsTotal           *prometheus.CounterVec
	costTotal            prometheus.Counter
)

func initCollectorMetrics() {
	collectorMetricsOnce.Do(func() {
		callsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsync_llm_calls_total",
				Help: "LLM call attempts by vendor and status",
			},
			[]string{"vendor", "status"},
		)
		costTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sportsync_llm_cost_usd_total",
				Help: "Estimated LLM spend in USD",
			},
		)
	})
}

// Entry records one attempted call, success or failure.
type Entry struct {
	Vendor    Vendor
	Model     string
	Task      TaskCategory
	Status    string // "success" or an ErrorKind
	Latency   time.Duration
	Cost      float64
	Timestamp time.Time
}

// VendorSummary aggregates one vendor's entries inside a window.
type VendorSummary struct {
	Requests   int           `json:"requests"`
	Failures   int           `json:"failures"`
	AvgLatency time.Duration `json:"avg_latency"`
	TotalCost  float64       `json:"total_cost"`
}

// CollectorConfig configures the metrics collector.
type CollectorConfig struct {
	Capacity        int     // ring buffer size
	HourlyBudgetUSD float64 // spend ceiling; 0 disables the check
}

// DefaultCollectorConfig returns the production defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Capacity:        512,
		HourlyBudgetUSD: 25,
	}
}

// Collector keeps a fixed-capacity ring of call outcomes and enforces the
// hourly spend ceiling. Shared by every in-flight request.
type Collector struct {
	mu      sync.Mutex
	cfg     CollectorConfig
	log     *logrus.Logger
	store   state.Store
	now     func() time.Time
	entries []Entry
	cursor  int
	size    int

	hourlyCost float64
	hourStart  time.Time
}

// NewCollector creates a collector. store receives best-effort cost
// increments for cross-instance budget visibility.
func NewCollector(cfg CollectorConfig, store state.Store, log *logrus.Logger) *Collector {
	initCollectorMetrics()
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCollectorConfig().Capacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Collector{
		cfg:     cfg,
		log:     log,
		store:   store,
		now:     time.Now,
		entries: make([]Entry, cfg.Capacity),
	}
	c.hourStart = c.now()
	return c
}

// resetHourLocked lazily restarts the hourly accumulator. Caller holds mu.
func (c *Collector) resetHourLocked() {
	if c.now().Sub(c.hourStart) > time.Hour {
		c.hourlyCost = 0
		c.hourStart = c.now()
	}
}

// Record appends an entry, overwriting the oldest once the ring is full,
// and adds its cost to the rolling hourly accumulator.
func (c *Collector) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}

	c.mu.Lock()
	c.entries[c.cursor] = e
	c.cursor = (c.cursor + 1) % len(c.entries)
	if c.size < len(c.entries) {
		c.size++
	}
	c.resetHourLocked()
	c.hourlyCost += e.Cost
	c.mu.Unlock()

	callsTotal.WithLabelValues(string(e.Vendor), e.Status).Inc()
	if e.Cost > 0 {
		costTotal.Add(e.Cost)
		if err := c.store.IncrHourlyCost(context.WithoutCancel(ctx), e.Cost); err != nil {
			c.log.WithError(err).Debug("shared cost state write failed")
		}
	}
}

// IsOverBudget reports whether accumulated hourly spend exceeds the ceiling.
// The accumulator resets lazily once the hour window has elapsed.
func (c *Collector) IsOverBudget() bool {
	if c.cfg.HourlyBudgetUSD <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetHourLocked()
	return c.hourlyCost >= c.cfg.HourlyBudgetUSD
}

// HourlyCost returns the current rolling hourly spend.
func (c *Collector) HourlyCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetHourLocked()
	return c.hourlyCost
}

// Summary aggregates per-vendor stats over the trailing window.
func (c *Collector) Summary(window time.Duration) map[Vendor]VendorSummary {
	cutoff := c.now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Vendor]VendorSummary)
	for i := 0; i < c.size; i++ {
		e := c.entries[i]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		s := out[e.Vendor]
		s.Requests++
		if e.Status != "success" {
			s.Failures++
		}
		// incremental mean keeps this a single pass
		s.AvgLatency += (e.Latency - s.AvgLatency) / time.Duration(s.Requests)
		s.TotalCost += e.Cost
		out[e.Vendor] = s
	}
	return out
}
