package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/state"
)

func newTestCollector(capacity int, budget float64) (*Collector, *time.Time) {
	c := NewCollector(CollectorConfig{Capacity: capacity, HourlyBudgetUSD: budget}, state.Noop(), nil)
	clock := time.Date(2026, 4, 12, 19, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	c.hourStart = clock
	return c, &clock
}

func TestCollectorRingOverwritesOldest(t *testing.T) {
	c, _ := newTestCollector(4, 0)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		vendor := VendorGemini
		if i < 2 {
			vendor = VendorOpenAI
		}
		c.Record(ctx, Entry{Vendor: vendor, Status: "success"})
	}

	summary := c.Summary(time.Hour)
	assert.Equal(t, 4, summary[VendorGemini].Requests)
	assert.NotContains(t, summary, VendorOpenAI, "earliest entries were overwritten")
}

func TestCollectorBudgetCeiling(t *testing.T) {
	c, _ := newTestCollector(16, 25)
	ctx := context.Background()

	c.Record(ctx, Entry{Vendor: VendorGemini, Status: "success", Cost: 24.5})
	assert.False(t, c.IsOverBudget())

	c.Record(ctx, Entry{Vendor: VendorGemini, Status: "success", Cost: 0.5})
	assert.True(t, c.IsOverBudget())
	assert.InDelta(t, 25.0, c.HourlyCost(), 1e-9)
}

func TestCollectorBudgetDisabledAtZero(t *testing.T) {
	c, _ := newTestCollector(16, 0)
	c.Record(context.Background(), Entry{Vendor: VendorGemini, Status: "success", Cost: 1000})
	assert.False(t, c.IsOverBudget())
}

func TestCollectorLazyHourlyReset(t *testing.T) {
	c, clock := newTestCollector(16, 25)
	ctx := context.Background()

	c.Record(ctx, Entry{Vendor: VendorGemini, Status: "success", Cost: 30})
	assert.True(t, c.IsOverBudget())

	*clock = clock.Add(61 * time.Minute)
	assert.False(t, c.IsOverBudget(), "window elapsed, accumulator resets on read")
	assert.Zero(t, c.HourlyCost())

	c.Record(ctx, Entry{Vendor: VendorGemini, Status: "success", Cost: 1})
	assert.InDelta(t, 1.0, c.HourlyCost(), 1e-9)
}

func TestCollectorSummaryAggregates(t *testing.T) {
	c, clock := newTestCollector(16, 0)
	ctx := context.Background()

	c.Record(ctx, Entry{Vendor: VendorGemini, Status: "success", Latency: 100 * time.Millisecond, Cost: 0.01})
	c.Record(ctx, Entry{Vendor: VendorGemini, Status: "server", Latency: 300 * time.Millisecond})
	c.Record(ctx, Entry{Vendor: VendorOpenAI, Status: "success", Latency: 50 * time.Millisecond, Cost: 0.02})

	summary := c.Summary(time.Hour)

	g := summary[VendorGemini]
	assert.Equal(t, 2, g.Requests)
	assert.Equal(t, 1, g.Failures)
	assert.Equal(t, 200*time.Millisecond, g.AvgLatency)
	assert.InDelta(t, 0.01, g.TotalCost, 1e-9)

	o := summary[VendorOpenAI]
	assert.Equal(t, 1, o.Requests)
	assert.Zero(t, o.Failures)

	// nothing inside a zero-length trailing window
	*clock = clock.Add(time.Minute)
	assert.Empty(t, c.Summary(time.Second))
}

type costStore struct {
	state.Store
	total float64
}

func (s *costStore) IncrHourlyCost(ctx context.Context, delta float64) error {
	s.total += delta
	return nil
}

func TestCollectorWritesCostThroughToStore(t *testing.T) {
	s := &costStore{Store: state.Noop()}
	c := NewCollector(DefaultCollectorConfig(), s, nil)

	c.Record(context.Background(), Entry{Vendor: VendorGemini, Status: "success", Cost: 0.25})
	c.Record(context.Background(), Entry{Vendor: VendorGemini, Status: "server"}) // zero cost, no write
	assert.InDelta(t, 0.25, s.total, 1e-9)
}

func TestProviderConfigCost(t *testing.T) {
	pc := ProviderConfig{InputCostPer1K: 0.003, OutputCostPer1K: 0.015}
	got := pc.Cost(Usage{InputTokens: 2000, OutputTokens: 1000})
	assert.InDelta(t, 0.021, got, 1e-9)
}
