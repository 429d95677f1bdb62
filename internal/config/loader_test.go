package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
)

func TestLoadDefaults(t *testing.T) {
	loader := &Loader{
		filePath: filepath.Join(t.TempDir(), "config.json"),
	}

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 25.0, cfg.Budget.HourlyUSD)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 4, cfg.Loop.MaxRounds)

	chain := cfg.Chains[llm.TaskAnalysis]
	require.Len(t, chain, 3)
	assert.Equal(t, llm.VendorGemini, chain[0].Vendor)
	assert.Equal(t, llm.VendorOpenAI, chain[1].Vendor)
	assert.Equal(t, llm.VendorAnthropic, chain[2].Vendor)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	loader := &Loader{filePath: path}

	cfg := Defaults()
	cfg.LogLevel = "debug"
	cfg.Budget.HourlyUSD = 5
	require.NoError(t, loader.Save(cfg))

	loaded, err := (&Loader{filePath: path}).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, 5.0, loaded.Budget.HourlyUSD)
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("SPORTSYNC_LOG_LEVEL", "trace")
	t.Setenv("SPORTSYNC_HOURLY_BUDGET_USD", "12.5")
	t.Setenv("SPORTSYNC_REDIS_ADDR", "127.0.0.1:6379")

	loader := &Loader{filePath: filepath.Join(t.TempDir(), "config.json")}
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, 12.5, cfg.Budget.HourlyUSD)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
}

func TestEngineConfigConversion(t *testing.T) {
	cfg := Defaults()
	ec := cfg.EngineConfig()

	chain := ec.Chains[llm.TaskResearch]
	require.NotEmpty(t, chain)
	assert.Equal(t, "gemini-2.5-flash", chain[0].Model)
	assert.Equal(t, 60*time.Second, chain[0].Timeout)
	assert.True(t, chain[0].SupportsGrounding)

	d := ec.Defaults[llm.TaskSummary]
	assert.Equal(t, 0.3, d.Temperature)
	assert.Equal(t, 1024, d.MaxTokens)
}

func TestBreakerAndCollectorOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Breaker.CooldownSecs = 90
	cfg.Budget.HourlyUSD = 10

	b := cfg.BreakerOptions()
	assert.Equal(t, 3, b.FailureThreshold)
	assert.Equal(t, 90*time.Second, b.Cooldown)

	c := cfg.CollectorOptions()
	assert.Equal(t, 10.0, c.HourlyBudgetUSD)
	assert.Equal(t, 512, c.Capacity)
}

func TestLoopOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Loop.MaxRounds = 2
	cfg.Loop.OverallTimeoutSecs = 30

	lc := cfg.LoopOptions()
	assert.Equal(t, 2, lc.MaxRounds)
	assert.Equal(t, 30*time.Second, lc.OverallTimeout)
	assert.Equal(t, 4, lc.MaxConcurrentTools)
}

func TestToolPolicyFor(t *testing.T) {
	cfg := Defaults()

	p, ok := cfg.ToolPolicyFor("live_odds")
	require.True(t, ok)
	assert.Equal(t, 15, p.TTLSecs, "live market data stays seconds-fresh")

	p, ok = cfg.ToolPolicyFor("season_averages")
	require.True(t, ok)
	assert.Equal(t, 600, p.TTLSecs)

	_, ok = cfg.ToolPolicyFor("nope")
	assert.False(t, ok)
}
