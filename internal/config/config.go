package config

import (
	"time"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/toolcall"
)

// Config is the top-level application configuration. Durations are stored
// as seconds so the JSON file stays hand-editable.
type Config struct {
	LogLevel string `json:"log_level"`

	Budget  BudgetConfig  `json:"budget"`
	Breaker BreakerConfig `json:"breaker"`
	Loop    LoopConfig    `json:"loop"`

	Chains       map[llm.TaskCategory][]ProviderEntry `json:"chains"`
	TaskDefaults map[llm.TaskCategory]TaskDefaults    `json:"task_defaults"`
	Tools        []ToolPolicy                         `json:"tools"`

	Redis      *RedisConfig `json:"redis,omitempty"`
	SQLitePath string       `json:"sqlite_path,omitempty"`
}

type BudgetConfig struct {
	HourlyUSD      float64 `json:"hourly_usd"`
	MetricsEntries int     `json:"metrics_entries"`
}

type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	CooldownSecs     int `json:"cooldown_secs"`
}

type LoopConfig struct {
	MaxRounds           int `json:"max_rounds"`
	MaxConcurrentTools  int `json:"max_concurrent_tools"`
	DeadlineBufferSecs  int `json:"deadline_buffer_secs"`
	OverallTimeoutSecs  int `json:"overall_timeout_secs"`
	ToolCacheCapacity   int `json:"tool_cache_capacity"`
}

// ProviderEntry is one chain position for one task category.
type ProviderEntry struct {
	Vendor            llm.Vendor `json:"vendor"`
	Model             string     `json:"model"`
	TimeoutSecs       int        `json:"timeout_secs"`
	InputCostPer1K    float64    `json:"input_cost_per_1k"`
	OutputCostPer1K   float64    `json:"output_cost_per_1k"`
	SupportsGrounding bool       `json:"supports_grounding"`
	SupportsStreaming bool       `json:"supports_streaming"`
	MaxRetries        int        `json:"max_retries"`
}

type TaskDefaults struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ToolPolicy sets freshness and execution bounds per tool.
type ToolPolicy struct {
	Name        string `json:"name"`
	TTLSecs     int    `json:"ttl_secs"`
	TimeoutSecs int    `json:"timeout_secs"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// ProviderConfig converts a chain entry into the engine's immutable form.
func (e ProviderEntry) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Vendor:            e.Vendor,
		Model:             e.Model,
		Timeout:           time.Duration(e.TimeoutSecs) * time.Second,
		InputCostPer1K:    e.InputCostPer1K,
		OutputCostPer1K:   e.OutputCostPer1K,
		SupportsGrounding: e.SupportsGrounding,
		SupportsStreaming: e.SupportsStreaming,
		MaxRetries:        e.MaxRetries,
	}
}

// EngineConfig builds the fallback engine's routing table.
func (c *Config) EngineConfig() llm.EngineConfig {
	chains := make(map[llm.TaskCategory][]llm.ProviderConfig, len(c.Chains))
	for task, entries := range c.Chains {
		for _, e := range entries {
			chains[task] = append(chains[task], e.ProviderConfig())
		}
	}
	defaults := make(map[llm.TaskCategory]llm.TaskDefaults, len(c.TaskDefaults))
	for task, d := range c.TaskDefaults {
		defaults[task] = llm.TaskDefaults{Temperature: d.Temperature, MaxTokens: d.MaxTokens}
	}
	return llm.EngineConfig{Chains: chains, Defaults: defaults}
}

// BreakerOptions converts the breaker section.
func (c *Config) BreakerOptions() llm.BreakerConfig {
	cfg := llm.DefaultBreakerConfig()
	if c.Breaker.FailureThreshold > 0 {
		cfg.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.CooldownSecs > 0 {
		cfg.Cooldown = time.Duration(c.Breaker.CooldownSecs) * time.Second
	}
	return cfg
}

// LoopOptions converts the tool loop section.
func (c *Config) LoopOptions() toolcall.LoopConfig {
	cfg := toolcall.DefaultLoopConfig()
	if c.Loop.MaxRounds > 0 {
		cfg.MaxRounds = c.Loop.MaxRounds
	}
	if c.Loop.MaxConcurrentTools > 0 {
		cfg.MaxConcurrentTools = c.Loop.MaxConcurrentTools
	}
	if c.Loop.DeadlineBufferSecs > 0 {
		cfg.DeadlineBuffer = time.Duration(c.Loop.DeadlineBufferSecs) * time.Second
	}
	if c.Loop.OverallTimeoutSecs > 0 {
		cfg.OverallTimeout = time.Duration(c.Loop.OverallTimeoutSecs) * time.Second
	}
	if c.Loop.ToolCacheCapacity > 0 {
		cfg.CacheCapacity = c.Loop.ToolCacheCapacity
	}
	return cfg
}

// ToolPolicyFor returns the freshness policy for a tool, if configured.
func (c *Config) ToolPolicyFor(name string) (ToolPolicy, bool) {
	for _, p := range c.Tools {
		if p.Name == name {
			return p, true
		}
	}
	return ToolPolicy{}, false
}

// CollectorOptions converts the budget section.
func (c *Config) CollectorOptions() llm.CollectorConfig {
	cfg := llm.DefaultCollectorConfig()
	if c.Budget.HourlyUSD > 0 {
		cfg.HourlyBudgetUSD = c.Budget.HourlyUSD
	}
	if c.Budget.MetricsEntries > 0 {
		cfg.Capacity = c.Budget.MetricsEntries
	}
	return cfg
}
