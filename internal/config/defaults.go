package config

import "github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"

// Defaults returns a Config with sensible default values.
//
// The chains place Gemini first for everything that benefits from live
// search grounding, with OpenAI and Anthropic as progressively more
// expensive fallbacks. Costs are USD per 1K tokens.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Budget: BudgetConfig{
			HourlyUSD:      25,
			MetricsEntries: 512,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			CooldownSecs:     60,
		},
		Loop: LoopConfig{
			MaxRounds:          4,
			MaxConcurrentTools: 4,
			DeadlineBufferSecs: 10,
			OverallTimeoutSecs: 120,
			ToolCacheCapacity:  64,
		},
		Chains: map[llm.TaskCategory][]ProviderEntry{
			llm.TaskAnalysis: {
				{
					Vendor:            llm.VendorGemini,
					Model:             "gemini-2.5-pro",
					TimeoutSecs:       90,
					InputCostPer1K:    0.00125,
					OutputCostPer1K:   0.01,
					SupportsGrounding: true,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
				{
					Vendor:            llm.VendorOpenAI,
					Model:             "gpt-4o",
					TimeoutSecs:       90,
					InputCostPer1K:    0.0025,
					OutputCostPer1K:   0.01,
					SupportsGrounding: true,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
				{
					Vendor:            llm.VendorAnthropic,
					Model:             "claude-sonnet-4-5",
					TimeoutSecs:       90,
					InputCostPer1K:    0.003,
					OutputCostPer1K:   0.015,
					SupportsGrounding: true,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
			},
			llm.TaskResearch: {
				{
					Vendor:            llm.VendorGemini,
					Model:             "gemini-2.5-flash",
					TimeoutSecs:       60,
					InputCostPer1K:    0.0003,
					OutputCostPer1K:   0.0025,
					SupportsGrounding: true,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
				{
					Vendor:            llm.VendorOpenAI,
					Model:             "gpt-4o",
					TimeoutSecs:       60,
					InputCostPer1K:    0.0025,
					OutputCostPer1K:   0.01,
					SupportsGrounding: true,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
				{
					Vendor:            llm.VendorAnthropic,
					Model:             "claude-sonnet-4-5",
					TimeoutSecs:       60,
					InputCostPer1K:    0.003,
					OutputCostPer1K:   0.015,
					SupportsGrounding: true,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
			},
			llm.TaskSummary: {
				{
					Vendor:            llm.VendorGemini,
					Model:             "gemini-2.5-flash-lite",
					TimeoutSecs:       30,
					InputCostPer1K:    0.0001,
					OutputCostPer1K:   0.0004,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
				{
					Vendor:            llm.VendorOpenAI,
					Model:             "gpt-4o-mini",
					TimeoutSecs:       30,
					InputCostPer1K:    0.00015,
					OutputCostPer1K:   0.0006,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
				{
					Vendor:            llm.VendorAnthropic,
					Model:             "claude-3-5-haiku-latest",
					TimeoutSecs:       30,
					InputCostPer1K:    0.0008,
					OutputCostPer1K:   0.004,
					SupportsStreaming: true,
					MaxRetries:        1,
				},
			},
		},
		TaskDefaults: map[llm.TaskCategory]TaskDefaults{
			llm.TaskAnalysis: {Temperature: 0.7, MaxTokens: 8192},
			llm.TaskResearch: {Temperature: 0.4, MaxTokens: 4096},
			llm.TaskSummary:  {Temperature: 0.3, MaxTokens: 1024},
		},
		Tools: []ToolPolicy{
			// Live market data turns over fast, season aggregates do not.
			{Name: "live_odds", TTLSecs: 15, TimeoutSecs: 8},
			{Name: "injury_report", TTLSecs: 120, TimeoutSecs: 10},
			{Name: "season_averages", TTLSecs: 600, TimeoutSecs: 10},
			{Name: "defensive_ratings", TTLSecs: 600, TimeoutSecs: 10},
			{Name: "pace_stats", TTLSecs: 600, TimeoutSecs: 10},
			{Name: "blowout_priors", TTLSecs: 1800, TimeoutSecs: 10},
		},
	}
}
