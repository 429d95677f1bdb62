package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/config"
	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/eventbus"
	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/secrets"
	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/state"
)

func main() {
	var (
		task   = flag.String("task", "analysis", "task category: analysis, research, summary")
		prompt = flag.String("prompt", "", "user prompt (required)")
		system = flag.String("system", "", "optional system prompt")
		vendor = flag.String("vendor", "", "pin a single vendor instead of walking the chain")
		stream = flag.Bool("stream", false, "stream chunks to stdout")
		ground = flag.Bool("grounding", false, "request web-grounded responses")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: sportsync -prompt \"...\" [-task analysis|research|summary] [-stream]")
		os.Exit(2)
	}

	loader, err := config.NewLoader()
	if err != nil {
		log.WithError(err).Fatal("config loader")
	}
	cfg, err := loader.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := buildStore(cfg, log)

	breaker := llm.NewBreaker(cfg.BreakerOptions(), store, log)
	metrics := llm.NewCollector(cfg.CollectorOptions(), store, log)

	bus := eventbus.New()
	bus.Subscribe(eventbus.TopicFallback, func(ev eventbus.Event) {
		log.WithField("event", ev.Payload).Warn("provider fallback")
	})
	bus.Subscribe(eventbus.TopicBudgetExceeded, func(ev eventbus.Event) {
		log.WithField("event", ev.Payload).Error("hourly budget exceeded")
	})

	providers := buildProviders(cfg, log)
	if len(providers) == 0 {
		log.Fatal("no provider API keys configured")
	}

	engine := llm.NewEngine(cfg.EngineConfig(), providers, breaker, metrics, bus, log)

	msgs := []llm.Message{{Role: "user", Content: *prompt}}
	opts := llm.Options{
		SystemPrompt: *system,
		Grounding:    *ground,
		ForceVendor:  llm.Vendor(*vendor),
	}

	if *stream {
		runStream(ctx, engine, llm.TaskCategory(*task), msgs, opts, log)
		return
	}

	res, err := engine.Orchestrate(ctx, llm.TaskCategory(*task), msgs, opts)
	if err != nil {
		log.WithError(err).Fatal("orchestrate")
	}
	fmt.Println(res.Content)
	if res.Grounding != nil {
		for _, src := range res.Grounding.Sources {
			fmt.Fprintf(os.Stderr, "source: %s\n", src.URL)
		}
	}
	log.WithFields(logrus.Fields{
		"vendor":   res.Vendor,
		"model":    res.Model,
		"fallback": res.Fallback,
		"latency":  res.Latency,
		"cost_usd": res.EstimatedCost,
	}).Info("done")
}

func runStream(ctx context.Context, engine *llm.Engine, task llm.TaskCategory, msgs []llm.Message, opts llm.Options, log *logrus.Logger) {
	ch, err := engine.OrchestrateStream(ctx, task, msgs, opts)
	if err != nil {
		log.WithError(err).Fatal("orchestrate stream")
	}
	for chunk := range ch {
		switch chunk.Type {
		case llm.ChunkText:
			fmt.Print(chunk.Text)
		case llm.ChunkGrounding:
			if chunk.Grounding != nil {
				for _, src := range chunk.Grounding.Sources {
					fmt.Fprintf(os.Stderr, "source: %s\n", src.URL)
				}
			}
		case llm.ChunkError:
			fmt.Println()
			log.WithError(chunk.Err).Fatal("stream failed")
		case llm.ChunkDone:
			fmt.Println()
		}
	}
}

// buildStore picks Redis when configured, then SQLite, then in-process only.
func buildStore(cfg *config.Config, log *logrus.Logger) state.Store {
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		log.WithField("addr", cfg.Redis.Addr).Debug("using redis state store")
		return state.NewRedisStore(state.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.SQLitePath != "" {
		s, err := state.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			log.WithError(err).Warn("sqlite state store unavailable, continuing in-process")
			return state.Noop()
		}
		return s
	}
	return state.Noop()
}

// buildProviders constructs one adapter per vendor that has a key. A vendor
// appearing in a chain without a key is skipped at orchestration time.
func buildProviders(cfg *config.Config, log *logrus.Logger) map[llm.Vendor]llm.Provider {
	keys := secrets.NewStore()
	providers := make(map[llm.Vendor]llm.Provider)

	seen := make(map[llm.Vendor]llm.ProviderConfig)
	for _, entries := range cfg.Chains {
		for _, e := range entries {
			if _, ok := seen[e.Vendor]; !ok {
				seen[e.Vendor] = e.ProviderConfig()
			}
		}
	}

	for vendor, pc := range seen {
		key, err := keys.APIKey(vendor)
		if err != nil {
			log.WithField("vendor", vendor).Debug("no API key, vendor disabled")
			continue
		}
		p, err := llm.NewProvider(pc, key, log)
		if err != nil {
			log.WithError(err).WithField("vendor", vendor).Warn("provider init failed")
			continue
		}
		providers[vendor] = p
	}
	return providers
}
