package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/eventbus"
)

// ErrNoActiveProviders is returned when the resolved chain is empty: no
// configured vendor has credentials, or a forced vendor is unavailable.
var ErrNoActiveProviders = errors.New("no active providers")

// ErrBudgetExceeded is returned when the rolling hourly spend has hit the
// ceiling; no vendor is contacted.
var ErrBudgetExceeded = errors.New("hourly cost budget exceeded")

// TaskDefaults are the sampling defaults applied per task category.
type TaskDefaults struct {
	Temperature float64
	MaxTokens   int
}

// Options are per-call caller overrides.
type Options struct {
	Temperature  *float64
	MaxTokens    int
	SystemPrompt string
	Grounding    bool
	ForceVendor  Vendor // short-circuits the chain to this vendor if available
}

// FallbackEvent describes one chain advance.
type FallbackEvent struct {
	Task TaskCategory
	From Vendor
	Next Vendor
	Err  error
}

// EngineConfig is the immutable routing table: one ordered candidate chain
// plus sampling defaults per task category.
type EngineConfig struct {
	Chains   map[TaskCategory][]ProviderConfig
	Defaults map[TaskCategory]TaskDefaults
}

// Engine walks a task category's vendor chain strictly in order, consulting
// the circuit breaker and cost budget before every candidate, and returns
// the first success. Vendors are never queried in parallel for one logical
// call: parallel dispatch doubles spend and complicates cancellation.
type Engine struct {
	cfg        EngineConfig
	providers  map[Vendor]Provider
	breaker    *Breaker
	metrics    *Collector
	shaper     *Shaper
	bus        *eventbus.Bus
	log        *logrus.Logger
	onFallback func(FallbackEvent)
}

// NewEngine creates the fallback engine. providers holds one adapter per
// vendor with credentials present; chain entries for absent vendors are
// skipped.
func NewEngine(cfg EngineConfig, providers map[Vendor]Provider, breaker *Breaker, metrics *Collector, bus *eventbus.Bus, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Engine{
		cfg:       cfg,
		providers: providers,
		breaker:   breaker,
		metrics:   metrics,
		shaper:    NewShaper(),
		bus:       bus,
		log:       log,
	}
}

// OnFallback registers an optional callback invoked whenever the chain
// advances past a failed vendor.
func (e *Engine) OnFallback(fn func(FallbackEvent)) {
	e.onFallback = fn
}

// chain resolves the ordered candidate list for a task, filtered to vendors
// with a registered adapter. A forced vendor collapses the chain to one
// entry; a forced vendor that is not available resolves to an empty chain
// rather than silently falling back.
func (e *Engine) chain(task TaskCategory, force Vendor) []ProviderConfig {
	var out []ProviderConfig
	for _, pc := range e.cfg.Chains[task] {
		if _, ok := e.providers[pc.Vendor]; !ok {
			continue
		}
		if force != "" {
			if pc.Vendor == force {
				return []ProviderConfig{pc}
			}
			continue
		}
		out = append(out, pc)
	}
	if force != "" {
		return nil
	}
	return out
}

func (e *Engine) buildRequest(task TaskCategory, pc ProviderConfig, caps Capabilities, messages []Message, opts Options) *Request {
	defaults := e.cfg.Defaults[task]
	if defaults.MaxTokens == 0 {
		defaults = TaskDefaults{Temperature: 0.7, MaxTokens: 4096}
	}

	req := &Request{
		Model:       pc.Model,
		Messages:    messages,
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	effective := caps
	effective.Grounding = caps.Grounding && pc.SupportsGrounding
	req.Grounding = opts.Grounding && effective.Grounding
	req.SystemPrompt = e.shaper.Shape(opts.SystemPrompt, effective)
	return req
}

// classifyCallErr separates the caller's cancellation (propagated as-is)
// from the per-call timeout (a vendor failure that cascades).
func classifyCallErr(ctx context.Context, vendor Vendor, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// deliberately not wrapped: the deadline belonged to this one call,
		// and IsCanceled must stay false so the chain keeps walking
		return &ProviderError{Vendor: vendor, Kind: ErrTimeout, Message: "call timed out"}
	}
	return err
}

func (e *Engine) recordFailure(ctx context.Context, pc ProviderConfig, task TaskCategory, latency time.Duration, err error) {
	kind := KindOf(err)
	e.metrics.Record(ctx, Entry{
		Vendor:  pc.Vendor,
		Model:   pc.Model,
		Task:    task,
		Status:  string(kind),
		Latency: latency,
	})
	if TripsBreaker(kind) {
		e.breaker.RecordFailure(ctx, pc.Vendor)
		if e.breaker.State(pc.Vendor) == CircuitOpen {
			e.bus.Publish(eventbus.TopicCircuitOpen, pc.Vendor)
		}
	} else {
		// no health verdict; a half-open probe slot must come back
		e.breaker.ReleaseProbe(pc.Vendor)
	}
}

func (e *Engine) notifyFallback(task TaskCategory, from, next Vendor, err error) {
	ev := FallbackEvent{Task: task, From: from, Next: next, Err: err}
	e.bus.Publish(eventbus.TopicFallback, ev)
	if e.onFallback != nil {
		e.onFallback(ev)
	}
	e.log.WithFields(logrus.Fields{
		"task": task,
		"from": from,
		"next": next,
	}).WithError(err).Warn("falling back to next vendor")
}

// Orchestrate resolves the chain for task and walks it sequentially,
// returning the first successful normalized result.
func (e *Engine) Orchestrate(ctx context.Context, task TaskCategory, messages []Message, opts Options) (*Result, error) {
	chain := e.chain(task, opts.ForceVendor)
	if len(chain) == 0 {
		return nil, ErrNoActiveProviders
	}

	var lastErr error
	for i, pc := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.metrics.IsOverBudget() {
			e.bus.Publish(eventbus.TopicBudgetExceeded, e.metrics.HourlyCost())
			return nil, ErrBudgetExceeded
		}
		if e.breaker.IsOpen(pc.Vendor) {
			lastErr = &ProviderError{Vendor: pc.Vendor, Kind: ErrCircuitOpen, Message: "circuit open, skipping"}
			e.log.WithField("vendor", pc.Vendor).Debug("skipping vendor with open circuit")
			continue
		}

		provider := e.providers[pc.Vendor]
		req := e.buildRequest(task, pc, provider.Capabilities(), messages, opts)

		callCtx, cancel := context.WithTimeout(ctx, pc.Timeout)
		start := time.Now()
		raw, err := provider.Chat(callCtx, req)
		cancel()
		latency := time.Since(start)

		if err != nil {
			err = classifyCallErr(ctx, pc.Vendor, err)
			if IsCanceled(err) {
				e.breaker.ReleaseProbe(pc.Vendor)
				return nil, err
			}
			e.recordFailure(ctx, pc, task, latency, err)
			lastErr = err
			if i+1 < len(chain) {
				e.notifyFallback(task, pc.Vendor, chain[i+1].Vendor, err)
			}
			continue
		}

		cost := pc.Cost(raw.Usage)
		e.metrics.Record(ctx, Entry{
			Vendor:  pc.Vendor,
			Model:   pc.Model,
			Task:    task,
			Status:  "success",
			Latency: latency,
			Cost:    cost,
		})
		e.breaker.RecordSuccess(ctx, pc.Vendor)

		return &Result{
			Content:       raw.Content,
			Thoughts:      raw.Thoughts,
			Grounding:     raw.Grounding,
			Vendor:        pc.Vendor,
			Model:         pc.Model,
			Fallback:      i > 0,
			ChainIndex:    i,
			Latency:       latency,
			EstimatedCost: cost,
		}, nil
	}

	e.bus.Publish(eventbus.TopicChainExhausted, task)
	return nil, fmt.Errorf("all providers failed for task %s: %w", task, lastErr)
}

// OrchestrateStream behaves like Orchestrate through connection
// establishment. Once a vendor's stream has delivered its first chunk to
// the caller, no further fallback happens for this request: partial content
// may already be user-visible, so a mid-stream failure becomes a terminal
// error chunk.
func (e *Engine) OrchestrateStream(ctx context.Context, task TaskCategory, messages []Message, opts Options) (<-chan Chunk, error) {
	chain := e.chain(task, opts.ForceVendor)
	if len(chain) == 0 {
		return nil, ErrNoActiveProviders
	}
	if e.metrics.IsOverBudget() {
		e.bus.Publish(eventbus.TopicBudgetExceeded, e.metrics.HourlyCost())
		return nil, ErrBudgetExceeded
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)

		var lastErr error
		for i, pc := range chain {
			if ctx.Err() != nil {
				return
			}
			if e.metrics.IsOverBudget() {
				e.bus.Publish(eventbus.TopicBudgetExceeded, e.metrics.HourlyCost())
				out <- Chunk{Type: ChunkError, Err: ErrBudgetExceeded}
				return
			}
			if e.breaker.IsOpen(pc.Vendor) {
				lastErr = &ProviderError{Vendor: pc.Vendor, Kind: ErrCircuitOpen, Message: "circuit open, skipping"}
				continue
			}

			provider := e.providers[pc.Vendor]
			req := e.buildRequest(task, pc, provider.Capabilities(), messages, opts)

			start := time.Now()
			events, err := provider.ChatStream(ctx, req)
			if err != nil {
				err = classifyCallErr(ctx, pc.Vendor, err)
				if IsCanceled(err) {
					e.breaker.ReleaseProbe(pc.Vendor)
					return
				}
				e.recordFailure(ctx, pc, task, time.Since(start), err)
				lastErr = err
				if i+1 < len(chain) {
					e.notifyFallback(task, pc.Vendor, chain[i+1].Vendor, err)
				}
				continue
			}

			committed, usage, chars, streamErr := e.pipeStream(ctx, events, pc, i, out)
			latency := time.Since(start)

			if streamErr != nil && !committed {
				// nothing reached the caller yet; still safe to cascade
				e.recordFailure(ctx, pc, task, latency, streamErr)
				lastErr = streamErr
				if i+1 < len(chain) {
					e.notifyFallback(task, pc.Vendor, chain[i+1].Vendor, streamErr)
				}
				continue
			}

			if streamErr != nil {
				e.recordFailure(ctx, pc, task, latency, streamErr)
				out <- Chunk{Type: ChunkError, Err: streamErr, Vendor: pc.Vendor, Model: pc.Model, Fallback: i > 0}
				return
			}

			u := Usage{OutputTokens: chars / 4}
			if usage != nil {
				u = *usage
			}
			cost := pc.Cost(u)
			e.metrics.Record(ctx, Entry{
				Vendor:  pc.Vendor,
				Model:   pc.Model,
				Task:    task,
				Status:  "success",
				Latency: latency,
				Cost:    cost,
			})
			e.breaker.RecordSuccess(ctx, pc.Vendor)
			out <- Chunk{Type: ChunkDone, Vendor: pc.Vendor, Model: pc.Model, Fallback: i > 0}
			return
		}

		if lastErr == nil {
			lastErr = ErrNoActiveProviders
		}
		e.bus.Publish(eventbus.TopicChainExhausted, task)
		out <- Chunk{Type: ChunkError, Err: lastErr}
	}()

	return out, nil
}

// pipeStream forwards adapter events to the caller as canonical chunks.
// committed flips once the first chunk has been delivered.
func (e *Engine) pipeStream(ctx context.Context, events <-chan StreamEvent, pc ProviderConfig, chainIndex int, out chan<- Chunk) (committed bool, usage *Usage, chars int, streamErr error) {
	annotate := func(c Chunk) Chunk {
		c.Vendor = pc.Vendor
		c.Model = pc.Model
		c.Fallback = chainIndex > 0
		return c
	}

	for ev := range events {
		if ctx.Err() != nil {
			return committed, usage, chars, ctx.Err()
		}
		if ev.Err != nil {
			return committed, usage, chars, ev.Err
		}
		switch {
		case ev.Text != "":
			out <- annotate(Chunk{Type: ChunkText, Text: ev.Text})
			committed = true
			chars += len(ev.Text)
		case ev.Thought != "":
			out <- annotate(Chunk{Type: ChunkThought, Text: ev.Thought})
			committed = true
			chars += len(ev.Thought)
		case ev.Grounding != nil:
			out <- annotate(Chunk{Type: ChunkGrounding, Grounding: ev.Grounding})
			committed = true
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
	}
	return committed, usage, chars, nil
}
