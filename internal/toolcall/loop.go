package toolcall

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/eventbus"
	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
)

// LoopConfig bounds the tool-calling state machine.
type LoopConfig struct {
	MaxRounds          int           // rounds before forced best-effort stop
	MaxConcurrentTools int           // simultaneous handler executions
	DeadlineBuffer     time.Duration // minimum time left to start a round
	OverallTimeout     time.Duration // wall-clock cap when ctx has no deadline
	CacheCapacity      int
}

// DefaultLoopConfig returns the production defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxRounds:          4,
		MaxConcurrentTools: 4,
		DeadlineBuffer:     10 * time.Second,
		OverallTimeout:     120 * time.Second,
	}
}

// Loop streams one tool-capable vendor, executes the function calls it
// emits, and replays results into conversation history until the model
// stops calling tools or the round/deadline budget runs out.
type Loop struct {
	streamer llm.ToolStreamer
	registry *Registry
	cfg      LoopConfig
	bus      *eventbus.Bus
	log      *logrus.Logger
}

// NewLoop creates a loop bound to one tool-capable vendor.
func NewLoop(streamer llm.ToolStreamer, registry *Registry, cfg LoopConfig, bus *eventbus.Bus, log *logrus.Logger) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultLoopConfig().MaxRounds
	}
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = DefaultLoopConfig().MaxConcurrentTools
	}
	if cfg.DeadlineBuffer <= 0 {
		cfg.DeadlineBuffer = DefaultLoopConfig().DeadlineBuffer
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = DefaultLoopConfig().OverallTimeout
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{streamer: streamer, registry: registry, cfg: cfg, bus: bus, log: log}
}

// session is the ephemeral per-request state.
type session struct {
	requestID string
	history   []llm.RawTurn
	buffered  []llm.Chunk         // this round's not-yet-emitted text/thought
	calls     []*llm.FunctionCall // this round's captured calls, in order
}

// Run executes the loop for one request. tc carries the storage handle and
// request id handed to tool handlers; a missing request id is generated.
func (l *Loop) Run(ctx context.Context, req *llm.Request, tc ToolContext) (<-chan llm.Chunk, error) {
	if !l.streamer.Capabilities().FunctionCalling {
		return nil, &llm.ProviderError{
			Vendor:  l.streamer.Vendor(),
			Kind:    llm.ErrUnknown,
			Message: "vendor does not support function calling",
		}
	}

	if tc.RequestID == "" {
		tc.RequestID = uuid.NewString()
	}

	out := make(chan llm.Chunk, 64)
	go l.run(ctx, req, tc, out)
	return out, nil
}

func (l *Loop) run(ctx context.Context, req *llm.Request, tc ToolContext, out chan<- llm.Chunk) {
	defer close(out)

	// The cache and executor live exactly as long as this request.
	cache := NewCache(l.cfg.CacheCapacity)
	exec := NewExecutor(l.registry, cache, l.log)

	deadline := time.Now().Add(l.cfg.OverallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	sess := &session{requestID: tc.RequestID}
	tools := l.registry.Declarations()
	annotate := func(c llm.Chunk) llm.Chunk {
		c.Vendor = l.streamer.Vendor()
		c.Model = req.Model
		return c
	}
	flush := func() {
		for _, c := range sess.buffered {
			out <- annotate(c)
		}
	}

	for round := 1; round <= l.cfg.MaxRounds; round++ {
		if ctx.Err() != nil {
			l.log.WithField("request_id", sess.requestID).Info("tool loop canceled")
			return
		}
		if remaining := time.Until(deadline); remaining < l.cfg.DeadlineBuffer {
			l.log.WithFields(logrus.Fields{
				"request_id": sess.requestID,
				"round":      round,
				"remaining":  remaining,
			}).Warn("insufficient time for another round, stopping")
			break
		}

		rreq := *req
		rreq.History = append(append([]llm.RawTurn(nil), req.History...), sess.history...)
		events, err := l.streamer.StreamWithTools(ctx, &rreq, tools)
		if err != nil {
			if llm.IsCanceled(err) {
				l.log.WithField("request_id", sess.requestID).Info("tool loop canceled")
				return
			}
			out <- annotate(llm.Chunk{Type: llm.ChunkError, Err: err})
			return
		}

		sess.buffered = sess.buffered[:0]
		sess.calls = sess.calls[:0]
		if terminal := l.collectRound(ctx, sess, events, out, annotate); terminal {
			return
		}
		if ctx.Err() != nil {
			l.log.WithField("request_id", sess.requestID).Info("tool loop canceled")
			return
		}

		if len(sess.calls) == 0 {
			// Terminal round: the buffered narration is the model's answer.
			flush()
			out <- annotate(llm.Chunk{Type: llm.ChunkDone})
			l.bus.Publish(eventbus.TopicRoundComplete, round)
			return
		}

		// Text gating: narration preceding tool calls is prefatory chatter,
		// not the answer. Drop it.
		sess.buffered = sess.buffered[:0]

		if round == l.cfg.MaxRounds {
			// No round left to consume the results; skip execution.
			break
		}

		out <- annotate(llm.Chunk{Type: llm.ChunkToolStatus, ToolStatus: "calling"})
		results := l.executeCalls(ctx, exec, sess, tc)
		out <- annotate(llm.Chunk{Type: llm.ChunkToolStatus, ToolStatus: "complete"})
		if ctx.Err() != nil {
			l.log.WithField("request_id", sess.requestID).Info("tool loop canceled")
			return
		}

		l.appendTurns(sess, results)
		l.bus.Publish(eventbus.TopicRoundComplete, round)
	}

	// Round or deadline budget exhausted: best-effort done, no error. The
	// buffer is always empty here; both stop paths follow a gated round.
	out <- annotate(llm.Chunk{Type: llm.ChunkDone})
}

// collectRound consumes one round's event stream, buffering text/thought,
// emitting grounding immediately, and capturing function calls. Returns
// true when the caller must stop (terminal stream error).
func (l *Loop) collectRound(ctx context.Context, sess *session, events <-chan llm.PartEvent, out chan<- llm.Chunk, annotate func(llm.Chunk) llm.Chunk) bool {
	for ev := range events {
		if ctx.Err() != nil {
			// keep draining so the adapter goroutine can exit
			continue
		}
		switch {
		case ev.Err != nil:
			if llm.IsCanceled(ev.Err) {
				continue
			}
			out <- annotate(llm.Chunk{Type: llm.ChunkError, Err: ev.Err})
			return true
		case ev.Grounding != nil:
			// side channel, emitted regardless of round outcome
			out <- annotate(llm.Chunk{Type: llm.ChunkGrounding, Grounding: ev.Grounding})
		case ev.FunctionCall != nil:
			sess.calls = append(sess.calls, ev.FunctionCall)
			out <- annotate(llm.Chunk{Type: llm.ChunkFunctionCall, Function: ev.FunctionCall.Name})
		case ev.Text != "":
			typ := llm.ChunkText
			if ev.Thought {
				typ = llm.ChunkThought
			}
			sess.buffered = append(sess.buffered, llm.Chunk{Type: typ, Text: ev.Text})
		}
	}
	return false
}

// executeCalls runs this round's captured calls deduplicated by
// (name, canonical args), with bounded concurrency, and returns results
// keyed by that same canonical key.
func (l *Loop) executeCalls(ctx context.Context, exec *Executor, sess *session, tc ToolContext) map[string]ToolResult {
	unique := make(map[string]*llm.FunctionCall)
	var keys []string
	for _, call := range sess.calls {
		key := CacheKey(call.Name, call.Args)
		if _, seen := unique[key]; !seen {
			unique[key] = call
			keys = append(keys, key)
		}
	}

	results := make(map[string]ToolResult, len(keys))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, l.cfg.MaxConcurrentTools)
	)
	for _, key := range keys {
		call := unique[key]
		wg.Add(1)
		go func(key string, call *llm.FunctionCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			l.bus.Publish(eventbus.TopicToolCall, call.Name)
			res := exec.Execute(ctx, call.Name, call.Args, tc)
			l.bus.Publish(eventbus.TopicToolResult, map[string]any{
				"tool": call.Name, "ok": res.OK, "cache_hit": res.CacheHit,
			})

			mu.Lock()
			results[key] = res
			mu.Unlock()
		}(key, call)
	}
	wg.Wait()
	return results
}

// appendTurns adds exactly two turns to history: the model's own turn with
// every captured call replayed from its opaque raw part, and a response
// turn with one reply per original call, in original order. Duplicate
// calls replay byte-identical result payloads.
func (l *Loop) appendTurns(sess *session, results map[string]ToolResult) {
	modelParts := make([]json.RawMessage, 0, len(sess.calls))
	respParts := make([]json.RawMessage, 0, len(sess.calls))
	encoded := make(map[string]json.RawMessage, len(results))

	for _, call := range sess.calls {
		modelParts = append(modelParts, call.Raw)

		key := CacheKey(call.Name, call.Args)
		part, ok := encoded[key]
		if !ok {
			part = responsePart(call.Name, results[key])
			encoded[key] = part
		}
		respParts = append(respParts, part)
	}

	sess.history = append(sess.history,
		llm.RawTurn{Role: "model", Parts: modelParts},
		llm.RawTurn{Role: "user", Parts: respParts},
	)
}

func responsePart(name string, result ToolResult) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"functionResponse": map[string]any{
			"name":     name,
			"response": result,
		},
	})
	return b
}
