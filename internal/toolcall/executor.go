package toolcall

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultToolTimeout = 10 * time.Second

// Executor runs tool handlers with a per-tool timeout and request-scoped
// memoization. One Executor exists per request, wrapping that request's
// cache.
type Executor struct {
	registry *Registry
	cache    *Cache
	log      *logrus.Logger
}

// NewExecutor creates an executor around a request-scoped cache.
func NewExecutor(registry *Registry, cache *Cache, log *logrus.Logger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{registry: registry, cache: cache, log: log}
}

type handlerOutcome struct {
	payload any
	err     error
}

// Execute runs one tool call. The handler races the tool's timeout;
// whichever settles first wins, and the timer is always released. Failures
// come back as a sanitized structured result, never as an error: the
// conversation continues and the model acknowledges the data gap.
func (x *Executor) Execute(ctx context.Context, name string, args map[string]any, tc ToolContext) ToolResult {
	start := time.Now()

	schema, handler, err := x.registry.Get(name)
	if err != nil {
		return ToolResult{OK: false, Error: fmt.Sprintf("unknown tool: %s", name), Latency: time.Since(start)}
	}

	if cached, ok := x.cache.Get(name, args); ok {
		cached.CacheHit = true
		cached.Latency = time.Since(start)
		return cached
	}

	timeout := schema.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		payload, err := handler(callCtx, args, tc)
		done <- handlerOutcome{payload: payload, err: err}
	}()

	var outcome handlerOutcome
	select {
	case outcome = <-done:
	case <-callCtx.Done():
		outcome = handlerOutcome{err: callCtx.Err()}
	}

	latency := time.Since(start)
	if outcome.err != nil {
		x.log.WithFields(logrus.Fields{
			"tool":       name,
			"request_id": tc.RequestID,
		}).WithError(outcome.err).Warn("tool execution failed")
		return ToolResult{OK: false, Error: SanitizeError(outcome.err), Latency: latency}
	}

	result := ToolResult{OK: true, Payload: outcome.payload, Latency: latency}
	x.cache.Set(name, args, result, schema.TTL)
	return result
}
