// Package eventbus is a small in-process pub/sub bus the host application
// can subscribe to for orchestration lifecycle events.
package eventbus

import (
	"sync"
	"time"
)

// Topic represents an event topic.
type Topic string

const (
	TopicFallback       Topic = "fallback"        // vendor failed, chain advanced
	TopicCircuitOpen    Topic = "circuit_open"    // a vendor circuit opened
	TopicBudgetExceeded Topic = "budget_exceeded" // hourly spend ceiling hit
	TopicChainExhausted Topic = "chain_exhausted" // every vendor failed
	TopicToolCall       Topic = "tool_call"       // model requested a tool
	TopicToolResult     Topic = "tool_result"     // tool execution finished
	TopicRoundComplete  Topic = "round_complete"  // one tool-loop round resolved
)

// Event is a message passed through the bus.
type Event struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes an event.
type Handler func(Event)

// Bus fans events out to subscribers. Synchronous publication keeps event
// ordering aligned with request progress.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish delivers an event to all subscribers of the topic, in
// registration order, on the caller's goroutine.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, h := range handlers {
		h(event)
	}
}

// PublishAsync delivers an event to subscribers on separate goroutines.
func (b *Bus) PublishAsync(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, h := range handlers {
		go h(event)
	}
}
