package llm

import (
	"encoding/json"
	"time"
)

// Vendor identifies one upstream model API.
type Vendor string

const (
	VendorGemini    Vendor = "gemini"
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
)

// TaskCategory selects the provider chain and default sampling options.
type TaskCategory string

const (
	TaskAnalysis TaskCategory = "analysis" // pick generation
	TaskResearch TaskCategory = "research" // web-grounded injury/odds research
	TaskSummary  TaskCategory = "summary"  // recap writing
)

// ProviderConfig is the immutable per-(category, chain-position) vendor setup.
// Constructed once at startup, never mutated afterwards.
type ProviderConfig struct {
	Vendor            Vendor        `json:"vendor"`
	Model             string        `json:"model"`
	Timeout           time.Duration `json:"timeout"`
	InputCostPer1K    float64       `json:"input_cost_per_1k"`
	OutputCostPer1K   float64       `json:"output_cost_per_1k"`
	SupportsGrounding bool          `json:"supports_grounding"`
	SupportsStreaming bool          `json:"supports_streaming"`
	MaxRetries        int           `json:"max_retries"`
}

// Message is the canonical chat message exchanged with callers.
type Message struct {
	Role    string        `json:"role"` // "system", "user", "assistant"
	Content string        `json:"content,omitempty"`
	Parts   []MessagePart `json:"parts,omitempty"`
}

// MessagePart is one typed element of a multi-part message.
type MessagePart struct {
	Type     string `json:"type"` // "text", "image", "file"
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// RawTurn is a conversation turn carried in the vendor's own part encoding.
// Parts are replayed byte-for-byte; they may contain vendor-private metadata
// (continuation signatures) the engine must not interpret or re-synthesize.
type RawTurn struct {
	Role  string            `json:"role"`
	Parts []json.RawMessage `json:"parts"`
}

// Request is the canonical input for one vendor call.
type Request struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Grounding    bool      // request the vendor's native web search when supported
	History      []RawTurn // vendor-opaque turns appended after Messages (tool loop)
}

// Usage tracks token consumption as reported by the vendor.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GroundingSource is one citation from a web-grounded response.
type GroundingSource struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Grounding carries the citation metadata of a web-grounded response.
type Grounding struct {
	Sources []GroundingSource `json:"sources,omitempty"`
	Queries []string          `json:"queries,omitempty"`
}

// RawResult is what an adapter hands back: vendor output, nothing more.
type RawResult struct {
	Content    string
	Thoughts   string
	Grounding  *Grounding
	Usage      Usage
	StopReason string
}

// Result is the normalized non-streaming response returned to callers.
type Result struct {
	Content       string        `json:"content"`
	Thoughts      string        `json:"thoughts,omitempty"`
	Grounding     *Grounding    `json:"grounding,omitempty"`
	Vendor        Vendor        `json:"vendor"`
	Model         string        `json:"model"`
	Fallback      bool          `json:"fallback"`
	ChainIndex    int           `json:"chain_index"`
	Latency       time.Duration `json:"latency"`
	EstimatedCost float64       `json:"estimated_cost"`
}

// ChunkType tags one element of the canonical streaming union.
type ChunkType string

const (
	ChunkText         ChunkType = "text"
	ChunkThought      ChunkType = "thought"
	ChunkGrounding    ChunkType = "grounding"
	ChunkDone         ChunkType = "done"
	ChunkError        ChunkType = "error"
	ChunkFunctionCall ChunkType = "function_call"
	ChunkToolStatus   ChunkType = "tool_status"
)

// Chunk is the canonical streaming output element.
type Chunk struct {
	Type       ChunkType  `json:"type"`
	Text       string     `json:"text,omitempty"`
	Grounding  *Grounding `json:"grounding,omitempty"`
	Err        error      `json:"-"`
	Function   string     `json:"function,omitempty"`    // function_call chunks
	ToolStatus string     `json:"tool_status,omitempty"` // "calling", "complete"
	Vendor     Vendor     `json:"vendor,omitempty"`
	Model      string     `json:"model,omitempty"`
	Fallback   bool       `json:"fallback,omitempty"`
}

// StreamEvent is the pre-normalization unit emitted by adapter streams.
type StreamEvent struct {
	Text      string
	Thought   string
	Grounding *Grounding
	Usage     *Usage
	Done      bool
	Err       error
}

// PartEvent is the raw-mode streaming unit used by the tool-calling loop.
// Exactly one field group is set per event.
type PartEvent struct {
	Text         string
	Thought      bool // Text is internal reasoning, not answer text
	FunctionCall *FunctionCall
	Grounding    *Grounding
	Usage        *Usage
	Done         bool
	Err          error
}

// FunctionCall is a model-emitted request to invoke a named tool. Raw holds
// the vendor's part exactly as received so history replay preserves any
// vendor-private continuation metadata.
type FunctionCall struct {
	Name string
	Args map[string]any
	Raw  json.RawMessage
}

// ToolDeclaration describes one tool to the model.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// EstimateTokens is the fallback token estimate (~4 chars per token) used
// when a vendor does not report usage incrementally.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Cost computes the estimated spend for a call against a provider config.
func (c ProviderConfig) Cost(u Usage) float64 {
	return float64(u.InputTokens)/1000*c.InputCostPer1K +
		float64(u.OutputTokens)/1000*c.OutputCostPer1K
}
