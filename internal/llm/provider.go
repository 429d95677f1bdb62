package llm

import "context"

// Provider is the interface all vendor adapters implement. Exactly one
// implementation exists per vendor; selection is always by the Vendor enum.
type Provider interface {
	// Chat issues a non-streaming completion request.
	Chat(ctx context.Context, req *Request) (*RawResult, error)

	// ChatStream issues a streaming completion request. The returned channel
	// is closed when the stream ends; a terminal error arrives as an event.
	ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error)

	// Vendor returns the adapter's vendor id.
	Vendor() Vendor

	// Capabilities reports what this adapter can do.
	Capabilities() Capabilities
}

// Capabilities declares what a vendor adapter supports.
type Capabilities struct {
	Grounding       bool // native web-search-augmented responses
	Streaming       bool
	FunctionCalling bool // raw-mode tool streaming (ToolStreamer)
}

// ToolStreamer is implemented by adapters that expose the raw part stream
// the tool-calling loop needs: per-part classification plus the opaque
// vendor encoding of each part.
type ToolStreamer interface {
	Provider

	// StreamWithTools streams a completion with tool declarations attached,
	// emitting one PartEvent per decoded vendor part.
	StreamWithTools(ctx context.Context, req *Request, tools []ToolDeclaration) (<-chan PartEvent, error)
}
