package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
)

// fakeStreamer plays back one scripted event sequence per round and captures
// the history each round was sent with.
type fakeStreamer struct {
	rounds    [][]llm.PartEvent
	histories [][]llm.RawTurn
	caps      llm.Capabilities
}

func (f *fakeStreamer) Vendor() llm.Vendor             { return llm.VendorGemini }
func (f *fakeStreamer) Capabilities() llm.Capabilities { return f.caps }

func (f *fakeStreamer) Chat(context.Context, *llm.Request) (*llm.RawResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeStreamer) ChatStream(context.Context, *llm.Request) (<-chan llm.StreamEvent, error) {
	return nil, errors.New("not used")
}

func (f *fakeStreamer) StreamWithTools(ctx context.Context, req *llm.Request, tools []llm.ToolDeclaration) (<-chan llm.PartEvent, error) {
	idx := len(f.histories)
	f.histories = append(f.histories, append([]llm.RawTurn(nil), req.History...))
	if idx >= len(f.rounds) {
		return nil, errors.New("unscripted round")
	}
	ch := make(chan llm.PartEvent, len(f.rounds[idx]))
	for _, ev := range f.rounds[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func toolStreamer(rounds ...[]llm.PartEvent) *fakeStreamer {
	return &fakeStreamer{
		rounds: rounds,
		caps:   llm.Capabilities{Streaming: true, FunctionCalling: true},
	}
}

func callEvent(t *testing.T, name string, args map[string]any) llm.PartEvent {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"functionCall": map[string]any{"name": name, "args": args}})
	require.NoError(t, err)
	return llm.PartEvent{FunctionCall: &llm.FunctionCall{Name: name, Args: args, Raw: raw}}
}

func newTestLoop(t *testing.T, streamer *fakeStreamer, handlers map[string]Handler) *Loop {
	t.Helper()
	reg := NewRegistry()
	for name, h := range handlers {
		require.NoError(t, reg.Register(testSchema(name, time.Minute, time.Second), h))
	}
	return NewLoop(streamer, reg, LoopConfig{}, nil, nil)
}

func runLoop(t *testing.T, l *Loop) []llm.Chunk {
	t.Helper()
	ch, err := l.Run(context.Background(), &llm.Request{Model: "gemini-2.5-flash"}, ToolContext{})
	require.NoError(t, err)
	var chunks []llm.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func chunkTypes(chunks []llm.Chunk) []llm.ChunkType {
	out := make([]llm.ChunkType, len(chunks))
	for i, c := range chunks {
		out[i] = c.Type
	}
	return out
}

func TestLoopTextOnlyRoundIsTerminal(t *testing.T) {
	streamer := toolStreamer([]llm.PartEvent{
		{Text: "reasoning", Thought: true},
		{Text: "Lakers -4.5."},
		{Done: true},
	})
	l := newTestLoop(t, streamer, nil)

	chunks := runLoop(t, l)
	assert.Equal(t, []llm.ChunkType{llm.ChunkThought, llm.ChunkText, llm.ChunkDone}, chunkTypes(chunks))
	assert.Equal(t, "Lakers -4.5.", chunks[1].Text)
	for _, c := range chunks {
		assert.NotEqual(t, llm.ChunkToolStatus, c.Type, "no tool round, no tool status")
	}
	assert.Len(t, streamer.histories, 1, "one round only")
}

func TestLoopDiscardsNarrationBeforeToolCalls(t *testing.T) {
	streamer := toolStreamer(
		[]llm.PartEvent{
			{Text: "Let me check the lines."},
			callEvent(t, "live_odds", map[string]any{"team": "LAL"}),
			{Done: true},
		},
		[]llm.PartEvent{
			{Text: "Final answer: take the points."},
			{Done: true},
		},
	)
	var invoked atomic.Int32
	l := newTestLoop(t, streamer, map[string]Handler{
		"live_odds": func(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
			invoked.Add(1)
			return map[string]any{"spread": -4.5}, nil
		},
	})

	chunks := runLoop(t, l)
	assert.Equal(t, []llm.ChunkType{
		llm.ChunkFunctionCall,
		llm.ChunkToolStatus,
		llm.ChunkToolStatus,
		llm.ChunkText,
		llm.ChunkDone,
	}, chunkTypes(chunks))

	assert.Equal(t, "live_odds", chunks[0].Function)
	assert.Equal(t, "calling", chunks[1].ToolStatus)
	assert.Equal(t, "complete", chunks[2].ToolStatus)
	assert.Equal(t, "Final answer: take the points.", chunks[3].Text)
	for _, c := range chunks {
		assert.NotEqual(t, "Let me check the lines.", c.Text, "prefatory chatter is dropped")
	}
	assert.Equal(t, int32(1), invoked.Load())
}

func TestLoopHistoryTurnShape(t *testing.T) {
	call := callEvent(t, "live_odds", map[string]any{"team": "LAL"})
	streamer := toolStreamer(
		[]llm.PartEvent{call, {Done: true}},
		[]llm.PartEvent{{Text: "done"}, {Done: true}},
	)
	l := newTestLoop(t, streamer, map[string]Handler{
		"live_odds": func(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
			return "payload", nil
		},
	})
	runLoop(t, l)

	require.Len(t, streamer.histories, 2)
	assert.Empty(t, streamer.histories[0])

	hist := streamer.histories[1]
	require.Len(t, hist, 2, "exactly one model turn and one response turn per round")

	assert.Equal(t, "model", hist[0].Role)
	require.Len(t, hist[0].Parts, 1)
	assert.Equal(t, string(call.FunctionCall.Raw), string(hist[0].Parts[0]), "model part replayed byte-for-byte")

	assert.Equal(t, "user", hist[1].Role)
	require.Len(t, hist[1].Parts, 1)
	var resp struct {
		FunctionResponse struct {
			Name     string `json:"name"`
			Response struct {
				OK      bool `json:"ok"`
				Payload any  `json:"payload"`
			} `json:"response"`
		} `json:"functionResponse"`
	}
	require.NoError(t, json.Unmarshal(hist[1].Parts[0], &resp))
	assert.Equal(t, "live_odds", resp.FunctionResponse.Name)
	assert.True(t, resp.FunctionResponse.Response.OK)
	assert.Equal(t, "payload", resp.FunctionResponse.Response.Payload)
}

func TestLoopDeduplicatesIdenticalCalls(t *testing.T) {
	same := map[string]any{"team": "LAL"}
	reordered := map[string]any{"market": "spread", "team": "BOS"}
	streamer := toolStreamer(
		[]llm.PartEvent{
			callEvent(t, "live_odds", same),
			callEvent(t, "live_odds", same),
			callEvent(t, "live_odds", reordered),
			{Done: true},
		},
		[]llm.PartEvent{{Text: "done"}, {Done: true}},
	)
	var invoked atomic.Int32
	l := newTestLoop(t, streamer, map[string]Handler{
		"live_odds": func(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
			invoked.Add(1)
			return args["team"], nil
		},
	})
	runLoop(t, l)

	assert.Equal(t, int32(2), invoked.Load(), "duplicate calls execute once")

	hist := streamer.histories[1]
	require.Len(t, hist, 2)
	require.Len(t, hist[0].Parts, 3, "every original call replays in the model turn")
	require.Len(t, hist[1].Parts, 3, "one response per original call")
	assert.Equal(t, string(hist[1].Parts[0]), string(hist[1].Parts[1]), "duplicate responses byte-identical")
	assert.NotEqual(t, string(hist[1].Parts[0]), string(hist[1].Parts[2]))
}

func TestLoopStopsAtMaxRounds(t *testing.T) {
	round := []llm.PartEvent{
		{Text: "checking the lines again"},
		callEvent(t, "live_odds", map[string]any{"team": "LAL"}),
		{Done: true},
	}
	streamer := toolStreamer(round, round, round, round)
	var invoked atomic.Int32
	l := newTestLoop(t, streamer, map[string]Handler{
		"live_odds": func(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
			invoked.Add(1)
			return "x", nil
		},
	})

	chunks := runLoop(t, l)
	assert.Len(t, streamer.histories, 4, "hard stop at the round budget")
	assert.Equal(t, int32(3), invoked.Load(), "final round's calls are not executed")
	require.NotEmpty(t, chunks)
	assert.Equal(t, llm.ChunkDone, chunks[len(chunks)-1].Type, "budget exhaustion ends without error")
	for _, c := range chunks {
		assert.NotEqual(t, llm.ChunkText, c.Type, "gated narration stays gated at the forced stop")
	}
}

func TestLoopEmitsGroundingDuringToolRounds(t *testing.T) {
	streamer := toolStreamer(
		[]llm.PartEvent{
			{Grounding: &llm.Grounding{Sources: []llm.GroundingSource{{URL: "https://example.com"}}}},
			callEvent(t, "live_odds", map[string]any{"team": "LAL"}),
			{Done: true},
		},
		[]llm.PartEvent{{Text: "done"}, {Done: true}},
	)
	l := newTestLoop(t, streamer, map[string]Handler{
		"live_odds": func(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
			return "x", nil
		},
	})

	chunks := runLoop(t, l)
	require.NotEmpty(t, chunks)
	assert.Equal(t, llm.ChunkGrounding, chunks[0].Type, "grounding bypasses text gating")
	require.NotNil(t, chunks[0].Grounding)
}

func TestLoopStreamErrorIsTerminal(t *testing.T) {
	streamer := toolStreamer([]llm.PartEvent{
		{Text: "partial"},
		{Err: &llm.ProviderError{Vendor: llm.VendorGemini, Kind: llm.ErrStream, Message: "connection reset"}},
	})
	l := newTestLoop(t, streamer, nil)

	chunks := runLoop(t, l)
	require.Len(t, chunks, 1)
	assert.Equal(t, llm.ChunkError, chunks[0].Type)
	assert.Equal(t, llm.ErrStream, llm.KindOf(chunks[0].Err))
}

func TestLoopRejectsNonToolVendor(t *testing.T) {
	streamer := &fakeStreamer{caps: llm.Capabilities{Streaming: true}}
	l := NewLoop(streamer, NewRegistry(), LoopConfig{}, nil, nil)

	_, err := l.Run(context.Background(), &llm.Request{}, ToolContext{})
	require.Error(t, err)
	assert.Equal(t, llm.ErrUnknown, llm.KindOf(err))
}

func TestLoopStopsWhenDeadlineBufferUnmet(t *testing.T) {
	streamer := toolStreamer()
	l := NewLoop(streamer, NewRegistry(), LoopConfig{
		OverallTimeout: 50 * time.Millisecond,
		DeadlineBuffer: 10 * time.Second,
	}, nil, nil)

	ch, err := l.Run(context.Background(), &llm.Request{}, ToolContext{})
	require.NoError(t, err)
	var chunks []llm.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, llm.ChunkDone, chunks[0].Type)
	assert.Empty(t, streamer.histories, "no round starts without enough runway")
}

func TestLoopCancellationStopsSilently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streamer := toolStreamer([]llm.PartEvent{{Text: "never delivered"}})
	l := newTestLoop(t, streamer, nil)

	ch, err := l.Run(ctx, &llm.Request{}, ToolContext{})
	require.NoError(t, err)
	var chunks []llm.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	assert.Empty(t, chunks, "cancellation closes the stream without chunks")
}

func TestLoopRequestIDGenerated(t *testing.T) {
	var gotID string
	streamer := toolStreamer(
		[]llm.PartEvent{callEvent(t, "live_odds", nil), {Done: true}},
		[]llm.PartEvent{{Text: "done"}, {Done: true}},
	)
	l := newTestLoop(t, streamer, map[string]Handler{
		"live_odds": func(ctx context.Context, args map[string]any, tc ToolContext) (any, error) {
			gotID = tc.RequestID
			return "x", nil
		},
	})
	runLoop(t, l)
	assert.NotEmpty(t, gotID)
}
