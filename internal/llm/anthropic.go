package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

const anthropicWebSearchBeta = "web-search-2025-03-05"

// AnthropicProvider implements Provider using the Anthropic API. The system
// prompt never travels in the message array; the SDK carries it in the
// dedicated system field, matching the wire contract.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	log          *logrus.Logger
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Log     *logrus.Logger
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
		log:          log,
	}
}

func (p *AnthropicProvider) Vendor() Vendor { return VendorAnthropic }

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{Grounding: true, Streaming: true}
}

func (p *AnthropicProvider) model(req *Request) anthropic.Model {
	if req.Model != "" {
		return anthropic.Model(req.Model)
	}
	return anthropic.Model(p.defaultModel)
}

func (p *AnthropicProvider) buildParams(req *Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     p.model(req),
		Messages:  p.convertMessages(req),
		MaxTokens: int64(req.MaxTokens),
	}
	system := req.SystemPrompt
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += flattenParts(m)
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.Grounding {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
				MaxUses: anthropic.Int(3),
			},
		}}
	}
	return params
}

func (p *AnthropicProvider) requestOpts(req *Request) []option.RequestOption {
	if req.Grounding {
		return []option.RequestOption{option.WithHeaderAdd("anthropic-beta", anthropicWebSearchBeta)}
	}
	return nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*RawResult, error) {
	resp, err := p.client.Messages.New(ctx, p.buildParams(req), p.requestOpts(req)...)
	if err != nil {
		return nil, wrapVendorErr(VendorAnthropic, err)
	}
	return p.convertResponse(resp), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req), p.requestOpts(req)...)
	ch := make(chan StreamEvent, 64)

	go func() {
		defer close(ch)
		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch e.Delta.Type {
				case "text_delta":
					ch <- StreamEvent{Text: e.Delta.Text}
				case "thinking_delta":
					ch <- StreamEvent{Thought: e.Delta.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				evt := StreamEvent{Done: true}
				if e.Usage.OutputTokens > 0 {
					evt.Usage = &Usage{OutputTokens: int(e.Usage.OutputTokens)}
				}
				ch <- evt
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamEvent{Err: wrapVendorErr(VendorAnthropic, err), Done: true}
		}
	}()

	return ch, nil
}

func (p *AnthropicProvider) convertMessages(req *Request) []anthropic.MessageParam {
	var msgs []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			msgs = append(msgs, anthropic.NewUserMessage(p.convertParts(m)...))
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(flattenParts(m))))
		}
		// system messages go to the dedicated system field
	}
	return msgs
}

func (p *AnthropicProvider) convertParts(m Message) []anthropic.ContentBlockParamUnion {
	if len(m.Parts) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range m.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case "image", "file":
			blocks = append(blocks, anthropic.NewImageBlockBase64(
				part.MIMEType, base64.StdEncoding.EncodeToString(part.Data)))
		}
	}
	return blocks
}

// anthropicWireContent is the slice of the response wire shape needed to
// pull web-search citations without depending on the SDK's per-tool-version
// typed unions.
type anthropicWireContent struct {
	Content []struct {
		Type      string `json:"type"`
		Citations []struct {
			Type  string `json:"type"`
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"citations,omitempty"`
		Content []struct {
			Type  string `json:"type"`
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"content,omitempty"`
	} `json:"content"`
}

func (p *AnthropicProvider) convertResponse(resp *anthropic.Message) *RawResult {
	result := &RawResult{
		StopReason: string(resp.StopReason),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += b.Text
		case anthropic.ThinkingBlock:
			result.Thoughts += b.Thinking
		}
	}

	if g := p.extractGrounding(resp); g != nil {
		result.Grounding = g
	}
	return result
}

func (p *AnthropicProvider) extractGrounding(resp *anthropic.Message) *Grounding {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	var wire anthropicWireContent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}

	var g Grounding
	seen := make(map[string]bool)
	add := func(url, title string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		g.Sources = append(g.Sources, GroundingSource{Title: title, URL: url})
	}
	for _, block := range wire.Content {
		for _, cite := range block.Citations {
			add(cite.URL, cite.Title)
		}
		if block.Type == "web_search_tool_result" {
			for _, res := range block.Content {
				add(res.URL, res.Title)
			}
		}
	}
	if len(g.Sources) == 0 {
		return nil
	}
	return &g
}
