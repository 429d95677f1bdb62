package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider using the OpenAI API. Chat and
// streaming go through the SDK; web-grounded requests go to the responses
// endpoint, which is spoken raw because its tool union types are not stable
// across SDK minors while the wire shape is.
type OpenAIProvider struct {
	client       openai.Client
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	defaultModel string
	log          *logrus.Logger
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Log     *logrus.Logger
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	} else {
		opts = append(opts, option.WithBaseURL(base))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(base, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		defaultModel: model,
		log:          log,
	}
}

func (p *OpenAIProvider) Vendor() Vendor { return VendorOpenAI }

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{Grounding: true, Streaming: true}
}

func (p *OpenAIProvider) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) Chat(ctx context.Context, req *Request) (*RawResult, error) {
	if req.Grounding {
		return p.chatWithSearch(ctx, req)
	}

	params := openai.ChatCompletionNewParams{
		Model:    p.model(req),
		Messages: p.convertMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapVendorErr(VendorOpenAI, err)
	}

	result := &RawResult{
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
		result.StopReason = string(resp.Choices[0].FinishReason)
	}
	return result, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.model(req),
		Messages: p.convertMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan StreamEvent, 64)

	go func() {
		defer close(ch)
		for stream.Next() {
			chunk := stream.Current()
			evt := StreamEvent{}
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				evt.Text = delta.Content
				if chunk.Choices[0].FinishReason != "" {
					evt.Done = true
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				evt.Usage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			ch <- evt
		}
		if err := stream.Err(); err != nil {
			ch <- StreamEvent{Err: wrapVendorErr(VendorOpenAI, err), Done: true}
		}
	}()

	return ch, nil
}

func (p *OpenAIProvider) convertMessages(req *Request) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(flattenParts(m)))
		case "user":
			if hasBinaryParts(m) {
				msgs = append(msgs, openai.UserMessage(convertUserParts(m)))
			} else {
				msgs = append(msgs, openai.UserMessage(flattenParts(m)))
			}
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(flattenParts(m)))
		}
	}
	return msgs
}

func hasBinaryParts(m Message) bool {
	for _, part := range m.Parts {
		if part.Type == "image" || part.Type == "file" {
			return true
		}
	}
	return false
}

// flattenParts joins the text parts of a message; Content wins when no
// parts are present.
func flattenParts(m Message) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, part := range m.Parts {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func convertUserParts(m Message) []openai.ChatCompletionContentPartUnionParam {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, part := range m.Parts {
		switch part.Type {
		case "text":
			parts = append(parts, openai.TextContentPart(part.Text))
		case "image", "file":
			dataURL := fmt.Sprintf("data:%s;base64,%s",
				part.MIMEType, base64.StdEncoding.EncodeToString(part.Data))
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL,
			}))
		}
	}
	return parts
}

// Responses endpoint wire shapes (web search).

type openaiResponsesRequest struct {
	Model           string                  `json:"model"`
	Input           []openaiResponsesInput  `json:"input"`
	Instructions    string                  `json:"instructions,omitempty"`
	Temperature     *float64                `json:"temperature,omitempty"`
	MaxOutputTokens int                     `json:"max_output_tokens,omitempty"`
	Tools           []map[string]string     `json:"tools,omitempty"`
}

type openaiResponsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type        string `json:"type"`
			Text        string `json:"text,omitempty"`
			Annotations []struct {
				Type  string `json:"type"`
				URL   string `json:"url,omitempty"`
				Title string `json:"title,omitempty"`
			} `json:"annotations,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// chatWithSearch issues a web-grounded request through /v1/responses with
// the web_search tool and maps url_citation annotations to grounding
// sources.
func (p *OpenAIProvider) chatWithSearch(ctx context.Context, req *Request) (*RawResult, error) {
	oreq := openaiResponsesRequest{
		Model:           p.model(req),
		Instructions:    req.SystemPrompt,
		MaxOutputTokens: req.MaxTokens,
		Tools:           []map[string]string{{"type": "web_search"}},
	}
	if req.Temperature > 0 {
		t := req.Temperature
		oreq.Temperature = &t
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "system" {
			if oreq.Instructions != "" {
				oreq.Instructions += "\n\n"
			}
			oreq.Instructions += flattenParts(m)
			continue
		}
		oreq.Input = append(oreq.Input, openaiResponsesInput{Role: role, Content: flattenParts(m)})
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, &ProviderError{Vendor: VendorOpenAI, Kind: ErrUnknown, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Vendor: VendorOpenAI, Kind: ErrUnknown, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if IsCanceled(err) {
			return nil, err
		}
		return nil, &ProviderError{Vendor: VendorOpenAI, Kind: ErrServer, Message: "http call failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, &ProviderError{
			Vendor:  VendorOpenAI,
			Kind:    classifyStatus(resp.StatusCode),
			Message: fmt.Sprintf("responses http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	var oresp openaiResponsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&oresp); err != nil {
		return nil, &ProviderError{Vendor: VendorOpenAI, Kind: ErrServer, Message: "decode response", Err: err}
	}
	if oresp.Error != nil {
		return nil, &ProviderError{Vendor: VendorOpenAI, Kind: ErrServer, Message: oresp.Error.Message}
	}

	result := &RawResult{}
	var grounding Grounding
	for _, out := range oresp.Output {
		if out.Type != "message" {
			continue
		}
		for _, content := range out.Content {
			if content.Type != "output_text" {
				continue
			}
			result.Content += content.Text
			for _, ann := range content.Annotations {
				if ann.Type == "url_citation" {
					grounding.Sources = append(grounding.Sources, GroundingSource{Title: ann.Title, URL: ann.URL})
				}
			}
		}
	}
	if len(grounding.Sources) > 0 {
		result.Grounding = &grounding
	}
	if oresp.Usage != nil {
		result.Usage = Usage{InputTokens: oresp.Usage.InputTokens, OutputTokens: oresp.Usage.OutputTokens}
	} else {
		result.Usage = Usage{OutputTokens: EstimateTokens(result.Content)}
	}
	return result, nil
}
