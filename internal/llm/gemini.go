package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider and ToolStreamer against the Gemini
// generate/streamGenerate endpoints. The wire format is spoken directly so
// response parts can be captured and replayed byte-for-byte; thought
// signatures and other vendor-private part metadata survive only that way.
type GeminiProvider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
	log          *logrus.Logger
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Log     *logrus.Logger
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GeminiProvider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(base, "/"),
		client:       &http.Client{Timeout: timeout},
		defaultModel: model,
		log:          log,
	}
}

func (p *GeminiProvider) Vendor() Vendor { return VendorGemini }

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{Grounding: true, Streaming: true, FunctionCalling: true}
}

// Wire format structures.

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
}

// geminiContent keeps parts as raw JSON in both directions; outbound parts
// we build ourselves, inbound parts may carry fields we must not reshape.
type geminiContent struct {
	Role  string            `json:"role,omitempty"`
	Parts []json.RawMessage `json:"parts"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// geminiTool carries function declarations and built-in search in one
// object. codeExecution is mutually exclusive with functionDeclarations and
// is therefore never set when declarations are present.
type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}            `json:"googleSearch,omitempty"`
	CodeExecution        *struct{}            `json:"codeExecution,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig *geminiFunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type geminiFunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"` // AUTO, ANY, NONE
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *geminiUsageMetadata  `json:"usageMetadata,omitempty"`
	Error          *geminiAPIError       `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content           *geminiContent           `json:"content,omitempty"`
	FinishReason      string                   `json:"finishReason,omitempty"`
	GroundingMetadata *geminiGroundingMetadata `json:"groundingMetadata,omitempty"`
}

type geminiGroundingMetadata struct {
	GroundingChunks []struct {
		Web *struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"web,omitempty"`
	} `json:"groundingChunks,omitempty"`
	WebSearchQueries []string `json:"webSearchQueries,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// geminiPart is the probe shape used to classify an inbound raw part. The
// raw bytes stay authoritative; this never round-trips back to the wire.
type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	Thought      bool                `json:"thought,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func textPart(text string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"text": text})
	return b
}

func inlineDataPart(mimeType string, data []byte) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"inlineData": map[string]string{
			"mimeType": mimeType,
			"data":     base64.StdEncoding.EncodeToString(data),
		},
	})
	return b
}

func (p *GeminiProvider) buildRequest(req *Request, tools []ToolDeclaration) *geminiRequest {
	greq := &geminiRequest{}

	system := req.SystemPrompt
	for _, m := range req.Messages {
		if m.Role == "system" {
			// system turns do not exist on this wire; fold into the
			// systemInstruction field
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}
		if len(m.Parts) > 0 {
			for _, part := range m.Parts {
				switch part.Type {
				case "text":
					content.Parts = append(content.Parts, textPart(part.Text))
				case "image", "file":
					content.Parts = append(content.Parts, inlineDataPart(part.MIMEType, part.Data))
				}
			}
		} else {
			content.Parts = append(content.Parts, textPart(m.Content))
		}
		greq.Contents = append(greq.Contents, content)
	}

	// Opaque history turns are appended verbatim.
	for _, turn := range req.History {
		greq.Contents = append(greq.Contents, geminiContent{Role: turn.Role, Parts: turn.Parts})
	}

	if system != "" {
		greq.SystemInstruction = &geminiContent{Parts: []json.RawMessage{textPart(system)}}
	}

	gc := &geminiGenConfig{MaxOutputTokens: req.MaxTokens}
	if req.Temperature > 0 {
		t := req.Temperature
		gc.Temperature = &t
	}
	greq.GenerationConfig = gc

	var tool geminiTool
	hasTool := false
	if len(tools) > 0 {
		for _, t := range tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		hasTool = true
	}
	if req.Grounding {
		tool.GoogleSearch = &struct{}{}
		hasTool = true
	}
	if hasTool {
		greq.Tools = []geminiTool{tool}
	}

	return greq
}

func (p *GeminiProvider) post(ctx context.Context, model, method string, greq *geminiRequest, sse bool) (*http.Response, error) {
	body, err := json.Marshal(greq)
	if err != nil {
		return nil, &ProviderError{Vendor: VendorGemini, Kind: ErrUnknown, Message: "encode request", Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, model, method)
	if sse {
		url += "?alt=sse"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Vendor: VendorGemini, Kind: ErrUnknown, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if IsCanceled(err) {
			return nil, err
		}
		kind := ErrServer
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			kind = ErrTimeout
		}
		return nil, &ProviderError{Vendor: VendorGemini, Kind: kind, Message: "http call failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		kind := classifyStatus(resp.StatusCode)
		var envelope geminiResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			if strings.Contains(strings.ToUpper(envelope.Error.Message+envelope.Error.Status), "SAFETY") {
				kind = ErrSafetyBlock
			}
			return nil, &ProviderError{
				Vendor:  VendorGemini,
				Kind:    kind,
				Message: fmt.Sprintf("api error %d: %s", envelope.Error.Code, envelope.Error.Message),
			}
		}
		return nil, &ProviderError{
			Vendor:  VendorGemini,
			Kind:    kind,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}
	return resp, nil
}

func groundingFrom(meta *geminiGroundingMetadata) *Grounding {
	if meta == nil {
		return nil
	}
	g := &Grounding{Queries: meta.WebSearchQueries}
	for _, c := range meta.GroundingChunks {
		if c.Web != nil {
			g.Sources = append(g.Sources, GroundingSource{Title: c.Web.Title, URL: c.Web.URI})
		}
	}
	if len(g.Sources) == 0 && len(g.Queries) == 0 {
		return nil
	}
	return g
}

func (p *GeminiProvider) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *GeminiProvider) Chat(ctx context.Context, req *Request) (*RawResult, error) {
	resp, err := p.post(ctx, p.model(req), "generateContent", p.buildRequest(req, nil), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var gresp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gresp); err != nil {
		return nil, &ProviderError{Vendor: VendorGemini, Kind: ErrServer, Message: "decode response", Err: err}
	}
	return p.convertResponse(&gresp)
}

func (p *GeminiProvider) convertResponse(gresp *geminiResponse) (*RawResult, error) {
	if gresp.PromptFeedback != nil && gresp.PromptFeedback.BlockReason != "" {
		return nil, &ProviderError{
			Vendor:  VendorGemini,
			Kind:    ErrSafetyBlock,
			Message: "prompt blocked: " + gresp.PromptFeedback.BlockReason,
		}
	}
	if len(gresp.Candidates) == 0 {
		return nil, &ProviderError{Vendor: VendorGemini, Kind: ErrServer, Message: "empty candidate list"}
	}

	cand := gresp.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		return nil, &ProviderError{Vendor: VendorGemini, Kind: ErrSafetyBlock, Message: "candidate blocked by safety filter"}
	}

	result := &RawResult{StopReason: cand.FinishReason, Grounding: groundingFrom(cand.GroundingMetadata)}
	if cand.Content != nil {
		for _, raw := range cand.Content.Parts {
			var part geminiPart
			if err := json.Unmarshal(raw, &part); err != nil {
				continue
			}
			if part.Thought {
				result.Thoughts += part.Text
			} else {
				result.Content += part.Text
			}
		}
	}
	if gresp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  gresp.UsageMetadata.PromptTokenCount,
			OutputTokens: gresp.UsageMetadata.CandidatesTokenCount,
		}
	} else {
		result.Usage = Usage{OutputTokens: EstimateTokens(result.Content + result.Thoughts)}
	}
	return result, nil
}

// scanSSE reads newline-delimited "data: {...}" frames from body, buffering
// until a full line is available, and invokes emit per decoded payload. A
// line that fails to parse is dropped with a diagnostic log; the stream
// continues.
func (p *GeminiProvider) scanSSE(body io.Reader, emit func(*geminiResponse)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var gresp geminiResponse
		if err := json.Unmarshal([]byte(payload), &gresp); err != nil {
			p.log.WithError(err).WithField("vendor", VendorGemini).
				Debug("dropping malformed stream payload")
			continue
		}
		emit(&gresp)
	}
	return scanner.Err()
}

func (p *GeminiProvider) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	resp, err := p.post(ctx, p.model(req), "streamGenerateContent", p.buildRequest(req, nil), true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var usage *Usage
		err := p.scanSSE(resp.Body, func(gresp *geminiResponse) {
			if gresp.UsageMetadata != nil {
				usage = &Usage{
					InputTokens:  gresp.UsageMetadata.PromptTokenCount,
					OutputTokens: gresp.UsageMetadata.CandidatesTokenCount,
				}
			}
			for _, cand := range gresp.Candidates {
				if g := groundingFrom(cand.GroundingMetadata); g != nil {
					ch <- StreamEvent{Grounding: g}
				}
				if cand.Content == nil {
					continue
				}
				for _, raw := range cand.Content.Parts {
					var part geminiPart
					if json.Unmarshal(raw, &part) != nil || part.Text == "" {
						continue
					}
					if part.Thought {
						ch <- StreamEvent{Thought: part.Text}
					} else {
						ch <- StreamEvent{Text: part.Text}
					}
				}
			}
		})
		if err != nil {
			ch <- StreamEvent{Err: &ProviderError{Vendor: VendorGemini, Kind: ErrStream, Message: "stream read failed", Err: err}, Done: true}
			return
		}
		ch <- StreamEvent{Usage: usage, Done: true}
	}()
	return ch, nil
}

// StreamWithTools streams raw parts with tool declarations attached. Each
// function-call part keeps its wire bytes so the loop can replay them
// unmodified into history.
func (p *GeminiProvider) StreamWithTools(ctx context.Context, req *Request, tools []ToolDeclaration) (<-chan PartEvent, error) {
	resp, err := p.post(ctx, p.model(req), "streamGenerateContent", p.buildRequest(req, tools), true)
	if err != nil {
		return nil, err
	}

	ch := make(chan PartEvent, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var usage *Usage
		err := p.scanSSE(resp.Body, func(gresp *geminiResponse) {
			if gresp.UsageMetadata != nil {
				usage = &Usage{
					InputTokens:  gresp.UsageMetadata.PromptTokenCount,
					OutputTokens: gresp.UsageMetadata.CandidatesTokenCount,
				}
			}
			for _, cand := range gresp.Candidates {
				if g := groundingFrom(cand.GroundingMetadata); g != nil {
					ch <- PartEvent{Grounding: g}
				}
				if cand.Content == nil {
					continue
				}
				for _, raw := range cand.Content.Parts {
					var part geminiPart
					if err := json.Unmarshal(raw, &part); err != nil {
						p.log.WithError(err).Debug("dropping unparseable part")
						continue
					}
					switch {
					case part.FunctionCall != nil:
						ch <- PartEvent{FunctionCall: &FunctionCall{
							Name: part.FunctionCall.Name,
							Args: part.FunctionCall.Args,
							Raw:  append(json.RawMessage(nil), raw...),
						}}
					case part.Text != "":
						ch <- PartEvent{Text: part.Text, Thought: part.Thought}
					}
				}
			}
		})
		if err != nil {
			ch <- PartEvent{Err: &ProviderError{Vendor: VendorGemini, Kind: ErrStream, Message: "stream read failed", Err: err}, Done: true}
			return
		}
		ch <- PartEvent{Usage: usage, Done: true}
	}()
	return ch, nil
}
