package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gtplanner/gtplanner/pkg/httpclient"
	"github.com/gtplanner/gtplanner/pkg/observability"
	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// Config holds the connection settings for an OpenAI-compatible endpoint.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

type OpenAIProvider struct {
	config     Config
	httpClient *httpclient.Client
	stats      *Stats
}

type openAIRequest struct {
	Model             string               `json:"model"`
	Messages          []openAIMessage      `json:"messages"`
	MaxTokens         *int                 `json:"max_tokens,omitempty"`
	Temperature       float64              `json:"temperature"`
	Stream            bool                 `json:"stream"`
	StreamOptions     *openAIStreamOpts    `json:"stream_options,omitempty"`
	Tools             []openAITool         `json:"tools,omitempty"`
	ToolChoice        string               `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool                `json:"parallel_tool_calls,omitempty"`
}

type openAIStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	ToolCalls  []protocol.ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openAIChoiceMessage struct {
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content   string            `json:"content,omitempty"`
	ToolCalls []openAIDeltaCall `json:"tool_calls,omitempty"`
}

type openAIDeltaCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIProvider{
		config:     cfg,
		httpClient: httpClient,
		stats:      NewStats(),
	}
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("gtplanner.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "openai"),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	request := p.buildRequest(messages, false, tools)

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)

	if err != nil {
		p.recordFailure(ctx, span, duration, err)
		return nil, err
	}
	if response.Error != nil {
		apiErr := fmt.Errorf("OpenAI API error: %s", response.Error.Message)
		p.recordFailure(ctx, span, duration, apiErr)
		return nil, apiErr
	}
	if len(response.Choices) == 0 {
		noChoiceErr := fmt.Errorf("no response choices returned")
		p.recordFailure(ctx, span, duration, noChoiceErr)
		return nil, noChoiceErr
	}

	choice := response.Choices[0]
	result := &Response{
		Content:    choice.Message.Content,
		ToolCalls:  choice.Message.ToolCalls,
		TokensUsed: response.Usage.TotalTokens,
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, response.Usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, response.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(result.ToolCalls)),
	)
	span.SetStatus(codes.Ok, "success")

	p.stats.Record(duration, result.TokensUsed, nil)
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)
	}

	return result, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, opts StreamOptions) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true, tools)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		startTime := time.Now()
		tracer := observability.GetTracer("gtplanner.llm")
		ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
			trace.WithAttributes(
				attribute.String(observability.AttrLLMModel, p.config.Model),
				attribute.String("provider", "openai"),
				attribute.Bool("streaming", true),
			),
		)
		defer span.End()

		tokens, err := p.makeStreamingRequest(ctx, request, opts, outputCh)
		duration := time.Since(startTime)
		p.stats.Record(duration, tokens, err)

		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, tokens, err)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			outputCh <- StreamChunk{Type: ChunkTypeError, Error: err}
			return
		}
		span.SetStatus(codes.Ok, "success")
	}()

	return outputCh, nil
}

func (p *OpenAIProvider) recordFailure(ctx context.Context, span trace.Span, duration time.Duration, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	p.stats.Record(duration, 0, err)
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
	}
}

func (p *OpenAIProvider) buildRequest(messages []protocol.Message, stream bool, tools []ToolDefinition) openAIRequest {
	openaiMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMsg := openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == protocol.RoleAssistant && len(msg.ToolCalls) > 0 {
			openaiMsg.ToolCalls = msg.ToolCalls
		}
		if msg.Role == protocol.RoleTool {
			openaiMsg.ToolCallID = msg.ToolCallID
		}
		openaiMessages = append(openaiMessages, openaiMsg)
	}

	temperature := 0.7
	if p.config.Temperature != nil {
		temperature = *p.config.Temperature
	}

	request := openAIRequest{
		Model:       p.config.Model,
		Messages:    openaiMessages,
		Temperature: temperature,
		Stream:      stream,
	}

	if stream {
		request.StreamOptions = &openAIStreamOpts{IncludeUsage: true}
	}
	if p.config.MaxTokens > 0 {
		maxTokens := p.config.MaxTokens
		request.MaxTokens = &maxTokens
	}

	if len(tools) > 0 {
		request.Tools = make([]openAITool, len(tools))
		for i, tool := range tools {
			request.Tools[i] = openAITool{Type: "function", Function: tool}
		}
		request.ToolChoice = "auto"
		parallel := true
		request.ParallelToolCalls = &parallel
	}

	return request
}

func parseErrorResponse(body []byte) *openAIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func (p *OpenAIProvider) newAPIRequest(ctx context.Context, request openAIRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	slog.Debug("LLM request", "model", request.Model, "messages", len(request.Messages), "tools", len(request.Tools), "stream", request.Stream)

	req, err := httpclient.NewRequest(ctx, "POST", p.config.BaseURL+"/chat/completions", requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	return req, nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	req, err := p.newAPIRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			body, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				if apiErr := parseErrorResponse(body); apiErr != nil {
					return nil, fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s): %w",
						resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code, err)
				}
			}
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openAIRequest, opts StreamOptions, outputCh chan<- StreamChunk) (int, error) {
	req, err := p.newAPIRequest(ctx, request)
	if err != nil {
		return 0, err
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			body, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				if apiErr := parseErrorResponse(body); apiErr != nil {
					return 0, fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s): %w",
						resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code, err)
				}
			}
		}
		return 0, err
	}

	var filter *TagFilter
	if opts.FilterToolTags {
		filter = NewTagFilter()
	}

	reader := bufio.NewReader(resp.Body)
	coalescer := newToolCallCoalescer()
	totalTokens := 0
	finished := false

	for !finished {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return totalTokens, fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != nil {
			return totalTokens, fmt.Errorf("API error: %s", streamResp.Error.Message)
		}
		if streamResp.Usage != nil {
			totalTokens = streamResp.Usage.TotalTokens
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]

		if choice.Delta.Content != "" {
			if filter != nil {
				cleaned, synthesized := filter.ProcessChunk(choice.Delta.Content)
				if cleaned != "" {
					outputCh <- StreamChunk{Type: ChunkTypeText, Text: cleaned}
				}
				for i := range synthesized {
					outputCh <- StreamChunk{Type: ChunkTypeToolCall, ToolCall: &synthesized[i]}
				}
			} else {
				outputCh <- StreamChunk{Type: ChunkTypeText, Text: choice.Delta.Content}
			}
		}

		for _, deltaCall := range choice.Delta.ToolCalls {
			coalescer.add(deltaCall)
		}

		if choice.FinishReason == "stop" || choice.FinishReason == "tool_calls" {
			finished = true
		}
	}

	if filter != nil {
		if remainder := filter.Finalize(); remainder != "" {
			outputCh <- StreamChunk{Type: ChunkTypeText, Text: remainder}
		}
	}

	for _, tc := range coalescer.calls() {
		call := tc
		outputCh <- StreamChunk{Type: ChunkTypeToolCall, ToolCall: &call}
	}

	outputCh <- StreamChunk{Type: ChunkTypeDone, Tokens: totalTokens}
	return totalTokens, nil
}

// toolCallCoalescer folds streaming tool-call deltas into complete calls,
// keyed by the delta index: the first fragment carries the id and name,
// later fragments append argument text.
type toolCallCoalescer struct {
	byIndex map[int]*protocol.ToolCall
	order   []int
}

func newToolCallCoalescer() *toolCallCoalescer {
	return &toolCallCoalescer{byIndex: make(map[int]*protocol.ToolCall)}
}

func (c *toolCallCoalescer) add(delta openAIDeltaCall) {
	call, ok := c.byIndex[delta.Index]
	if !ok {
		call = &protocol.ToolCall{Type: "function"}
		c.byIndex[delta.Index] = call
		c.order = append(c.order, delta.Index)
	}

	call.ID += delta.ID
	if delta.Type != "" {
		call.Type = delta.Type
	}
	call.Function.Name += delta.Function.Name
	call.Function.Arguments += delta.Function.Arguments
}

// calls returns completed tool calls in arrival order, skipping fragments
// that never received an id.
func (c *toolCallCoalescer) calls() []protocol.ToolCall {
	result := make([]protocol.ToolCall, 0, len(c.order))
	for _, idx := range c.order {
		if call := c.byIndex[idx]; call.ID != "" {
			result = append(result, *call)
		}
	}
	return result
}
