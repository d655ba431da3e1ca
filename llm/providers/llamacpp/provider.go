// =============================================================================
// llama.cpp server Provider
// =============================================================================
// llama-server exposes an OpenAI-compatible /v1/chat/completions endpoint
// plus its own sampling extensions (top_k, min_p, repeat_penalty,
// repeat_last_n) and a /health probe that reports 503 while the model loads.
// =============================================================================

package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/tlsutil"
	"github.com/BaSui01/kyronex/llm"
	"github.com/BaSui01/kyronex/llm/middleware"
	"github.com/BaSui01/kyronex/llm/providers"
	"go.uber.org/zap"
)

const providerName = "llamacpp"

// Config holds the configuration for a llama.cpp server.
type Config struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// APIKey is optional; llama-server only checks it when started with --api-key.
	APIKey string

	// Model is sent as-is; llama-server serves a single loaded model.
	Model string

	// Timeout bounds non-streaming calls and the health probe.
	// Streams are bounded by the request context only.
	Timeout time.Duration

	// MaxTokens and Sampling apply when the request leaves them zero.
	MaxTokens int
	Sampling  llm.Sampling

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string

	// HealthPath defaults to "/health".
	HealthPath string
}

// ConfigFromLLM maps the application LLM section onto a provider Config.
func ConfigFromLLM(c config.LLMConfig) Config {
	return Config{
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		Model:     c.Model,
		Timeout:   c.Timeout,
		MaxTokens: c.MaxTokens,
		Sampling: llm.Sampling{
			Temperature:   float32(c.Temperature),
			TopP:          float32(c.TopP),
			TopK:          c.TopK,
			MinP:          float32(c.MinP),
			RepeatPenalty: float32(c.RepeatPenalty),
			RepeatLastN:   c.RepeatLastN,
		},
	}
}

// Provider talks to a llama.cpp server.
type Provider struct {
	cfg       Config
	client    *http.Client
	stream    *http.Client
	rewriters *middleware.RewriterChain
	logger    *zap.Logger
}

// New creates a llama.cpp provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.Model == "" {
		cfg.Model = "local"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:       cfg,
		client:    tlsutil.LocalHTTPClient(cfg.Timeout),
		stream:    tlsutil.LocalHTTPClient(0),
		rewriters: middleware.NewRewriterChain(middleware.NewRoleAlternation()),
		logger:    logger.With(zap.String("component", "llm_provider"), zap.String("provider", providerName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return providerName }

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

// buildBody merges request sampling with the configured defaults field by field.
func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) providers.CompletionRequest {
	s := req.Sampling
	d := p.cfg.Sampling
	if s.Temperature == 0 {
		s.Temperature = d.Temperature
	}
	if s.TopP == 0 {
		s.TopP = d.TopP
	}
	if s.TopK == 0 {
		s.TopK = d.TopK
	}
	if s.MinP == 0 {
		s.MinP = d.MinP
	}
	if s.RepeatPenalty == 0 {
		s.RepeatPenalty = d.RepeatPenalty
	}
	if s.RepeatLastN == 0 {
		s.RepeatLastN = d.RepeatLastN
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	return providers.CompletionRequest{
		Model:         providers.ChooseModel(req, p.cfg.Model, "local"),
		Messages:      providers.ToWireMessages(req.Messages),
		MaxTokens:     maxTokens,
		Temperature:   s.Temperature,
		TopP:          s.TopP,
		TopK:          s.TopK,
		MinP:          s.MinP,
		RepeatPenalty: s.RepeatPenalty,
		RepeatLastN:   s.RepeatLastN,
		Stop:          req.Stop,
		Stream:        stream,
	}
}

func (p *Provider) newRequest(ctx context.Context, req *llm.ChatRequest, stream bool) (*http.Request, error) {
	req, err := p.rewriters.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "messages must not be empty",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}
	payload, err := json.Marshal(p.buildBody(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// HealthCheck probes /health; llama-server answers 503 until the model is loaded.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.HealthPath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Detail: "unreachable"},
			providers.TransportError(err, providerName)
	}
	defer providers.CloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency, Detail: msg},
			providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &llm.HealthStatus{Healthy: true, Latency: latency, Detail: body.Status}, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, providerName)
	}
	defer providers.CloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	var oaResp providers.CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.TransportError(err, providerName)
	}

	result := &llm.ChatResponse{
		ID:       oaResp.ID,
		Provider: providerName,
		Model:    oaResp.Model,
		Usage:    providers.ToUsage(oaResp.Usage),
	}
	if len(oaResp.Choices) > 0 {
		result.Content = oaResp.Choices[0].Message.Content
		result.FinishReason = oaResp.Choices[0].FinishReason
	}
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return result, nil
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	httpReq, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.stream.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, providerName)
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.CloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	p.logger.Debug("stream opened",
		zap.String("trace_id", req.TraceID),
		zap.Int("messages", len(req.Messages)))
	return StreamSSE(ctx, resp.Body, providerName), nil
}

// StreamSSE reads `data:` records until the `[DONE]` sentinel and forwards
// each choice delta. Read or decode failures end the stream with an Err chunk.
func StreamSSE(ctx context.Context, body io.ReadCloser, name string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					send(llm.StreamChunk{Provider: name, Err: providers.TransportError(err, name)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oaResp providers.CompletionResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				send(llm.StreamChunk{Provider: name, Err: providers.TransportError(err, name)})
				return
			}

			var usage *llm.ChatUsage
			if oaResp.Usage != nil {
				u := providers.ToUsage(oaResp.Usage)
				usage = &u
			}
			for _, choice := range oaResp.Choices {
				chunk := llm.StreamChunk{
					ID:           oaResp.ID,
					Provider:     name,
					Model:        oaResp.Model,
					FinishReason: choice.FinishReason,
					Usage:        usage,
				}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
				}
				if !send(chunk) {
					return
				}
			}
		}
	}()
	return ch
}
