package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the surface the agent loop drives. One call corresponds to one
// model turn over the full conversation so far.
type Client interface {
	GenerateTurn(ctx context.Context, contents []Content) (*ModelTurn, error)
}

// -- Wire structures for the generateContent API --

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
	Parts    []Part         `json:"parts,omitempty"`
}

type computerUseTool struct {
	Environment                 string   `json:"environment"`
	ExcludedPredefinedFunctions []string `json:"excluded_predefined_functions,omitempty"`
}

type toolDeclaration struct {
	ComputerUse *computerUseTool `json:"computer_use,omitempty"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type requestPayload struct {
	Contents         []Content         `json:"contents"`
	Tools            []toolDeclaration `json:"tools"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type responsePayload struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ModelTurn is one model response: the content to append to the conversation
// plus the finish reason reported by the API.
type ModelTurn struct {
	Content      Content
	FinishReason string
}

// FunctionCalls returns the proposed actions of the turn in order.
func (t *ModelTurn) FunctionCalls() []*FunctionCall {
	var calls []*FunctionCall
	for i := range t.Content.Parts {
		if fc := t.Content.Parts[i].FunctionCall; fc != nil {
			calls = append(calls, fc)
		}
	}
	return calls
}

// Text concatenates the textual parts of the turn.
func (t *ModelTurn) Text() string {
	var out string
	for _, part := range t.Content.Parts {
		if part.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += part.Text
		}
	}
	return out
}

// UserText builds the user content that seeds a conversation.
func UserText(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}

// ScreenshotPart wraps PNG bytes as inline image data.
func ScreenshotPart(png []byte) Part {
	return Part{InlineData: &Blob{
		MIMEType: "image/png",
		Data:     base64.StdEncoding.EncodeToString(png),
	}}
}

// FunctionResponsePart builds the response to a single executed (or skipped)
// function call. The screenshot, when present, rides along as an inline part
// so the model sees the post-action page state.
func FunctionResponsePart(name string, response map[string]any, screenshot []byte) Part {
	fr := &FunctionResponse{Name: name, Response: response}
	if len(screenshot) > 0 {
		fr.Parts = []Part{ScreenshotPart(screenshot)}
	}
	return Part{FunctionResponse: fr}
}

// FunctionResponses bundles the per-action responses of a turn into the user
// content that answers the model's proposals.
func FunctionResponses(parts []Part) Content {
	return Content{Role: "user", Parts: parts}
}

// ComputerUseClient talks to the Gemini computer-use API over its REST
// surface, with retry on transient failures and client-side rate limiting.
type ComputerUseClient struct {
	apiKey         string
	endpoint       string
	httpClient     *http.Client
	limiter        *rate.Limiter
	logger         *zap.Logger
	config         config.LLMModelConfig
	excluded       []string
	backoffFactory func() backoff.BackOff
}

var _ Client = (*ComputerUseClient)(nil)

// NewComputerUseClient initializes the client from agent configuration.
func NewComputerUseClient(cfg config.AgentConfig, logger *zap.Logger) (*ComputerUseClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpoint := cfg.LLM.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.LLM.Model)
	}

	var limiter *rate.Limiter
	if cfg.LLM.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerMinute/60.0), 1)
	}

	return &ComputerUseClient{
		apiKey:   cfg.LLM.APIKey,
		endpoint: endpoint,
		config:   cfg.LLM,
		excluded: cfg.ExcludedActions,
		httpClient: &http.Client{
			Timeout: cfg.LLM.APITimeout,
		},
		limiter: limiter,
		logger:  logger.Named("llm_client.computer_use"),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// GenerateTurn sends the conversation and returns the model's next turn.
// Transient failures (network errors, 429, 5xx) are retried with exponential
// backoff; everything else fails fast.
func (c *ComputerUseClient) GenerateTurn(ctx context.Context, contents []Content) (*ModelTurn, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
		}
	}

	payload := c.buildRequestPayload(contents)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := c.backoffFactory()

	var turn *ModelTurn

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var response responsePayload
		if err := json.Unmarshal(respBody, &response); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(response.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("model returned no candidates"))
		}

		candidate := response.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			switch candidate.FinishReason {
			case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
				return backoff.Permanent(fmt.Errorf("model blocked the request (reason: %s)", candidate.FinishReason))
			}
		}

		c.logger.Info("Model turn complete",
			zap.Duration("duration", duration),
			zap.String("finish_reason", candidate.FinishReason),
			zap.Int("prompt_tokens", response.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", response.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", response.UsageMetadata.TotalTokenCount),
		)

		turn = &ModelTurn{
			Content:      candidate.Content,
			FinishReason: candidate.FinishReason,
		}
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	return turn, nil
}

func (c *ComputerUseClient) buildRequestPayload(contents []Content) requestPayload {
	payload := requestPayload{
		Contents: contents,
		Tools: []toolDeclaration{
			{
				ComputerUse: &computerUseTool{
					Environment:                 "ENVIRONMENT_BROWSER",
					ExcludedPredefinedFunctions: c.excluded,
				},
			},
		},
	}

	if c.config.Temperature > 0 || c.config.MaxTokens > 0 {
		payload.GenerationConfig = &generationConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxTokens,
		}
	}
	return payload
}

func (c *ComputerUseClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Model API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("model API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}
