package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// -- Test Setup Helpers --

func getValidAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		LLM: config.LLMModelConfig{
			Provider:   config.ProviderGemini,
			Model:      "gemini-2.5-computer-use-preview-10-2025",
			APIKey:     "test-api-key",
			APITimeout: 30 * time.Second,
		},
		MaxTurns:        10,
		ExcludedActions: []string{"drag_and_drop"},
	}
}

// setupClient rigs up a ComputerUseClient pointed at a mock HTTP server.
// It returns the client, the mock server, and a log observer.
func setupClient(t *testing.T, handler http.HandlerFunc) (*ComputerUseClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	logger := zap.New(loggerCore)

	cfg := getValidAgentConfig()
	cfg.LLM.Endpoint = server.URL

	client, err := NewComputerUseClient(cfg, logger)
	require.NoError(t, err, "NewComputerUseClient initialization failed")

	client.httpClient.Timeout = 5 * time.Second

	t.Cleanup(server.Close)
	return client, server, observedLogs
}

func testConversation() []Content {
	return []Content{UserText("Search for golang on the web.")}
}

func writeTurnResponse(w http.ResponseWriter, content Content, finishReason string) {
	payload := responsePayload{}
	payload.Candidates = append(payload.Candidates, struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	}{Content: content, FinishReason: finishReason})
	payload.UsageMetadata.PromptTokenCount = 100
	payload.UsageMetadata.CandidatesTokenCount = 50
	payload.UsageMetadata.TotalTokenCount = 150
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body, _ := json.Marshal(payload)
	w.Write(body)
}

// -- Initialization --

func TestNewComputerUseClient_Success(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := getValidAgentConfig()

	client, err := NewComputerUseClient(cfg, logger)

	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, cfg.LLM.APIKey, client.apiKey)
	assert.Equal(t, cfg.LLM.APITimeout, client.httpClient.Timeout)
	expectedEndpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.LLM.Model)
	assert.Equal(t, expectedEndpoint, client.endpoint)
	assert.NotNil(t, client.backoffFactory, "Backoff factory should be initialized")
}

func TestNewComputerUseClient_Failure_MissingAPIKey(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := getValidAgentConfig()
	cfg.LLM.APIKey = ""

	client, err := NewComputerUseClient(cfg, logger)

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestNewClient_UnknownProvider(t *testing.T) {
	cfg := getValidAgentConfig()
	cfg.LLM.Provider = "openai"

	client, err := NewClient(cfg, zaptest.NewLogger(t))

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider")
}

// -- Request Payload --

func TestBuildRequestPayload_ToolDeclaration(t *testing.T) {
	client, _, _ := setupClient(t, nil)
	client.config.Temperature = 0.5
	client.config.MaxTokens = 2048

	payload := client.buildRequestPayload(testConversation())

	require.Len(t, payload.Contents, 1)
	assert.Equal(t, "user", payload.Contents[0].Role)

	require.Len(t, payload.Tools, 1)
	require.NotNil(t, payload.Tools[0].ComputerUse)
	assert.Equal(t, "ENVIRONMENT_BROWSER", payload.Tools[0].ComputerUse.Environment)
	assert.Equal(t, []string{"drag_and_drop"}, payload.Tools[0].ComputerUse.ExcludedPredefinedFunctions)

	require.NotNil(t, payload.GenerationConfig)
	assert.Equal(t, float32(0.5), payload.GenerationConfig.Temperature)
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
}

// -- GenerateTurn: success --

func TestGenerateTurn_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload requestPayload
		err := json.Unmarshal(body, &payload)
		require.NoError(t, err, "Server received invalid JSON payload")
		require.Len(t, payload.Tools, 1)
		assert.Equal(t, "ENVIRONMENT_BROWSER", payload.Tools[0].ComputerUse.Environment)

		writeTurnResponse(w, Content{
			Role: "model",
			Parts: []Part{
				{Text: "I will click the search box."},
				{FunctionCall: &FunctionCall{
					Name: "click_at",
					Args: map[string]any{"x": float64(500), "y": float64(500)},
				}},
			},
		}, "STOP")
	}

	client, _, observedLogs := setupClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), testConversation())

	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, "STOP", turn.FinishReason)
	assert.Equal(t, "I will click the search box.", turn.Text())

	calls := turn.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "click_at", calls[0].Name)
	assert.Equal(t, float64(500), calls[0].Args["x"])

	require.Equal(t, 1, observedLogs.Len(), "Expected one log entry for the completed turn")
	logEntry := observedLogs.All()[0]
	assert.Equal(t, "Model turn complete", logEntry.Message)
	assert.Equal(t, int64(100), logEntry.ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(50), logEntry.ContextMap()["completion_tokens"])
}

// -- GenerateTurn: error handling and retries --

func TestGenerateTurn_RetryOnTransientErrors(t *testing.T) {
	var attemptCounter int32
	expectedAttempts := 3

	handler := func(w http.ResponseWriter, r *http.Request) {
		attempt := atomic.AddInt32(&attemptCounter, 1)
		if int(attempt) < expectedAttempts {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service temporarily unavailable."))
			return
		}
		writeTurnResponse(w, Content{
			Role:  "model",
			Parts: []Part{{Text: "Success after retry"}},
		}, "STOP")
	}

	client, _, observedLogs := setupClient(t, handler)
	client.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 10 * time.Millisecond
		b.MaxElapsedTime = 5 * time.Second
		return b
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	turn, err := client.GenerateTurn(ctx, testConversation())

	require.NoError(t, err)
	assert.Equal(t, "Success after retry", turn.Text())
	assert.Equal(t, int32(expectedAttempts), atomic.LoadInt32(&attemptCounter))

	errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
	assert.Equal(t, expectedAttempts-1, errorLogs.Len(), "Expected ERROR logs for the failed attempts")
}

func TestGenerateTurn_RetryOnNetworkError(t *testing.T) {
	client, server, observedLogs := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler reached despite server being closed.")
	})
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}

	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := client.GenerateTurn(ctx, testConversation())

	assert.Error(t, err)

	var permanentErr *backoff.PermanentError
	assert.False(t, errors.As(err, &permanentErr), "Network errors should be treated as transient and retried")

	warnLogs := observedLogs.FilterLevelExact(zap.WarnLevel)
	assert.Greater(t, warnLogs.Len(), 1, "Expected multiple WARN logs for network errors indicating retries")
	assert.Contains(t, warnLogs.All()[0].Message, "Network error during model request, retrying...")
}

func TestGenerateTurn_NoRetryOnPermanentErrors(t *testing.T) {
	var attemptCounter int32
	errorBody := "API Key Invalid"

	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(errorBody))
	}

	client, _, observedLogs := setupClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), testConversation())

	assert.Error(t, err)
	assert.Nil(t, turn)
	assert.Contains(t, err.Error(), "model API error: status 403")

	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Permanent errors must not trigger retries")

	errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
	require.Equal(t, 1, errorLogs.Len())
	logEntry := errorLogs.All()[0]
	assert.Equal(t, "Model API returned error status", logEntry.Message)
	assert.Equal(t, int64(403), logEntry.ContextMap()["status"])
	assert.Contains(t, logEntry.ContextMap()["response"], errorBody)
}

func TestGenerateTurn_Failure_SafetyBlock(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		writeTurnResponse(w, Content{Role: "model"}, "SAFETY")
	}

	client, _, _ := setupClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), testConversation())

	assert.Error(t, err)
	assert.Nil(t, turn)
	assert.Contains(t, err.Error(), "model blocked the request (reason: SAFETY)")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Safety blocks must not trigger retries")
}

func TestGenerateTurn_EmptyContentNonBlockReason(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		writeTurnResponse(w, Content{Role: "model"}, "STOP")
	}

	client, _, _ := setupClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), testConversation())

	// An empty but unblocked turn is the model's way of finishing; it is
	// surfaced to the caller, not an error.
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Empty(t, turn.FunctionCalls())
	assert.Empty(t, turn.Text())
}

func TestGenerateTurn_Failure_NoCandidates(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"candidates": []}`))
	}

	client, _, _ := setupClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), testConversation())

	assert.Error(t, err)
	assert.Nil(t, turn)
	assert.Contains(t, err.Error(), "model returned no candidates")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))
}

func TestGenerateTurn_Failure_InvalidJSONResponse(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{invalid json:"))
	}

	client, _, _ := setupClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), testConversation())

	assert.Error(t, err)
	assert.Nil(t, turn)
	assert.Contains(t, err.Error(), "failed to decode response payload")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))
}

func TestGenerateTurn_ContextCancellation(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	client, _, _ := setupClient(t, handler)
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	startTime := time.Now()
	turn, err := client.GenerateTurn(ctx, testConversation())
	duration := time.Since(startTime)

	assert.Error(t, err)
	assert.Nil(t, turn)
	assert.True(t, errors.Is(err, context.Canceled), "Error should be context.Canceled, but got: %v", err)
	assert.Less(t, duration, 1*time.Second, "Operation should abort quickly upon cancellation")
}

// -- Conversation part constructors --

func TestFunctionResponsePart(t *testing.T) {
	part := FunctionResponsePart("click_at", map[string]any{"url": "https://example.com"}, []byte{0x89, 0x50, 0x4e, 0x47})

	require.NotNil(t, part.FunctionResponse)
	assert.Equal(t, "click_at", part.FunctionResponse.Name)
	assert.Equal(t, "https://example.com", part.FunctionResponse.Response["url"])
	require.Len(t, part.FunctionResponse.Parts, 1)
	require.NotNil(t, part.FunctionResponse.Parts[0].InlineData)
	assert.Equal(t, "image/png", part.FunctionResponse.Parts[0].InlineData.MIMEType)
	assert.Equal(t, "iVBORw==", part.FunctionResponse.Parts[0].InlineData.Data)
}

func TestFunctionResponsePart_NoScreenshot(t *testing.T) {
	part := FunctionResponsePart("navigate", map[string]any{"error": "timeout"}, nil)

	require.NotNil(t, part.FunctionResponse)
	assert.Empty(t, part.FunctionResponse.Parts)
}
