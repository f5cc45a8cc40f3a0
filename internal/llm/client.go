package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/internal/ratelimit"
	"github.com/opencoder/swarm/internal/tokens"
	"github.com/opencoder/swarm/pkg/models"
)

// statusError wraps a non-2xx chat-completions response so callers can
// classify it by status code instead of parsing the error string.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat completions: status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether err belongs to the transient transport class
// worth retrying: HTTP 429, any 5xx, or any error that carries no status
// code at all (a failed connection, or a response body that could not be
// read or decoded). A 4xx
// other than 429 (bad request, bad model name, auth failure) is terminal
// and propagates immediately instead of burning the retry budget on a
// request that will fail identically every time.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// ExtraRetries is the number of additional attempts made after an
// initial failed call
const ExtraRetries = 3

// backoffBase and backoffJitterMax implement the retry formula:
// 1000ms×2^attempt + jitter in [0, 500ms).
const (
	backoffBase      = time.Second
	backoffJitterMax = 500 * time.Millisecond
)

// CredentialSource resolves a bearer token to attach to outgoing requests.
// The default reads a static key; WithAWSCredentials mints one from AWS
// SDK credentials instead, mirroring the analogous Bedrock auth path
// (internal/api/client.go's config.LoadDefaultConfig) adapted to produce a
// bearer token rather than sign an Anthropic-native request.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// staticKey is a CredentialSource that always returns the same key.
type staticKey string

func (k staticKey) Token(context.Context) (string, error) { return string(k), nil }

// NewStaticCredentialSource builds a CredentialSource that always presents
// the same bearer token, for the common case of a single configured API
// key.
func NewStaticCredentialSource(apiKey string) CredentialSource {
	return staticKey(apiKey)
}

// awsCredentialSource mints a bearer token from rotated AWS credentials,
// for deployments that front the OpenAI-compatible endpoint with
// AWS-issued short-lived credentials instead of a static API key.
type awsCredentialSource struct {
	region  string
	profile string
}

// NewAWSCredentialSource builds a CredentialSource backed by the AWS SDK's
// default credential chain (env vars, shared config, SSO, instance role).
func NewAWSCredentialSource(region, profile string) CredentialSource {
	return &awsCredentialSource{region: region, profile: profile}
}

func (a *awsCredentialSource) Token(ctx context.Context) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if a.region != "" {
		opts = append(opts, awsconfig.WithRegion(a.region))
	}
	if a.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(a.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve aws credentials: %w", err)
	}
	return creds.AccessKeyID + ":" + creds.SecretAccessKey, nil
}

// CallConfig selects the model, endpoint, and credentials for one call,
// resolved dynamically rather than fixed at Client construction: model,
// base URL, and credentials can all change between calls on the same
// Client (a config hot-reload, or a rotated credential).
type CallConfig struct {
	Model      string
	BaseURL    string
	Credential CredentialSource
}

// Client is the OpenAI-compatible chat-completions transport shared by the
// orchestrator and every worker.
type Client struct {
	http *http.Client

	limiter    *ratelimit.Limiter
	accountant *tokens.Accountant
	bus        *eventbus.Bus

	// defaults backs internal calls the rest of the engine makes through
	// this client (context summarization) that don't carry their own
	// per-call CallConfig.
	defaults CallConfig
}

// New creates a transport sharing one rate limiter and token accountant
// across every call it makes. defaults configures the model/base
// URL/credentials used for the client's own internal calls (context
// summarization); callers pass their own CallConfig to Complete and
// CompleteStream for everything else.
func New(limiter *ratelimit.Limiter, accountant *tokens.Accountant, bus *eventbus.Bus, defaults CallConfig) *Client {
	return &Client{
		http:       &http.Client{Timeout: 2 * time.Minute},
		limiter:    limiter,
		accountant: accountant,
		bus:        bus,
		defaults:   defaults,
	}
}

// ToolCatalog describes the tools available to the model for one call, in
// the {name, description, parameters-schema} shape a tool-calling model expects.
type ToolCatalog struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Result is the outcome of one completed (possibly multi-chunk, if
// streamed) model turn.
type Result struct {
	Message          models.Message
	PromptTokens      int64
	CompletionTokens int64
	FinishReason     string
}

// Complete performs one non-streaming chat-completions call, retrying on
// transient failure per the shared backoff formula, and records token
// usage and rate-limiter occupancy around the call.
func (c *Client) Complete(ctx context.Context, cfg CallConfig, messages []models.Message, tools []ToolCatalog) (Result, error) {
	req := buildRequest(cfg.Model, messages, tools, false)

	var lastErr error
	for attempt := 0; attempt <= ExtraRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDuration(attempt)
			if c.bus != nil {
				c.bus.Emit(eventbus.TopicLLMRetry, eventbus.Event{
					Message: fmt.Sprintf("retry %d/%d after %s: %v", attempt, ExtraRetries, wait, lastErr),
				})
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		result, err := c.doComplete(ctx, cfg, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return Result{}, fmt.Errorf("chat completion failed: %w", lastErr)
		}
	}

	return Result{}, fmt.Errorf("chat completion failed after %d attempts: %w", ExtraRetries+1, lastErr)
}

func (c *Client) doComplete(ctx context.Context, cfg CallConfig, req chatRequest) (Result, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.limiter.Release()

	httpReq, err := c.newRequest(ctx, cfg, req)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, &statusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 500)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("chat completions: no choices in response")
	}

	c.accountant.Record(cfg.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	choice := parsed.Choices[0]
	return Result{
		Message:          toModelMessage(choice.Message),
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		FinishReason:     choice.FinishReason,
	}, nil
}

// CompleteStream performs a streaming chat-completions call, accumulating
// per-index tool-call fragments with toolCallAccumulator (the OpenAI
// analogue of a comparable StreamProcessor), and calling onText for each
// incremental content fragment as it arrives.
func (c *Client) CompleteStream(ctx context.Context, cfg CallConfig, messages []models.Message, tools []ToolCatalog, onText func(string)) (Result, error) {
	req := buildRequest(cfg.Model, messages, tools, true)

	var lastErr error
	for attempt := 0; attempt <= ExtraRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDuration(attempt)
			if c.bus != nil {
				c.bus.Emit(eventbus.TopicLLMRetry, eventbus.Event{
					Message: fmt.Sprintf("retry %d/%d after %s: %v", attempt, ExtraRetries, wait, lastErr),
				})
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		result, err := c.doCompleteStream(ctx, cfg, req, onText)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return Result{}, fmt.Errorf("streaming chat completion failed: %w", lastErr)
		}
	}

	return Result{}, fmt.Errorf("streaming chat completion failed after %d attempts: %w", ExtraRetries+1, lastErr)
}

func (c *Client) doCompleteStream(ctx context.Context, cfg CallConfig, req chatRequest, onText func(string)) (Result, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.limiter.Release()

	httpReq, err := c.newRequest(ctx, cfg, req)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, &statusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 500)}
	}

	acc := newToolCallAccumulator()
	var text strings.Builder
	var finishReason string
	var usg usage

	scanner := bufio.NewScanner(resp.Body)
	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, maxLine), maxLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // malformed chunk; skip rather than abort the whole stream
		}
		if chunk.Usage != nil {
			usg = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onText != nil {
				onText(choice.Delta.Content)
			}
		}
		for _, td := range choice.Delta.ToolCalls {
			acc.Add(td)
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("read stream: %w", err)
	}

	c.accountant.Record(cfg.Model, usg.PromptTokens, usg.CompletionTokens)

	msg := models.Message{Role: models.RoleAssistant, Content: text.String()}
	if !acc.Empty() {
		msg.ToolCalls = toModelToolCalls(acc.ToolCalls())
	}

	return Result{
		Message:          msg,
		PromptTokens:     usg.PromptTokens,
		CompletionTokens: usg.CompletionTokens,
		FinishReason:     finishReason,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, cfg CallConfig, req chatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if cfg.Credential != nil {
		token, err := cfg.Credential.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	return httpReq, nil
}

func buildRequest(model string, messages []models.Message, tools []ToolCatalog, stream bool) chatRequest {
	wireMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  toWireToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
		})
	}

	wireTools := make([]toolSpec, 0, len(tools))
	for _, t := range tools {
		wireTools = append(wireTools, toolSpec{
			Type: "function",
			Function: functionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return chatRequest{
		Model:    model,
		Messages: wireMessages,
		Tools:    wireTools,
		Stream:   stream,
	}
}

func toWireToolCalls(calls []models.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wireToolCall, len(calls))
	for i, c := range calls {
		out[i] = wireToolCall{
			ID:   c.ID,
			Type: "function",
			Function: wireFunctionCall{
				Name:      c.Name,
				Arguments: string(c.Arguments),
			},
		}
	}
	return out
}

func toModelToolCalls(calls []wireToolCall) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = models.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: json.RawMessage(c.Function.Arguments),
		}
	}
	return out
}

func toModelMessage(m chatMessage) models.Message {
	return models.Message{
		Role:       models.Role(m.Role),
		Content:    m.Content,
		ToolCalls:  toModelToolCalls(m.ToolCalls),
		ToolCallID: m.ToolCallID,
	}
}

// backoffDuration implements 1000ms × 2^attempt + jitter in [0, 500ms).
func backoffDuration(attempt int) time.Duration {
	base := backoffBase * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(backoffJitterMax)))
	return base + jitter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Summarize implements contextmgr.Summarizer, letting the Client double as
// the context manager's summarization backend, using the defaults it was
// constructed with. transcript is already rendered and capped by the
// caller; Summarize only supplies the preservation instructions.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := models.User(
		"Summarize the conversation transcript below in a few dense paragraphs. " +
			"The summary replaces the transcript for a continuation, so it must preserve: " +
			"(1) the original task, (2) subtask plans and their outcomes, " +
			"(3) architectural decisions made along the way, (4) unresolved issues or open questions, " +
			"and (5) the names of files created or modified. Omit pleasantries and restate only what a " +
			"continuation would need.\n\n" + transcript,
	)
	result, err := c.Complete(ctx, c.defaults, []models.Message{prompt}, nil)
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}
