package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opencoder/swarm/internal/eventbus"
	"github.com/opencoder/swarm/internal/ratelimit"
	"github.com/opencoder/swarm/internal/tokens"
	"github.com/opencoder/swarm/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 4, MaxCallsPerHour: 1000}, nil, "test")
	accountant := tokens.New(nil)
	c := New(limiter, accountant, nil, CallConfig{Model: "test-model", BaseURL: srv.URL})
	return c, srv
}

func TestCompleteReturnsAssistantMessage(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "hello"}, FinishReason: "stop"}},
			Usage:   usage{PromptTokens: 10, CompletionTokens: 5},
		}
		json.NewEncoder(w).Encode(resp)
	})

	got, err := c.Complete(context.Background(), CallConfig{Model: "test-model", BaseURL: srv.URL}, []models.Message{models.User("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Message.Content != "hello" {
		t.Fatalf("expected 'hello', got %q", got.Message.Content)
	}
	if got.PromptTokens != 10 || got.CompletionTokens != 5 {
		t.Fatalf("unexpected token counts: %+v", got)
	}
}

func TestCompleteRecordsTokensInAccountant(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 4, MaxCallsPerHour: 1000}, nil, "test")
	bus := eventbus.New()
	accountant := tokens.New(bus)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "ok"}, FinishReason: "stop"}},
			Usage:   usage{PromptTokens: 20, CompletionTokens: 8},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c := New(limiter, accountant, bus, CallConfig{Model: "m", BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), CallConfig{Model: "m", BaseURL: srv.URL}, []models.Message{models.User("x")}, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got := accountant.Usage()
	if got.PromptTokens != 20 || got.CompletionTokens != 8 {
		t.Fatalf("expected accountant to record usage, got %+v", got)
	}
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "recovered"}}}}
		json.NewEncoder(w).Encode(resp)
	})

	got, err := c.Complete(context.Background(), CallConfig{Model: "m", BaseURL: srv.URL}, []models.Message{models.User("x")}, nil)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got.Message.Content != "recovered" {
		t.Fatalf("expected 'recovered', got %q", got.Message.Content)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestCompleteDoesNotRetryOnBadRequest(t *testing.T) {
	var attempts atomic.Int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("unknown model"))
	})

	_, err := c.Complete(context.Background(), CallConfig{Model: "bogus", BaseURL: srv.URL}, []models.Message{models.User("x")}, nil)
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts.Load())
	}
}

func TestIsRetryableClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&statusError{StatusCode: http.StatusTooManyRequests}, true},
		{&statusError{StatusCode: http.StatusInternalServerError}, true},
		{&statusError{StatusCode: http.StatusBadGateway}, true},
		{&statusError{StatusCode: http.StatusBadRequest}, false},
		{&statusError{StatusCode: http.StatusUnauthorized}, false},
		{&statusError{StatusCode: http.StatusNotFound}, false},
		{fmt.Errorf("wrapped: %w", &statusError{StatusCode: http.StatusBadRequest}), false},
		{errors.New("connection reset"), true},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCompleteFailsAfterExhaustingRetries(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Complete(context.Background(), CallConfig{Model: "m", BaseURL: srv.URL}, []models.Message{models.User("x")}, nil)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestSummarizeRequestsPreservationOfKeyFacts(t *testing.T) {
	var captured chatRequest
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		resp := chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "recap"}, FinishReason: "stop"}},
		}
		json.NewEncoder(w).Encode(resp)
	})
	_ = srv

	summary, err := c.Summarize(context.Background(), "[user]: build a thing\n[assistant]: ok, done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "recap" {
		t.Fatalf("expected 'recap', got %q", summary)
	}
	if len(captured.Messages) != 1 {
		t.Fatalf("expected exactly one message sent, got %d", len(captured.Messages))
	}
	prompt := captured.Messages[0].Content
	for _, want := range []string{"original task", "subtask plans", "architectural decisions", "unresolved issues", "file"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected the summarization prompt to mention %q, got %q", want, prompt)
		}
	}
	if !strings.Contains(prompt, "[user]: build a thing") {
		t.Fatalf("expected the rendered transcript to be included in the prompt, got %q", prompt)
	}
}

func TestCompleteSendsToolCatalogAndToolCalls(t *testing.T) {
	var captured chatRequest
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		resp := chatResponse{Choices: []chatChoice{{
			Message: chatMessage{
				Role: "assistant",
				ToolCalls: []wireToolCall{{
					ID:   "call_1",
					Type: "function",
					Function: wireFunctionCall{Name: "read_file", Arguments: `{"path":"a.go"}`},
				}},
			},
		}}}
		json.NewEncoder(w).Encode(resp)
	})

	tools := []ToolCatalog{{Name: "read_file", Description: "reads a file", Parameters: json.RawMessage(`{"type":"object"}`)}}
	got, err := c.Complete(context.Background(), CallConfig{Model: "m", BaseURL: srv.URL}, []models.Message{models.User("x")}, tools)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "read_file" {
		t.Fatalf("expected tool catalog forwarded, got %+v", captured.Tools)
	}
	if len(got.Message.ToolCalls) != 1 || got.Message.ToolCalls[0].Name != "read_file" {
		t.Fatalf("expected tool call parsed back, got %+v", got.Message.ToolCalls)
	}
}

func TestCompleteStreamAccumulatesToolCallsByIndex(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 4, MaxCallsPerHour: 1000}, nil, "test")
	accountant := tokens.New(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		writeChunk := func(c chatStreamChunk) {
			b, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}

		writeChunk(chatStreamChunk{Choices: []streamChoice{{Delta: streamDelta{Content: "thinking... "}}}})
		writeChunk(chatStreamChunk{Choices: []streamChoice{{Delta: streamDelta{ToolCalls: []streamToolCallDelta{
			{Index: 0, ID: "call_a", Function: streamFunctionDelta{Name: "read_file"}},
		}}}}})
		writeChunk(chatStreamChunk{Choices: []streamChoice{{Delta: streamDelta{ToolCalls: []streamToolCallDelta{
			{Index: 0, Function: streamFunctionDelta{Arguments: `{"path":`}},
		}}}}})
		writeChunk(chatStreamChunk{Choices: []streamChoice{{Delta: streamDelta{ToolCalls: []streamToolCallDelta{
			{Index: 0, Function: streamFunctionDelta{Arguments: `"a.go"}`}},
		}}}}})
		writeChunk(chatStreamChunk{Choices: []streamChoice{{FinishReason: "tool_calls"}}})
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)

	c := New(limiter, accountant, nil, CallConfig{Model: "m", BaseURL: srv.URL})

	var streamed string
	got, err := c.CompleteStream(context.Background(), CallConfig{Model: "m", BaseURL: srv.URL}, []models.Message{models.User("x")}, nil, func(s string) {
		streamed += s
	})
	if err != nil {
		t.Fatalf("complete stream: %v", err)
	}

	if streamed != "thinking... " {
		t.Fatalf("expected streamed text callback, got %q", streamed)
	}
	if len(got.Message.ToolCalls) != 1 {
		t.Fatalf("expected exactly one accumulated tool call, got %d", len(got.Message.ToolCalls))
	}
	tc := got.Message.ToolCalls[0]
	if tc.Name != "read_file" || string(tc.Arguments) != `{"path":"a.go"}` {
		t.Fatalf("expected accumulated tool call, got %+v", tc)
	}
	if got.FinishReason != "tool_calls" {
		t.Fatalf("expected finish reason carried through, got %q", got.FinishReason)
	}
}

func TestCompleteStreamSkipsMalformedChunks(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 4, MaxCallsPerHour: 1000}, nil, "test")
	accountant := tokens.New(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bw := bufio.NewWriter(w)
		fmt.Fprint(bw, "data: not json at all\n\n")
		chunk, _ := json.Marshal(chatStreamChunk{Choices: []streamChoice{{Delta: streamDelta{Content: "ok"}}}})
		fmt.Fprintf(bw, "data: %s\n\n", chunk)
		fmt.Fprint(bw, "data: [DONE]\n\n")
		bw.Flush()
	}))
	t.Cleanup(srv.Close)

	c := New(limiter, accountant, nil, CallConfig{Model: "m", BaseURL: srv.URL})
	got, err := c.CompleteStream(context.Background(), CallConfig{Model: "m", BaseURL: srv.URL}, []models.Message{models.User("x")}, nil, nil)
	if err != nil {
		t.Fatalf("complete stream: %v", err)
	}
	if got.Message.Content != "ok" {
		t.Fatalf("expected malformed chunk to be skipped and valid one kept, got %q", got.Message.Content)
	}
}
