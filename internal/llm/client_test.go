package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// fakeChatServer returns a minimal OpenAI-compatible /chat/completions
// endpoint so OpenAIClient can be exercised without a real network call.
func fakeChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := openai.ChatCompletionResponse{
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIClientCompleteReturnsFirstChoice(t *testing.T) {
	t.Parallel()
	srv := fakeChatServer(t, `{"decision":"no_trade","confidence":0.0}`)
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, "gpt-4o-mini", discardLogger())
	out, err := c.Complete(context.Background(), Director.SystemPrompt, "recent history: flat")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"decision":"no_trade","confidence":0.0}` {
		t.Errorf("got %q", out)
	}
}

func TestOpenAIClientCompleteErrorsOnEmptyChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, "gpt-4o-mini", discardLogger())
	_, err := c.Complete(context.Background(), "sys", "input")
	if err == nil {
		t.Fatal("expected an error for an empty choices response")
	}
}
